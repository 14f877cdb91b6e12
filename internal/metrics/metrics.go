// Package metrics carries sync-run metric events to the log, Prometheus and
// optionally CloudWatch.
//
// Registers:
//
//	#adxsync_records_fetched_total
//	#adxsync_files_written_total
//	#adxsync_file_write_errors_total
//	#adxsync_fetch_failures_total
//	#adxsync_upload_errors_total
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const TypeCounter = "counter"

// Metric names emitted by the pipeline.
const (
	RecordsFetched  = "records_fetched"
	FilesWritten    = "files_written"
	FileWriteErrors = "file_write_errors"
	FetchFailures   = "fetch_failures"
	UploadErrors    = "upload_errors"
)

var counterHelp = map[string]string{
	RecordsFetched:  "Number of records received from the upstream API",
	FilesWritten:    "Number of snapshot files written",
	FileWriteErrors: "Number of snapshot files that could not be written",
	FetchFailures:   "Number of failed upstream fetches",
	UploadErrors:    "Number of files that could not be mirrored to S3",
}

// Counters mirrors counter events into Prometheus counters labelled by
// component.
type Counters struct {
	registry *prometheus.Registry
	counters map[string]*prometheus.CounterVec
}

// NewCounters creates a registry with the pipeline counters plus the Go and
// process collectors.
func NewCounters() *Counters {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Counters{registry: reg, counters: make(map[string]*prometheus.CounterVec, len(counterHelp))}
	for name, help := range counterHelp {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adxsync",
			Name:      name + "_total",
			Help:      help,
		}, []string{"component"})
		reg.MustRegister(vec)
		c.counters[name] = vec
	}
	return c
}

// Registry is the gatherer to expose over HTTP.
func (c *Counters) Registry() *prometheus.Registry { return c.registry }

// Handle adds a counter event to its Prometheus counter. Unknown names,
// non-counter types and non-numeric or negative values are ignored.
func (c *Counters) Handle(m Metric) {
	if m.Type != TypeCounter {
		return
	}
	vec, ok := c.counters[m.Name]
	if !ok {
		return
	}
	v, ok := toFloat64(m.Value)
	if !ok || v < 0 {
		return
	}
	vec.WithLabelValues(m.Component).Add(v)
}

// Register subscribes c to emitted metrics. Call the returned function to
// unsubscribe.
func (c *Counters) Register() func() {
	id := RegisterMetricHandler(c.Handle)
	return func() { UnregisterMetricHandler(id) }
}
