// Package pipeline runs one sync: resolve the window, fetch, partition,
// write the snapshot files and the metadata index, then mirror them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"adxsync/config"
	"adxsync/internal/metadata"
	"adxsync/internal/metrics"
	"adxsync/internal/window"
	"adxsync/logger"
	"adxsync/processor"
	"adxsync/reader"
	"adxsync/writer"
)

// ErrNoRecords is returned in persist mode when upstream answers with an
// empty array. No file is touched in that case.
var ErrNoRecords = errors.New("upstream returned no records")

// Mode selects how much of the pipeline a run executes.
type Mode int

const (
	// ModePersist fetches and writes every file.
	ModePersist Mode = iota
	// ModeFetchOnly stops after the fetch.
	ModeFetchOnly
)

func (m Mode) String() string {
	switch m {
	case ModePersist:
		return "persist"
	case ModeFetchOnly:
		return "fetch_only"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Fetcher is the upstream client used by a run.
type Fetcher interface {
	Fetch(ctx context.Context, creds config.Credentials, from, to string) (*reader.Response, error)
}

// Mirror copies written files elsewhere after a persist run.
type Mirror interface {
	Upload(ctx context.Context, dir string, names []string) ([]string, error)
}

// Options parameterise a Pipeline.
type Options struct {
	Mode        Mode
	Credentials config.Credentials
	// DataDir is required in ModePersist.
	DataDir string
	Mirror  Mirror
	Log     *logger.Log
	// Now defaults to time.Now.
	Now func() time.Time
}

// Result describes a finished run.
type Result struct {
	RunID    string
	Mode     Mode
	Window   window.Window
	Response *reader.Response
	// Partitioned, Files and the fields below are only set in ModePersist.
	Partitioned *processor.Partitioned
	Files       []string
	WriteErr    error
	Metadata    *metadata.Descriptor
	MetadataErr error
	Uploaded    []string
	UploadErr   error
}

// Pipeline executes sync runs. It holds no state between runs.
type Pipeline struct {
	fetcher Fetcher
	opts    Options
}

func New(fetcher Fetcher, opts Options) (*Pipeline, error) {
	if fetcher == nil {
		return nil, errors.New("pipeline requires a fetcher")
	}
	if opts.Mode == ModePersist && opts.DataDir == "" {
		return nil, errors.New("pipeline requires a data directory in persist mode")
	}
	if opts.Log == nil {
		opts.Log = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{fetcher: fetcher, opts: opts}, nil
}

// Run executes one sync. A non-nil error means the fetch failed (or, when
// persisting, returned nothing) and no file was written. Failures after the
// fetch are reported in the Result only.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	win := window.Resolve(p.opts.Now())
	result := &Result{RunID: runID, Mode: p.opts.Mode, Window: win}

	log := p.opts.Log.WithComponent("pipeline").WithFields(logger.Fields{
		"run_id": runID,
		"mode":   p.opts.Mode.String(),
	})
	metricFields := logger.Fields{"run_id": runID, "mode": p.opts.Mode.String()}

	log.WithFields(logger.Fields{
		"from_date": win.From(),
		"to_date":   win.To(),
	}).Info("sync run started")

	resp, err := p.fetcher.Fetch(ctx, p.opts.Credentials, win.From(), win.To())
	if err != nil {
		log.WithError(err).Error("fetch failed")
		metrics.EmitMetric(p.opts.Log, "pipeline", metrics.FetchFailures, 1, metrics.TypeCounter, metricFields)
		return result, fmt.Errorf("fetch %s: %w", win, err)
	}
	result.Response = resp
	metrics.EmitMetric(p.opts.Log, "pipeline", metrics.RecordsFetched, len(resp.Records), metrics.TypeCounter, metricFields)

	if p.opts.Mode == ModeFetchOnly {
		log.WithField("records", len(resp.Records)).Info("sync run finished")
		return result, nil
	}

	if len(resp.Records) == 0 {
		log.Warn("no records returned; leaving files untouched")
		return result, ErrNoRecords
	}

	parts := processor.Partition(resp.Records)
	result.Partitioned = parts
	if parts.Skipped() > 0 {
		log.WithField("skipped", parts.Skipped()).Debug("dropped records without a date")
	}

	written := writer.NewFileWriter(p.opts.DataDir, p.opts.Log).Persist(parts, win)
	result.Files = written.Files
	result.WriteErr = written.Err
	metrics.EmitMetric(p.opts.Log, "pipeline", metrics.FilesWritten, len(written.Files), metrics.TypeCounter, metricFields)
	if written.Err != nil {
		failed := 1
		var merr *multierror.Error
		if errors.As(written.Err, &merr) {
			failed = len(merr.Errors)
		}
		metrics.EmitMetric(p.opts.Log, "pipeline", metrics.FileWriteErrors, failed, metrics.TypeCounter, metricFields)
	}

	desc, err := metadata.Write(p.opts.DataDir, written.Files, p.opts.Now())
	if err != nil {
		log.WithError(err).Error("failed to write metadata")
		result.MetadataErr = err
	} else {
		result.Metadata = &desc
	}

	if p.opts.Mirror != nil {
		names := append([]string{}, written.Files...)
		if result.Metadata != nil {
			names = append(names, metadata.FileName)
		}
		uploaded, err := p.opts.Mirror.Upload(ctx, p.opts.DataDir, names)
		result.Uploaded = uploaded
		result.UploadErr = err
		if err != nil {
			log.WithError(err).Warn("mirror upload incomplete")
			metrics.EmitMetric(p.opts.Log, "pipeline", metrics.UploadErrors, len(names)-len(uploaded), metrics.TypeCounter, metricFields)
		}
	}

	log.WithFields(logger.Fields{
		"records":       len(resp.Records),
		"dates":         len(parts.Dates()),
		"files_updated": len(written.Files),
	}).Info("sync run finished")
	return result, nil
}
