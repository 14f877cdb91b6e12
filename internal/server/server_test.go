package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adxsync/config"
	"adxsync/internal/metadata"
	"adxsync/internal/metrics"
	"adxsync/internal/pipeline"
	"adxsync/reader"
)

type stubRunner struct {
	body []byte
	err  error
}

func (s *stubRunner) Run(ctx context.Context) (*pipeline.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &pipeline.Result{Response: &reader.Response{StatusCode: http.StatusOK, Body: s.body}}, nil
}

func newTestServer(t *testing.T, runner Runner, opts Options) http.Handler {
	t.Helper()
	srv := NewServer(runner, opts)
	t.Cleanup(srv.Close)
	return srv.Handler()
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                         "0.0.0.0:8080",
		"  :9090  ":                "0.0.0.0:9090",
		"localhost":                "localhost:8080",
		"0.0.0.0:80":               "0.0.0.0:80",
		"[::1]:443":                "[::1]:443",
		"::1":                      "[::1]:8080",
		"*:8080":                   "0.0.0.0:8080",
		"http://10.0.0.5:8080":     "10.0.0.5:8080",
		"https://10.0.0.5":         "10.0.0.5:8080",
		"http://:7070":             "0.0.0.0:7070",
		"https://adx.example.com/": "adx.example.com:8080",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestDataReturnsUpstreamBodyVerbatim(t *testing.T) {
	body := []byte(`[{"date":"2024-01-02","app":"广告","html":"<b>"}]`)
	h := newTestServer(t, &stubRunner{body: body}, Options{})

	rec := serve(h, http.MethodGet, "/api/data")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, rec.Body.Bytes())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestDataFailureEnvelope(t *testing.T) {
	runErr := &reader.StatusError{StatusCode: 503, Status: "503 Service Unavailable"}
	h := newTestServer(t, &stubRunner{err: runErr}, Options{})

	rec := serve(h, http.MethodGet, "/api/data")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var envelope map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, fetchFailedMessage, envelope["message"])
	assert.Equal(t, runErr.Error(), envelope["error"])
}

func TestPreflight(t *testing.T) {
	h := newTestServer(t, &stubRunner{}, Options{})

	rec := serve(h, http.MethodOptions, "/api/data")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestMetadataEndpoint(t *testing.T) {
	dir := t.TempDir()
	h := newTestServer(t, &stubRunner{}, Options{DataDir: dir})

	rec := serve(h, http.MethodGet, "/api/metadata")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := metadata.Write(dir, []string{"latest.json"}, time.Now())
	require.NoError(t, err)

	rec = serve(h, http.MethodGet, "/api/metadata")
	require.Equal(t, http.StatusOK, rec.Code)

	var desc metadata.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &desc))
	assert.Equal(t, []string{"latest.json"}, desc.FilesUpdated)
	assert.Equal(t, 1, desc.TotalFiles)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, &stubRunner{body: []byte(`[]`)}, Options{
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2},
	})

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/data").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/data").Code)

	rec := serve(h, http.MethodGet, "/api/data")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestMetricsEndpoint(t *testing.T) {
	counters := metrics.NewCounters()
	h := newTestServer(t, &stubRunner{}, Options{Counters: counters})

	metrics.EmitMetric(nil, "pipeline", metrics.FetchFailures, 2, "", nil)

	rec := serve(h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `adxsync_fetch_failures_total{component="pipeline"} 2`))
}

func TestEventsEndpoint(t *testing.T) {
	h := newTestServer(t, &stubRunner{}, Options{EventHistory: 2})

	metrics.EmitMetric(nil, "pipeline", metrics.RecordsFetched, 1, "", nil)
	metrics.EmitMetric(nil, "pipeline", metrics.FilesWritten, 2, "", nil)
	metrics.EmitMetric(nil, "pipeline", metrics.FilesWritten, 3, "", nil)

	rec := serve(h, http.MethodGet, "/api/events")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Events []struct {
			Name  string  `json:"name"`
			Value float64 `json:"value"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Events, 2)
	assert.Equal(t, 2.0, payload.Events[0].Value)
	assert.Equal(t, 3.0, payload.Events[1].Value)
}

func TestEventStoreLimit(t *testing.T) {
	store := newEventStore(2)
	for i := 0; i < 5; i++ {
		store.handle(metrics.Metric{Timestamp: time.Unix(int64(i), 0), Name: "metric", Value: i})
	}

	snapshot := store.snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, 3, snapshot[0].Value)
	assert.Equal(t, 4, snapshot[1].Value)
}
