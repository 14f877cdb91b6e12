package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adxsync/internal/metadata"
	"adxsync/internal/window"
	"adxsync/logger"
)

var envVars = []string{
	"APP_ENV", "API_BASE_URL", "API_USERNAME", "API_PASSWORD",
	"API_ALLOW_FALLBACK_CREDENTIALS", "API_FALLBACK_USERNAME", "API_FALLBACK_PASSWORD",
	"DATA_DIR", "LOG_DIR", "LOG_LEVEL", "ADDR", "S3_ENABLED",
	"AWS_REGION", "AWS_PROFILE", "AWS_CONFIG_FILE", "AWS_SHARED_CREDENTIALS_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
	}
}

type passwordLog struct {
	mu   sync.Mutex
	seen []string
}

func (p *passwordLog) add(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, s)
}

func (p *passwordLog) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

// upstream echoes one record per requested day plus one outside the window.
func upstream(t *testing.T) (*httptest.Server, *passwordLog) {
	t.Helper()
	passwords := &passwordLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		passwords.add(q.Get("password"))
		fmt.Fprintf(w, `[{"date":%q,"v":1},{"date":%q,"v":2},{"date":"2001-01-01","v":3}]`,
			q.Get("to_date"), q.Get("from_date"))
	}))
	t.Cleanup(srv.Close)
	return srv, passwords
}

func failingUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, baseURL, dataDir, logDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	content := fmt.Sprintf(`{
  "api": {"base_url": %q, "username": "cfg-user", "password": "cfg-pass"},
  "storage": {"data_directory": %q, "log_directory": %q},
  "logging": {"retention_days": 30}
}`, baseURL, dataDir, logDir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRunConfigJobWritesFilesAndLog(t *testing.T) {
	clearEnv(t)
	srv, passwords := upstream(t)
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	logDir := filepath.Join(root, "logs")

	require.NoError(t, os.MkdirAll(logDir, 0o755))
	stale := filepath.Join(logDir, "data_sync_20000101.log")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	var out bytes.Buffer
	code := RunConfigJob(context.Background(), writeConfig(t, srv.URL, dataDir, logDir), &out)
	require.Equal(t, ExitOK, code, out.String())

	win := window.Resolve(time.Now())
	assert.FileExists(t, filepath.Join(dataDir, "latest.json"))
	assert.FileExists(t, filepath.Join(dataDir, "data_"+win.To()+".json"))
	assert.FileExists(t, filepath.Join(dataDir, "data_"+win.From()+".json"))
	assert.NoFileExists(t, filepath.Join(dataDir, "data_2001-01-01.json"))

	desc, err := metadata.Read(dataDir)
	require.NoError(t, err)
	assert.Equal(t, 3, desc.TotalFiles)

	assert.FileExists(t, filepath.Join(logDir, logger.FileName(logger.DefaultFilePrefix, window.Now())))
	assert.NoFileExists(t, stale)

	assert.Equal(t, []string{"cfg-pass"}, passwords.all())
	assert.NotContains(t, out.String(), "cfg-pass")
}

func TestRunConfigJobWarnsWhenCloudWatchUnavailable(t *testing.T) {
	clearEnv(t)
	srv, _ := upstream(t)
	root := t.TempDir()

	emptyAWS := filepath.Join(root, "aws_config")
	require.NoError(t, os.WriteFile(emptyAWS, nil, 0o600))
	t.Setenv("AWS_CONFIG_FILE", emptyAWS)
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", emptyAWS)
	t.Setenv("AWS_PROFILE", "adxsync-missing-profile")

	path := filepath.Join(root, "config.json")
	content := fmt.Sprintf(`{
  "api": {"base_url": %q, "username": "u", "password": "p"},
  "storage": {"data_directory": %q, "log_directory": %q},
  "metrics": {"cloudwatch": {"enabled": true, "region": "us-east-1"}}
}`, srv.URL, filepath.Join(root, "data"), filepath.Join(root, "logs"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	var out bytes.Buffer
	require.Equal(t, ExitOK, RunConfigJob(context.Background(), path, &out), out.String())
	assert.Contains(t, out.String(), "CloudWatch metrics disabled")
}

func TestRunConfigJobMissingFile(t *testing.T) {
	clearEnv(t)
	var out bytes.Buffer
	code := RunConfigJob(context.Background(), filepath.Join(t.TempDir(), "absent.json"), &out)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out.String(), "failed to load configuration")
}

func TestRunConfigJobUpstreamFailure(t *testing.T) {
	clearEnv(t)
	srv := failingUpstream(t)
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")

	code := RunConfigJob(context.Background(), writeConfig(t, srv.URL, dataDir, filepath.Join(root, "logs")), io.Discard)
	assert.Equal(t, ExitFailure, code)
	assert.NoDirExists(t, dataDir)
}

func TestRunEnvJob(t *testing.T) {
	clearEnv(t)
	srv, _ := upstream(t)
	dataDir := filepath.Join(t.TempDir(), "public", "data")
	t.Setenv("API_BASE_URL", srv.URL)
	t.Setenv("API_USERNAME", "env-user")
	t.Setenv("API_PASSWORD", "env-pass")
	t.Setenv("DATA_DIR", dataDir)

	var out bytes.Buffer
	require.Equal(t, ExitOK, RunEnvJob(context.Background(), &out), out.String())
	assert.FileExists(t, filepath.Join(dataDir, "metadata.json"))
	assert.NotContains(t, out.String(), "env-pass")
}

func TestRunEnvJobRequiresCredentials(t *testing.T) {
	clearEnv(t)
	srv, passwords := upstream(t)
	t.Setenv("API_BASE_URL", srv.URL)
	t.Setenv("DATA_DIR", t.TempDir())

	var out bytes.Buffer
	assert.Equal(t, ExitFailure, RunEnvJob(context.Background(), &out))
	assert.Empty(t, passwords.all())
	assert.True(t, strings.Contains(out.String(), "API_USERNAME"))
}

func TestRunServerRequiresCredentials(t *testing.T) {
	clearEnv(t)
	assert.Equal(t, ExitFailure, RunServer(context.Background(), io.Discard))
}

func TestRunServerStopsOnCancel(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_USERNAME", "u")
	t.Setenv("API_PASSWORD", "p")
	t.Setenv("ADDR", "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, ExitOK, RunServer(ctx, io.Discard))
}
