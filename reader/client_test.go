package reader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adxsync/config"
)

var testCreds = config.Credentials{Username: "adx-user", Password: "s3cr3t-pass"}

func TestFetchSendsRangeAndCredentials(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		got = map[string]string{
			"username":  q.Get("username"),
			"password":  q.Get("password"),
			"from_date": q.Get("from_date"),
			"to_date":   q.Get("to_date"),
		}
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"date":"2024-01-02","clicks":3},{"date":"2024-01-01"}]`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL + "/get_adx")
	require.NoError(t, err)

	resp, err := client.Fetch(context.Background(), testCreds, "2024-01-01", "2024-01-02")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"username":  "adx-user",
		"password":  "s3cr3t-pass",
		"from_date": "2024-01-01",
		"to_date":   "2024-01-02",
	}, got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, resp.Records, 2)
	assert.Equal(t, "2024-01-02", resp.Records[0].Date)
	assert.Contains(t, string(resp.Body), `"clicks":3`)
}

func TestFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), testCreds, "2024-01-01", "2024-01-02")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "boom", statusErr.Snippet)
}

func TestFetchDecodeError(t *testing.T) {
	for name, body := range map[string]string{
		"html":   "<html>maintenance</html>",
		"object": `{"error":"bad credentials"}`,
		"empty":  "",
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			client, err := NewClient(srv.URL)
			require.NoError(t, err)

			_, err = client.Fetch(context.Background(), testCreds, "2024-01-01", "2024-01-02")
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
		})
	}
}

func TestFetchTimeoutIsTransportErrorWithoutSecrets(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), testCreds, "2024-01-01", "2024-01-02")
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.NotContains(t, err.Error(), testCreds.Password)
	assert.NotContains(t, err.Error(), "password=")
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client, err := NewClient(addr + "/?token=abc")
	require.NoError(t, err)
	assert.False(t, strings.Contains(client.Endpoint(), "token"))

	_, err = client.Fetch(context.Background(), testCreds, "2024-01-01", "2024-01-02")
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.NotContains(t, err.Error(), testCreds.Password)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("   ")
	require.Error(t, err)
	_, err = NewClient("not a url")
	require.Error(t, err)
}
