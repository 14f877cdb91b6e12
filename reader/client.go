// Package reader fetches daily ADX records from the upstream report API.
package reader

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"adxsync/config"
	"adxsync/logger"
	"adxsync/models"
)

const snippetLimit = 200

// Response is a successful upstream reply.
type Response struct {
	StatusCode int
	// Body is the payload exactly as received.
	Body    []byte
	Records []models.Record
}

// Client issues the single range query a sync run needs. It never retries.
type Client struct {
	baseURL  string
	endpoint string
	rest     *resty.Client
	log      *logger.Log
}

// Option customises a Client.
type Option func(*options)

type options struct {
	timeout    time.Duration
	httpClient *http.Client
	userAgent  string
	log        *logger.Log
}

// WithTimeout overrides the request timeout (config.DefaultTimeout).
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithHTTPClient sets the underlying HTTP client, e.g. one bound to a test
// server.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithUserAgent sets the User-Agent header sent upstream.
func WithUserAgent(agent string) Option {
	return func(o *options) { o.userAgent = agent }
}

// WithLogger attaches a logger; without one the client is silent.
func WithLogger(log *logger.Log) Option {
	return func(o *options) { o.log = log }
}

// NewClient returns a Client for baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("upstream base URL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil, errors.New("upstream base URL is invalid")
	}

	o := options{timeout: config.DefaultTimeout, userAgent: "adxsync"}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.log == nil {
		o.log = logger.Discard()
	}

	var rest *resty.Client
	if o.httpClient != nil {
		rest = resty.NewWithClient(o.httpClient)
	} else {
		rest = resty.New()
	}
	rest.SetTimeout(o.timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", o.userAgent).
		SetLogger(o.log.WithComponent("reader"))

	return &Client{
		baseURL:  baseURL,
		endpoint: redact(parsed),
		rest:     rest,
		log:      o.log,
	}, nil
}

// Endpoint is the base URL with any query string removed, safe to log.
func (c *Client) Endpoint() string { return c.endpoint }

// Fetch requests all records dated between from and to (inclusive,
// YYYY-MM-DD). Failures are *TransportError, *StatusError or *DecodeError.
func (c *Client) Fetch(ctx context.Context, creds config.Credentials, from, to string) (*Response, error) {
	log := c.log.WithComponent("reader").WithFields(logger.Fields{
		"endpoint":  c.endpoint,
		"from_date": from,
		"to_date":   to,
	})
	log.Info("fetching records")

	start := time.Now()
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"username":  creds.Username,
			"password":  creds.Password,
			"from_date": from,
			"to_date":   to,
		}).
		Get(c.baseURL)
	if err != nil {
		return nil, &TransportError{Endpoint: c.endpoint, Err: stripURL(err)}
	}

	if !resp.IsSuccess() {
		return nil, &StatusError{
			StatusCode: resp.StatusCode(),
			Status:     resp.Status(),
			Snippet:    snippet(resp.Body()),
		}
	}

	body := resp.Body()
	records, err := models.ParseRecords(body)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	log.WithFields(logger.Fields{
		"status":      resp.StatusCode(),
		"records":     len(records),
		"bytes":       len(body),
		"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
	}).Info("fetched records")

	return &Response{StatusCode: resp.StatusCode(), Body: body, Records: records}, nil
}

// stripURL drops the *url.Error wrapper, whose message embeds the full
// request URL including the password.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

func redact(u *url.URL) string {
	clean := *u
	clean.RawQuery = ""
	clean.Fragment = ""
	clean.User = nil
	return clean.String()
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > snippetLimit {
		s = s[:snippetLimit] + "..."
	}
	return s
}
