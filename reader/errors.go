package reader

import (
	"fmt"
)

// TransportError reports that no HTTP response was received: connection
// failures, timeouts and cancellation. The request URL is never included
// because it carries credentials in its query string.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Status     string
	// Snippet is the start of the response body, for diagnostics.
	Snippet string
}

func (e *StatusError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("upstream returned %s", e.Status)
	}
	return fmt.Sprintf("upstream returned %s: %s", e.Status, e.Snippet)
}

// DecodeError reports a 2xx response whose body is not a JSON array.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode upstream response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
