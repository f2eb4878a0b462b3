package clients

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned without touching the network while a source's
// circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// APIError is a terminal non-2xx response after retries are exhausted or
// were never applicable.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s %s returned %d", e.Method, e.URL, e.StatusCode)
}

// TransportError is a connection or timeout failure that survived all retry
// attempts.
type TransportError struct {
	Attempts int
	Method   string
	URL      string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s %s failed after %d attempts: %v", e.Method, e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the HTTP status from an APIError in the chain.
func StatusCode(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}
