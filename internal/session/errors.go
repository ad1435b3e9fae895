package session

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidURL is returned for a malformed instance or request URL.
	ErrInvalidURL = errors.New("invalid url")
	// ErrAuthRequired means the hub rejected the stored credential, or a
	// request was still unauthorized after one token refresh.
	ErrAuthRequired = errors.New("authentication required")
	// ErrNoCredential means no secret is stored for the instance.
	ErrNoCredential = errors.New("no stored credential")
)

// APIError is a non-2xx response whose body carried a hub error message.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d from %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// IsRetryable reports whether the hub may succeed on a later attempt.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// HTTPError is a non-2xx response without a parseable error body.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// StatusCode extracts the HTTP status from an APIError or HTTPError in err's
// chain, or returns 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsRetryable reports whether err carries a server-side or rate-limit
// failure that is worth retrying before the next scheduled refresh.
func IsRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	return errors.As(err, &r) && r.IsRetryable()
}
