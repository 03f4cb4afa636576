package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the Graph client.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, graph.ErrRateLimited) {
//	    // the request gave up while the service kept throttling
//	}
var (
	// ErrRateLimited is returned when a request still receives 429 after
	// exhausting its retry budget.
	ErrRateLimited = errors.New("rate limited by remote service")

	// ErrPaginationLoop is returned when a continuation link points back to
	// a page that was already fetched for the same listing.
	ErrPaginationLoop = errors.New("pagination loop detected")

	// ErrNoToken is returned when the token source yields an empty token.
	ErrNoToken = errors.New("no access token available")
)

// StatusError is a terminal non-2xx response.
type StatusError struct {
	Status int
	URL    string
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s returned %d %s", e.URL, e.Status, http.StatusText(e.Status))
	if e.Body != "" {
		msg += ": " + truncate(e.Body, 200)
	}
	return msg
}

// Unwrap maps 429 responses onto ErrRateLimited.
func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return nil
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsNotFound returns true if err is a 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsRetryable returns true if a later run is likely to succeed where this
// one failed: throttling and server-side errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	code := StatusCode(err)
	return code >= 500 || code == http.StatusUnauthorized
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
