// Package relay provides a Go client for the Cramsino presence relay: a
// status query client for focus readers and a websocket Publisher for
// monitoring clients.
package relay

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents an error from the relay with the HTTP status code and the
// server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound reports whether nothing was ever published for the client_id.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsInvalidArgument reports whether the request was rejected as malformed,
// e.g. an empty client_id.
func IsInvalidArgument(err error) bool {
	return hasStatus(err, http.StatusBadRequest)
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	return hasStatus(err, http.StatusTooManyRequests)
}

func hasStatus(err error, code int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == code
	}
	return false
}
