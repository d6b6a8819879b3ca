package model

import (
	"errors"
	"time"
)

// ErrInvalidArgument is returned when a required request parameter is
// missing or empty.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrorResponse is the error body written by the relay.
//
// The error message sits at the top level ("error": "...") because the
// monitoring and focus clients already in the field read that key; code and
// request_id are additive.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidArgument = "INVALID_ARGUMENT"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInternalError   = "INTERNAL_ERROR"
	ErrCodeRateLimited     = "RATE_LIMITED"
)

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	OK          bool      `json:"ok"`
	Version     string    `json:"version"`
	Connections int       `json:"connections"`
	Sessions    int       `json:"sessions"`
	Uptime      int64     `json:"uptime_seconds"`
	Timestamp   time.Time `json:"timestamp"`
}
