package relay

import (
	"encoding/json"
	"time"
)

// Status is the attention state a monitoring client reports.
type Status struct {
	FacePresent    bool `json:"face_present"`
	LookingForward bool `json:"looking_forward"`
	Talking        bool `json:"talking"`
	Distracted     bool `json:"distracted"`
}

// StatusRecord is the latest status the relay holds for a client_id.
// Raw keeps the status object exactly as published; Status is its decoded
// boolean view, with missing or non-boolean fields read as false.
type StatusRecord struct {
	ClientID  string
	Status    Status
	Raw       json.RawMessage
	UpdatedAt time.Time
}

// Age returns how long ago the record was published, relative to now.
func (r StatusRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.UpdatedAt)
}

// Health is the relay's GET /health response.
type Health struct {
	OK            bool      `json:"ok"`
	Version       string    `json:"version"`
	Connections   int       `json:"connections"`
	Sessions      int       `json:"sessions"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

type wireRecord struct {
	ClientID  string          `json:"client_id"`
	Status    json.RawMessage `json:"status"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type wireError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
