// Package model defines the wire and domain types shared by the relay, the
// focus client and the SDK.
package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Status is the attention state reported by a monitoring client.
type Status struct {
	FacePresent    bool `json:"face_present"`
	LookingForward bool `json:"looking_forward"`
	Talking        bool `json:"talking"`
	Distracted     bool `json:"distracted"`
}

// StatusRecord is the latest status stored for one client_id.
//
// Status is kept exactly as the publisher sent it; the relay never
// reinterprets it.
type StatusRecord struct {
	ClientID  string          `json:"client_id"`
	Status    json.RawMessage `json:"status"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Flags decodes the boolean attention flags. Missing or non-boolean fields
// read as false, so a partially-formed status never reports talking or
// distracted by accident.
func (r StatusRecord) Flags() Status {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(r.Status, &raw); err != nil {
		return Status{}
	}
	flag := func(key string) bool {
		var b bool
		if v, ok := raw[key]; ok {
			_ = json.Unmarshal(v, &b)
		}
		return b
	}
	return Status{
		FacePresent:    flag("face_present"),
		LookingForward: flag("looking_forward"),
		Talking:        flag("talking"),
		Distracted:     flag("distracted"),
	}
}

// IngestFrame is one text frame sent by a monitoring client over the
// ingest websocket.
type IngestFrame struct {
	ClientID string          `json:"client_id"`
	Status   json.RawMessage `json:"status"`
}

// falsyStatus lists the JSON literals a publisher may send that count as
// "no status".
var falsyStatus = [][]byte{
	[]byte("null"),
	[]byte("false"),
	[]byte("0"),
	[]byte(`""`),
}

// ParseIngestFrame decodes a frame and reports whether it carries both a
// client_id and a status. Invalid frames are meant to be dropped.
func ParseIngestFrame(data []byte) (IngestFrame, bool) {
	var f IngestFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return IngestFrame{}, false
	}
	if strings.TrimSpace(f.ClientID) == "" {
		return IngestFrame{}, false
	}
	status := bytes.TrimSpace(f.Status)
	if len(status) == 0 {
		return IngestFrame{}, false
	}
	for _, lit := range falsyStatus {
		if bytes.Equal(status, lit) {
			return IngestFrame{}, false
		}
	}
	f.Status = status
	return f, true
}
