package cramsino

import (
	"encoding/json"
	"time"
)

// StatusRecord is the public representation of a stored status.
// It mirrors internal/model.StatusRecord for use in extension interfaces.
// No internal package imports, so it is safe to use from outside the module.
type StatusRecord struct {
	ClientID  string
	Status    json.RawMessage // exactly as the publisher sent it
	UpdatedAt time.Time
}

// Flags is the decoded attention state of a StatusRecord.
type Flags struct {
	FacePresent    bool
	LookingForward bool
	Talking        bool
	Distracted     bool
}
