// Package auditlog records who moved which patient through which step.
// Entries are append-only.
package auditlog

import (
	"time"

	"github.com/google/uuid"
)

// Entry maps to the logs table.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Seq       int64     `json:"seq"`
	ActorID   string    `json:"user_id"`
	Action    string    `json:"action"`
	PatientID uuid.UUID `json:"patient_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Actor used when a caller does not identify itself.
const SystemActor = "system"

// NewEntry builds an entry for patientID, defaulting a blank actor to
// SystemActor.
func NewEntry(actor, action string, patientID uuid.UUID) *Entry {
	if actor == "" {
		actor = SystemActor
	}
	return &Entry{ActorID: actor, Action: action, PatientID: patientID}
}
