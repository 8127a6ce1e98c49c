package auditlog

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Append inserts e, assigning ID, Seq and Timestamp.
	Append(ctx context.Context, e *Entry) error
	// ListByPatient returns a patient's entries oldest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Entry, error)
	// List returns the most recent entries oldest first, capped at limit.
	List(ctx context.Context, limit int) ([]*Entry, error)
}
