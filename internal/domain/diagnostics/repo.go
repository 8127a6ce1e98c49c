package diagnostics

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts t, assigning ID, Seq and CreatedAt.
	Create(ctx context.Context, t *TestRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestRecord, error)
	// GetForUpdate reads t and holds it for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*TestRecord, error)
	// Update persists status, start_time and end_time.
	Update(ctx context.Context, t *TestRecord) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*TestRecord, error)
	// ListOpen returns tests whose status is not completed, in seq order.
	ListOpen(ctx context.Context) ([]*TestRecord, error)
	// ListCompleted returns completed tests, in seq order.
	ListCompleted(ctx context.Context) ([]*TestRecord, error)
}
