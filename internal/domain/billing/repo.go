package billing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts b, assigning ID and CreatedAt. A second pending bill for
	// the same patient is a conflict.
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error)
	// Update persists status, payment_mode and paid_at.
	Update(ctx context.Context, b *Bill) error
	ListByStatus(ctx context.Context, status Status) ([]*Bill, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Bill, error)
}
