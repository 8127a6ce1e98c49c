package patient

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Stage  Stage
	Status Status
}

type Repository interface {
	// Create inserts p, assigning ID, TokenNumber and timestamps.
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// GetForUpdate reads p and holds it for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error)
	// Update persists stage, status and updated_at.
	Update(ctx context.Context, p *Patient) error
	// List returns matching patients ordered by token number.
	List(ctx context.Context, f Filter) ([]*Patient, error)
}
