package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicflow/clinicflow/internal/platform/apperr"
	"github.com/clinicflow/clinicflow/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const cols = `id, patient_id, amount, status, payment_mode, created_at, paid_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	var mode *string
	if err := row.Scan(&b.ID, &b.PatientID, &b.Amount, &b.Status, &mode,
		&b.CreatedAt, &b.PaidAt); err != nil {
		return nil, err
	}
	if mode != nil {
		m := PaymentMode(*mode)
		b.PaymentMode = &m
	}
	return &b, nil
}

func modeArg(m *PaymentMode) *string {
	if m == nil {
		return nil
	}
	s := string(*m)
	return &s
}

func (r *repoPG) Create(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO billing (id, patient_id, amount, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		b.ID, b.PatientID, b.Amount, string(b.Status),
	).Scan(&b.CreatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("bill", b.PatientID.String(), "create", "patient already has a pending bill", err)
	}
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}
	return nil
}

func (r *repoPG) get(ctx context.Context, id uuid.UUID, suffix string) (*Bill, error) {
	b, err := scanBill(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+cols+` FROM billing WHERE id = $1`+suffix, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("bill", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get bill: %w", err)
	}
	return b, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return r.get(ctx, id, "")
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *repoPG) Update(ctx context.Context, b *Bill) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE billing SET status = $2, payment_mode = $3, paid_at = $4 WHERE id = $1`,
		b.ID, string(b.Status), modeArg(b.PaymentMode), b.PaidAt)
	if err != nil {
		return fmt.Errorf("update bill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bill", b.ID.String())
	}
	return nil
}

func (r *repoPG) ListByStatus(ctx context.Context, status Status) ([]*Bill, error) {
	return r.list(ctx, `SELECT `+cols+` FROM billing WHERE status = $1 ORDER BY created_at`, string(status))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Bill, error) {
	return r.list(ctx, `SELECT `+cols+` FROM billing WHERE patient_id = $1 ORDER BY created_at`, patientID)
}

func (r *repoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Bill, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	var out []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
