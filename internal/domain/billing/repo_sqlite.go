package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/internal/platform/apperr"
	"github.com/clinicflow/clinicflow/internal/platform/sqlitedb"
)

type repoSQLite struct{ db *sqlitedb.DB }

func NewRepoSQLite(db *sqlitedb.DB) Repository {
	return &repoSQLite{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBillSQLite(row rowScanner) (*Bill, error) {
	var b Bill
	var mode, paid sql.NullString
	var created string
	if err := row.Scan(&b.ID, &b.PatientID, &b.Amount, &b.Status, &mode,
		&created, &paid); err != nil {
		return nil, err
	}
	if mode.Valid {
		m := PaymentMode(mode.String)
		b.PaymentMode = &m
	}
	var err error
	if b.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
		return nil, err
	}
	if b.PaidAt, err = sqlitedb.ParseNullTime(paid); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repoSQLite) Create(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	now := time.Now().UTC()
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		INSERT INTO billing (id, patient_id, amount, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		b.ID.String(), b.PatientID.String(), b.Amount, string(b.Status), sqlitedb.FormatTime(now))
	if sqlitedb.IsUniqueViolation(err) {
		return apperr.Conflict("bill", b.PatientID.String(), "create", "patient already has a pending bill", err)
	}
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}
	b.CreatedAt = now
	return nil
}

func (r *repoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	b, err := scanBillSQLite(r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+cols+` FROM billing WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("bill", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get bill: %w", err)
	}
	return b, nil
}

func (r *repoSQLite) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return r.GetByID(ctx, id)
}

func (r *repoSQLite) Update(ctx context.Context, b *Bill) error {
	var mode any
	if b.PaymentMode != nil {
		mode = string(*b.PaymentMode)
	}
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE billing SET status = ?, payment_mode = ?, paid_at = ? WHERE id = ?`,
		string(b.Status), mode, sqlitedb.NullTime(b.PaidAt), b.ID.String())
	if err != nil {
		return fmt.Errorf("update bill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("bill", b.ID.String())
	}
	return nil
}

func (r *repoSQLite) ListByStatus(ctx context.Context, status Status) ([]*Bill, error) {
	return r.list(ctx, `SELECT `+cols+` FROM billing WHERE status = ? ORDER BY created_at`, string(status))
}

func (r *repoSQLite) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Bill, error) {
	return r.list(ctx, `SELECT `+cols+` FROM billing WHERE patient_id = ? ORDER BY created_at`, patientID.String())
}

func (r *repoSQLite) list(ctx context.Context, query string, args ...any) ([]*Bill, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	var out []*Bill
	for rows.Next() {
		b, err := scanBillSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
