package auditlog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicflow/clinicflow/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const cols = `id, seq, user_id, action, patient_id, timestamp`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.Seq, &e.ActorID, &e.Action, &e.PatientID, &e.Timestamp)
	return &e, err
}

func (r *repoPG) Append(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO logs (id, user_id, action, patient_id)
		VALUES ($1, $2, $3, $4)
		RETURNING seq, timestamp`,
		e.ID, e.ActorID, e.Action, e.PatientID,
	).Scan(&e.Seq, &e.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Entry, error) {
	return r.list(ctx, `SELECT `+cols+` FROM logs WHERE patient_id = $1 ORDER BY seq`, patientID)
}

func (r *repoPG) List(ctx context.Context, limit int) ([]*Entry, error) {
	return r.list(ctx, `SELECT * FROM (
		SELECT `+cols+` FROM logs ORDER BY seq DESC LIMIT $1
	) recent ORDER BY seq`, limit)
}

func (r *repoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Entry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
