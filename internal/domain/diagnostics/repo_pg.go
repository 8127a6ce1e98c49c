package diagnostics

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

const cols = `id, patient_id, test_type, status, seq, start_time, end_time, created_at`

func scanTest(row pgx.Row) (*TestRecord, error) {
	var t TestRecord
	err := row.Scan(&t.ID, &t.PatientID, &t.Type, &t.Status, &t.Seq,
		&t.StartTime, &t.EndTime, &t.CreatedAt)
	return &t, err
}

func (r *repoPG) Create(ctx context.Context, t *TestRecord) error {
	t.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO tests (id, patient_id, test_type, status)
		VALUES ($1, $2, $3, $4)
		RETURNING seq, created_at`,
		t.ID, t.PatientID, string(t.Type), string(t.Status),
	).Scan(&t.Seq, &t.CreatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("test", t.PatientID.String(), "assign",
			fmt.Sprintf("%s test already assigned", t.Type), err)
	}
	if err != nil {
		return fmt.Errorf("insert test: %w", err)
	}
	return nil
}

func (r *repoPG) get(ctx context.Context, id uuid.UUID, suffix string) (*TestRecord, error) {
	t, err := scanTest(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+cols+` FROM tests WHERE id = $1`+suffix, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("test", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}
	return t, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestRecord, error) {
	return r.get(ctx, id, "")
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*TestRecord, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *repoPG) Update(ctx context.Context, t *TestRecord) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE tests SET status = $2, start_time = $3, end_time = $4 WHERE id = $1`,
		t.ID, string(t.Status), t.StartTime, t.EndTime)
	if err != nil {
		return fmt.Errorf("update test: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("test", t.ID.String())
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*TestRecord, error) {
	return r.list(ctx, `SELECT `+cols+` FROM tests WHERE patient_id = $1 ORDER BY seq`, patientID)
}

func (r *repoPG) ListOpen(ctx context.Context) ([]*TestRecord, error) {
	return r.list(ctx, `SELECT `+cols+` FROM tests WHERE status <> 'completed' ORDER BY seq`)
}

func (r *repoPG) ListCompleted(ctx context.Context) ([]*TestRecord, error) {
	return r.list(ctx, `SELECT `+cols+` FROM tests WHERE status = 'completed' ORDER BY seq`)
}

func (r *repoPG) list(ctx context.Context, query string, args ...interface{}) ([]*TestRecord, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()

	var out []*TestRecord
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
