package diagnostics

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

func scanTestSQLite(row rowScanner) (*TestRecord, error) {
	var t TestRecord
	var start, end sql.NullString
	var created string
	if err := row.Scan(&t.ID, &t.PatientID, &t.Type, &t.Status, &t.Seq,
		&start, &end, &created); err != nil {
		return nil, err
	}
	var err error
	if t.StartTime, err = sqlitedb.ParseNullTime(start); err != nil {
		return nil, err
	}
	if t.EndTime, err = sqlitedb.ParseNullTime(end); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoSQLite) Create(ctx context.Context, t *TestRecord) error {
	t.ID = uuid.New()
	now := time.Now().UTC()
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO tests (id, patient_id, test_type, status, seq, created_at)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM tests), ?)
		RETURNING seq`,
		t.ID.String(), t.PatientID.String(), string(t.Type), string(t.Status),
		sqlitedb.FormatTime(now),
	).Scan(&t.Seq)
	if sqlitedb.IsUniqueViolation(err) {
		return apperr.Conflict("test", t.PatientID.String(), "assign",
			fmt.Sprintf("%s test already assigned", t.Type), err)
	}
	if err != nil {
		return fmt.Errorf("insert test: %w", err)
	}
	t.CreatedAt = now
	return nil
}

func (r *repoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*TestRecord, error) {
	t, err := scanTestSQLite(r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+cols+` FROM tests WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("test", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}
	return t, nil
}

func (r *repoSQLite) GetForUpdate(ctx context.Context, id uuid.UUID) (*TestRecord, error) {
	return r.GetByID(ctx, id)
}

func (r *repoSQLite) Update(ctx context.Context, t *TestRecord) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE tests SET status = ?, start_time = ?, end_time = ? WHERE id = ?`,
		string(t.Status), sqlitedb.NullTime(t.StartTime), sqlitedb.NullTime(t.EndTime), t.ID.String())
	if err != nil {
		return fmt.Errorf("update test: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("test", t.ID.String())
	}
	return nil
}

func (r *repoSQLite) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*TestRecord, error) {
	return r.list(ctx, `SELECT `+cols+` FROM tests WHERE patient_id = ? ORDER BY seq`, patientID.String())
}

func (r *repoSQLite) ListOpen(ctx context.Context) ([]*TestRecord, error) {
	return r.list(ctx, `SELECT `+cols+` FROM tests WHERE status <> 'completed' ORDER BY seq`)
}

func (r *repoSQLite) ListCompleted(ctx context.Context) ([]*TestRecord, error) {
	return r.list(ctx, `SELECT `+cols+` FROM tests WHERE status = 'completed' ORDER BY seq`)
}

func (r *repoSQLite) list(ctx context.Context, query string, args ...any) ([]*TestRecord, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()

	var out []*TestRecord
	for rows.Next() {
		t, err := scanTestSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
