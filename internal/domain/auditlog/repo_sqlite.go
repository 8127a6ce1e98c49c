package auditlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/internal/platform/sqlitedb"
)

type repoSQLite struct{ db *sqlitedb.DB }

func NewRepoSQLite(db *sqlitedb.DB) Repository {
	return &repoSQLite{db: db}
}

func (r *repoSQLite) Append(ctx context.Context, e *Entry) error {
	e.ID = uuid.New()
	now := time.Now().UTC()
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO logs (id, seq, user_id, action, patient_id, timestamp)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM logs), ?, ?, ?, ?)
		RETURNING seq`,
		e.ID.String(), e.ActorID, e.Action, e.PatientID.String(), sqlitedb.FormatTime(now),
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	e.Timestamp = now
	return nil
}

func (r *repoSQLite) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Entry, error) {
	return r.list(ctx, `SELECT `+cols+` FROM logs WHERE patient_id = ? ORDER BY seq`, patientID.String())
}

func (r *repoSQLite) List(ctx context.Context, limit int) ([]*Entry, error) {
	return r.list(ctx, `SELECT * FROM (
		SELECT `+cols+` FROM logs ORDER BY seq DESC LIMIT ?
	) ORDER BY seq`, limit)
}

func (r *repoSQLite) list(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &e.Seq, &e.ActorID, &e.Action, &e.PatientID, &ts); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if e.Timestamp, err = sqlitedb.ParseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
