package patient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
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

func scanPatientSQLite(row rowScanner) (*Patient, error) {
	var p Patient
	var created, updated string
	if err := row.Scan(&p.ID, &p.UHID, &p.Name, &p.Age, &p.Gender, &p.Phone, &p.TokenNumber,
		&p.PriorityTier, &p.Stage, &p.Status, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = sqlitedb.ParseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = sqlitedb.ParseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoSQLite) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	now := time.Now().UTC()
	ts := sqlitedb.FormatTime(now)
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		INSERT INTO patients (id, uhid, name, age, gender, phone, token_number,
			priority_level, current_stage, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(token_number), 0) + 1 FROM patients),
			?, ?, ?, ?, ?)
		RETURNING token_number`,
		p.ID.String(), p.UHID, p.Name, p.Age, p.Gender, p.Phone,
		string(p.PriorityTier), string(p.Stage), string(p.Status), ts, ts,
	).Scan(&p.TokenNumber)
	if sqlitedb.IsUniqueViolation(err) {
		return apperr.Conflict("patient", p.UHID, "register", "uhid already registered", err)
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

// GetForUpdate is a plain read: transactions begin IMMEDIATE, so the writer
// already holds the database lock.
func (r *repoSQLite) GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.GetByID(ctx, id)
}

func (r *repoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatientSQLite(r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+cols+` FROM patients WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("patient", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *repoSQLite) Update(ctx context.Context, p *Patient) error {
	now := time.Now().UTC()
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE patients SET current_stage = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(p.Stage), string(p.Status), sqlitedb.FormatTime(now), p.ID.String())
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("patient", p.ID.String())
	}
	p.UpdatedAt = now
	return nil
}

func (r *repoSQLite) List(ctx context.Context, f Filter) ([]*Patient, error) {
	var where []string
	var args []any
	if f.Stage != "" {
		where = append(where, "current_stage = ?")
		args = append(args, string(f.Stage))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + cols + ` FROM patients`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY token_number`

	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatientSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
