package patient

import (
	"context"
	"fmt"
	"strings"

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

const cols = `id, uhid, name, age, gender, phone, token_number, priority_level,
	current_stage, status, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UHID, &p.Name, &p.Age, &p.Gender, &p.Phone, &p.TokenNumber,
		&p.PriorityTier, &p.Stage, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, uhid, name, age, gender, phone, priority_level, current_stage, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING token_number, created_at, updated_at`,
		p.ID, p.UHID, p.Name, p.Age, p.Gender, p.Phone,
		string(p.PriorityTier), string(p.Stage), string(p.Status),
	).Scan(&p.TokenNumber, &p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("patient", p.UHID, "register", "uhid already registered", err)
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *repoPG) get(ctx context.Context, id uuid.UUID, suffix string) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+cols+` FROM patients WHERE id = $1`+suffix, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("patient", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.get(ctx, id, "")
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patients SET current_stage = $2, status = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, string(p.Stage), string(p.Status),
	).Scan(&p.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("patient", p.ID.String())
	}
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*Patient, error) {
	var where []string
	var args []interface{}
	if f.Stage != "" {
		args = append(args, string(f.Stage))
		where = append(where, fmt.Sprintf("current_stage = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + cols + ` FROM patients`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY token_number`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
