// Package storage wires the record repositories to one of the two
// supported backends and owns the store's lifecycle.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicflow/clinicflow/internal/config"
	"github.com/clinicflow/clinicflow/internal/domain/auditlog"
	"github.com/clinicflow/clinicflow/internal/domain/billing"
	"github.com/clinicflow/clinicflow/internal/domain/diagnostics"
	"github.com/clinicflow/clinicflow/internal/domain/patient"
	"github.com/clinicflow/clinicflow/internal/platform/apperr"
	"github.com/clinicflow/clinicflow/internal/platform/db"
	"github.com/clinicflow/clinicflow/internal/platform/sqlitedb"
)

// Store is an open handle on clinic records. It is safe for concurrent use.
type Store struct {
	Driver   string
	Patients patient.Repository
	Tests    diagnostics.Repository
	Bills    billing.Repository
	Audit    auditlog.Repository

	inTx  func(ctx context.Context, fn func(ctx context.Context) error) error
	ping  func(ctx context.Context) error
	stats func() interface{}
	close func() error
	// conflict reports driver errors caused by a competing writer.
	conflict func(err error) bool
}

// Open opens the backend selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	case config.DriverSQLite, "":
		return OpenSQLite(ctx, cfg.SQLitePath)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// OpenSQLite opens the embedded store at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	sdb, err := sqlitedb.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Store{
		Driver:   config.DriverSQLite,
		Patients: patient.NewRepoSQLite(sdb),
		Tests:    diagnostics.NewRepoSQLite(sdb),
		Bills:    billing.NewRepoSQLite(sdb),
		Audit:    auditlog.NewRepoSQLite(sdb),
		inTx:     sdb.WithTx,
		ping:     sdb.PingContext,
		stats: func() interface{} {
			s := sdb.DB.Stats()
			return map[string]interface{}{
				"driver":      config.DriverSQLite,
				"path":        sdb.Path(),
				"open_conns":  s.OpenConnections,
				"in_use":      s.InUse,
				"idle":        s.Idle,
				"wait_count":  s.WaitCount,
				"wait_millis": s.WaitDuration.Milliseconds(),
			}
		},
		close:    sdb.Close,
		conflict: sqlitedb.IsBusy,
	}, nil
}

// OpenPostgres connects to databaseURL. Schema migrations are applied
// separately with Migrator.
func OpenPostgres(ctx context.Context, databaseURL string, maxConns, minConns int32) (*Store, error) {
	pool, err := db.NewPool(ctx, databaseURL, maxConns, minConns)
	if err != nil {
		return nil, err
	}
	return NewPostgres(pool), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Store {
	return &Store{
		Driver:   config.DriverPostgres,
		Patients: patient.NewRepoPG(pool),
		Tests:    diagnostics.NewRepoPG(pool),
		Bills:    billing.NewRepoPG(pool),
		Audit:    auditlog.NewRepoPG(pool),
		inTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		},
		ping:  pool.Ping,
		stats: func() interface{} { return db.GetPoolStats(pool) },
		close: func() error {
			pool.Close()
			return nil
		},
		conflict: db.IsConflict,
	}
}

// InTx runs fn in one transaction. Lock contention that outlasts the
// backend's wait becomes a conflict error; every other error is returned
// unchanged.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.inTx(ctx, fn)
	if err != nil && s.conflict(err) && apperr.KindOf(err) == "" {
		return apperr.Conflict("store", "", "", "concurrent update, retry the request", err)
	}
	return err
}

// Ping checks that the backend is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.ping(ctx) }

// Stats returns backend connection statistics for health reporting.
func (s *Store) Stats() interface{} { return s.stats() }

// Close releases the backend. It is safe to call on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}
