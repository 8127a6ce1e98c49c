// Package sqlitedb opens the embedded SQLite store used for single-clinic
// deployments and tests.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// DB is an open SQLite database guarded by a process lock file.
type DB struct {
	*sql.DB
	path string
	lock *flock.Flock
}

// dsn builds the connection string. Every connection gets the same pragmas,
// and transactions begin IMMEDIATE so a writer takes the database lock before
// it reads the rows it is about to change.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// Open opens (creating if needed) the database at path, takes an exclusive
// lock on path+".lock" so only one server process owns the file, and applies
// pending migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("store %s is locked by another process", path)
	}

	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(8)

	db := &DB{DB: sqlDB, path: path, lock: lock}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close closes the database and releases the process lock.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	err := db.DB.Close()
	if db.lock != nil {
		if uerr := db.lock.Unlock(); uerr != nil && err == nil {
			err = fmt.Errorf("release store lock: %w", uerr)
		}
	}
	return err
}
