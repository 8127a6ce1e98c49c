// Package testsupport provides helpers shared by package tests.
package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/clinicflow/clinicflow/internal/storage"
)

// OpenStore opens a migrated SQLite store in a fresh temp dir and closes it
// when the test ends.
func OpenStore(t testing.TB) *storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clinic.db")
	st, err := storage.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return st
}
