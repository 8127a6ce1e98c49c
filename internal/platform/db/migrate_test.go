package db

import (
	"testing"
	"testing/fstest"
	"time"
)

func TestLoadMigrations(t *testing.T) {
	source := fstest.MapFS{
		"002_billing.sql": {Data: []byte("CREATE TABLE billing (id UUID);")},
		"001_clinic.sql":  {Data: []byte("CREATE TABLE patients (id UUID);")},
		"010_logs.sql":    {Data: []byte("CREATE TABLE logs (id UUID);")},
		"README.md":       {Data: []byte("not a migration")},
		"notes_draft.sql": {Data: []byte("SELECT 1;")},
	}

	migrator := NewMigrator(nil, source)
	migrations, err := migrator.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "001_clinic.sql" {
		t.Errorf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != 2 {
		t.Errorf("expected version 2, got %d", migrations[1].Version)
	}
	if migrations[2].Version != 10 {
		t.Errorf("expected version 10, got %d", migrations[2].Version)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := NewMigrator(nil, Migrations()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected embedded migrations")
	}
	if migrations[0].Version != 1 {
		t.Errorf("expected first embedded version 1, got %d", migrations[0].Version)
	}
}

func TestMergeStatus(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	migrations := []Migration{
		{Version: 1, Name: "001_clinic.sql"},
		{Version: 2, Name: "002_more.sql"},
	}

	statuses := mergeStatus(migrations, map[int]time.Time{1: at})

	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected first migration applied at %s, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected second migration pending, got %+v", statuses[1])
	}
}
