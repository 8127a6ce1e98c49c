package sqlitedb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesMigrations(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "data", "clinic.db"))
	require.NoError(t, err)
	defer db.Close()

	applied, err := db.AppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "001_clinic", applied[0].Version)

	for _, table := range []string{"patients", "tests", "billing", "logs"} {
		var name string
		err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	// Re-running is a no-op.
	require.NoError(t, db.Migrate(ctx))
	applied, err = db.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Len(t, applied, 1)
}

func TestOpen_SecondProcessLockedOut(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "clinic.db")

	first, err := Open(ctx, path)
	require.NoError(t, err)

	_, err = Open(ctx, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")

	require.NoError(t, first.Close())

	again, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "clinic.db"))
	require.NoError(t, err)
	defer db.Close()

	now := FormatTime(time.Now())
	boom := errors.New("boom")
	err = db.WithTx(ctx, func(ctx context.Context) error {
		_, err := db.Conn(ctx).ExecContext(ctx, `INSERT INTO patients
			(id, uhid, name, age, gender, phone, token_number, priority_level, current_stage, status, created_at, updated_at)
			VALUES ('p1', 'UH1', 'Asha', 40, 'Female', '', 1, 'normal', 'registered', 'waiting', ?, ?)`, now, now)
		require.NoError(t, err)
		assert.NotNil(t, TxFromContext(ctx))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patients`).Scan(&count))
	assert.Zero(t, count)
}

func TestIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "clinic.db"))
	require.NoError(t, err)
	defer db.Close()

	now := FormatTime(time.Now())
	insert := `INSERT INTO patients
		(id, uhid, name, age, gender, phone, token_number, priority_level, current_stage, status, created_at, updated_at)
		VALUES (?, 'UH1', 'Asha', 40, 'Female', '', ?, 'normal', 'registered', 'waiting', ?, ?)`
	_, err = db.ExecContext(ctx, insert, "p1", 1, now, now)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, "p2", 2, now, now)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsBusy(err))
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 30, 15, 123456789, time.FixedZone("IST", 19800))
	got, err := ParseTime(FormatTime(at))
	require.NoError(t, err)
	assert.True(t, at.Equal(got))

	assert.Nil(t, NullTime(nil))
	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}
