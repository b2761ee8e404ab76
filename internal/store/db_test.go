package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `SELECT * FROM attendance_records WHERE student_id = $1 AND day = $2`
	assert.Equal(t, q, Postgres.Rebind(q))
	assert.Equal(t, `SELECT * FROM attendance_records WHERE student_id = ?1 AND day = ?2`, SQLite.Rebind(q))
}

func TestSQLiteMigrateIsRepeatable(t *testing.T) {
	db, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "attendance.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db))
	assert.True(t, db.Healthy(ctx))

	var n int
	require.NoError(t, db.Client.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('attendance_records', 'attendance_audit', 'enrollments')`,
	).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestNilHandlesAreSafe(t *testing.T) {
	var db *DB
	assert.False(t, db.Healthy(context.Background()))
	assert.NoError(t, db.Close())

	var r *Redis
	assert.False(t, r.Healthy(context.Background()))
	assert.NoError(t, r.Close())
}
