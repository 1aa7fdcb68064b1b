package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", DSN(":memory:"))
	assert.Contains(t, DSN("/tmp/a.db"), "journal_mode(WAL)")
	assert.Contains(t, DSN("file:a.db?cache=shared"), "cache=shared&_pragma=foreign_keys(1)")
}

func TestOpen_CreatesSchema(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "medkeeper.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"goose_db_version", "documents", "sync_queue", "metadata",
		"versions", "signers", "signature_requests", "signature_records", "share_tokens", "audit_log"} {
		assert.True(t, tableExists(t, db, table), table)
	}
}

func TestMigrate_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "medkeeper.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db, logging.Nop()))
	require.NoError(t, Migrate(ctx, db, logging.Nop()))
}

func TestMigrate_NewerSchemaIsLeftAlone(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "medkeeper.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	latest, err := LatestVersion()
	require.NoError(t, err)

	// A newer binary has already migrated this file.
	_, err = db.Exec(`INSERT INTO goose_db_version (version_id, is_applied) VALUES (?, 1)`, latest+5)
	require.NoError(t, err)

	called := false
	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		called = true
		return orig(ctx, db, dir, opts...)
	}
	t.Cleanup(func() { gooseUpContext = orig })

	require.NoError(t, Migrate(ctx, db, logging.Nop()))
	assert.False(t, called, "migrations must not run against a newer schema")
	assert.True(t, tableExists(t, db, "documents"))
}

func TestMigrate_PropagatesUpError(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open(driverName, DSN(":memory:"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	orig := gooseUpContext
	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("disk full")
	}
	t.Cleanup(func() { gooseUpContext = orig })

	err = Migrate(ctx, db, logging.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestLatestVersion(t *testing.T) {
	v, err := LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)
}
