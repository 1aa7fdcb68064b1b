package metadata

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE metadata (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);`)
	require.NoError(t, err)
	return db
}

func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	bdb, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bdb.Close() })

	return map[string]Repository{
		"sqlite": NewSQLiteRepository(setupDB(t)),
		"badger": NewBadgerRepository(bdb),
	}
}

func TestRepository_SetGetUpsert(t *testing.T) {
	for name, r := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, r.Set(ctx, "device_salt", []byte{0x01, 0x02}))
			v, err := r.Get(ctx, "device_salt")
			require.NoError(t, err)
			assert.Equal(t, []byte{0x01, 0x02}, v)

			require.NoError(t, r.Set(ctx, "device_salt", []byte("new")))
			v, err = r.Get(ctx, "device_salt")
			require.NoError(t, err)
			assert.Equal(t, []byte("new"), v)
		})
	}
}

func TestRepository_MissingKeyIsNilNil(t *testing.T) {
	for name, r := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			v, err := r.Get(context.Background(), "absent")
			require.NoError(t, err)
			assert.Nil(t, v)
		})
	}
}

func TestSQLiteRepository_ErrorsAreWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	require.NoError(t, db.Close())

	_, err := r.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `read metadata "k"`)
}

func TestOpenBadger_OnDisk(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenBadger(dir)
	require.NoError(t, err)

	r := NewBadgerRepository(db)
	require.NoError(t, r.Set(context.Background(), "device_salt", []byte("salt")))
	require.NoError(t, db.Close())

	db, err = OpenBadger(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	v, err := NewBadgerRepository(db).Get(context.Background(), "device_salt")
	require.NoError(t, err)
	assert.Equal(t, []byte("salt"), v)
}
