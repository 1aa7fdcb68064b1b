package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/config"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/dmitrijs2005/medkeeper/internal/syncer"
	"github.com/dmitrijs2005/medkeeper/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "data", "medkeeper.db")
	cfg.SigningSecret = "0123456789abcdef-test"
	cfg.KDFIterations = 100_000
	cfg.LogLevel = "error"
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

type nopStore struct{}

func (nopStore) Put(context.Context, string, []byte) error { return nil }
func (nopStore) Delete(context.Context, string) error      { return nil }

func TestNew_Defaults(t *testing.T) {
	cfg := testConfig(t)
	a := newApp(t, cfg)

	require.NotNil(t, a.DB)
	require.NotNil(t, a.Vault)
	require.NotNil(t, a.Sweeper)
	require.NotNil(t, a.Shares)
	require.NotNil(t, a.Signatures)
	require.NotNil(t, a.Integrity)
	assert.Nil(t, a.Syncer, "no bucket, no syncer")
	assert.IsType(t, &audit.SQLiteSink{}, a.Audit)

	_, err := os.Stat(filepath.Dir(cfg.DatabasePath))
	require.NoError(t, err, "database directory created")
}

func TestApp_DocumentFlow(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, testConfig(t))

	_, err := a.DocumentHash(ctx, "doc-1")
	require.ErrorIs(t, err, common.ErrNotInitialized)

	store, err := a.Unlock(ctx, "clinic-1", "session-secret")
	require.NoError(t, err)

	_, err = a.DocumentHash(ctx, "doc-1")
	require.ErrorIs(t, err, common.ErrorNotFound)

	_, err = store.Put(ctx, vault.PutRequest{ID: "doc-1", Data: map[string]any{"b": 1, "a": "x"}})
	require.NoError(t, err)

	fp, err := a.Fingerprint(ctx, "doc-1")
	require.NoError(t, err)
	want, err := a.Integrity.ComputeHash("doc-1", map[string]any{"a": "x", "b": 1})
	require.NoError(t, err)
	assert.Equal(t, want, fp)

	tok, err := a.Shares.Issue(ctx, "doc-1", 2, "dr-vega")
	require.NoError(t, err)
	red, err := a.Shares.Redeem(ctx, tok.Token)
	require.NoError(t, err)
	require.NotNil(t, red)
	assert.Equal(t, int64(1), red.AccessCount)
	assert.JSONEq(t, `{"a":"x","b":1}`, string(red.Data))

	entries, err := a.Audit.(*audit.SQLiteSink).List(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditShareIssued, entries[0].Action)
	assert.Equal(t, models.AuditShareAccessed, entries[1].Action)
}

func TestApp_Autosave(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, testConfig(t))

	store, err := a.Unlock(ctx, "clinic-1", "session-secret")
	require.NoError(t, err)

	c := a.NewAutosave("rx-1", store, models.RecordDraft, "prescription")
	defer c.Close()

	require.NoError(t, c.Observe(map[string]string{"medication": "warfarina", "dose": "5mg"}))
	require.NoError(t, c.ForceSave(ctx))

	got, err := store.Get(ctx, "rx-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RecordDraft, got.Status)
	assert.Equal(t, models.Priority(models.CriticalityCritical), got.Priority)

	hist, err := c.History(ctx)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestNew_SyncEnabled(t *testing.T) {
	orig := newS3Store
	t.Cleanup(func() { newS3Store = orig })

	var got syncer.S3Config
	newS3Store = func(_ context.Context, c syncer.S3Config) (syncer.ObjectStore, error) {
		got = c
		return nopStore{}, nil
	}

	cfg := testConfig(t)
	cfg.S3Bucket = "records"
	cfg.S3Endpoint = "http://localhost:9000"
	a := newApp(t, cfg)

	require.NotNil(t, a.Syncer)
	assert.Equal(t, "records", got.Bucket)
	assert.Equal(t, "http://localhost:9000", got.Endpoint)
	assert.Equal(t, "us-east-1", got.Region)
}

func TestNew_SyncStoreFailure(t *testing.T) {
	orig := newS3Store
	t.Cleanup(func() { newS3Store = orig })
	newS3Store = func(context.Context, syncer.S3Config) (syncer.ObjectStore, error) {
		return nil, errors.New("no credentials")
	}

	cfg := testConfig(t)
	cfg.S3Bucket = "records"
	_, err := New(context.Background(), cfg, io.Discard)
	require.ErrorContains(t, err, "no credentials")
}

func TestNew_AuditPostgresFailure(t *testing.T) {
	orig := openAuditPostgres
	t.Cleanup(func() { openAuditPostgres = orig })
	openAuditPostgres = func(context.Context, string) (*audit.PostgresSink, *sql.DB, error) {
		return nil, nil, errors.New("connection refused")
	}

	cfg := testConfig(t)
	cfg.AuditDSN = "postgres://localhost/audit"
	_, err := New(context.Background(), cfg, io.Discard)
	require.Error(t, err)
	require.ErrorContains(t, err, "audit init error")
}

func TestNew_BadgerMetadata(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.MetadataBackend = "badger"
	cfg.BadgerPath = filepath.Join(t.TempDir(), "meta")

	a := newApp(t, cfg)
	_, err := a.Unlock(ctx, "clinic-1", "session-secret")
	require.NoError(t, err)

	_, err = os.Stat(cfg.BadgerPath)
	require.NoError(t, err)
}

func TestNew_RedisShares(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.ShareBackend = "redis"
	cfg.RedisURL = "redis://" + mr.Addr()
	a := newApp(t, cfg)

	store, err := a.Unlock(ctx, "clinic-1", "session-secret")
	require.NoError(t, err)
	_, err = store.Put(ctx, vault.PutRequest{ID: "doc-1", Data: map[string]string{"a": "b"}})
	require.NoError(t, err)

	tok, err := a.Shares.Issue(ctx, "doc-1", 1, "dr-vega")
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())

	red, err := a.Shares.Redeem(ctx, tok.Token)
	require.NoError(t, err)
	require.NotNil(t, red)
}

func TestNew_RedisUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.ShareBackend = "redis"
	cfg.RedisURL = "redis://127.0.0.1:1"

	_, err := New(context.Background(), cfg, io.Discard)
	require.ErrorContains(t, err, "share store init error")
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsAddr = "127.0.0.1:0"
	a := newApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
