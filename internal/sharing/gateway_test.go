package sharing

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/clockx"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/keys"
	"github.com/dmitrijs2005/medkeeper/internal/metrics"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/metadata"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/shares"
	"github.com/dmitrijs2005/medkeeper/internal/storage"
	"github.com/dmitrijs2005/medkeeper/internal/vault"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	clock   *clockx.Fake
	store   *vault.Store
	repo    *shares.SQLiteRepository
	sink    *audit.SQLiteSink
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := clockx.NewFake(t0)
	mgr := vault.NewManager(db, keys.NewService(metadata.NewSQLiteRepository(db), keys.Options{}), vault.Options{Clock: clock})
	t.Cleanup(mgr.Close)
	store, err := mgr.Initialize(ctx, "clinic-1", "s3cret")
	require.NoError(t, err)

	_, err = store.Put(ctx, vault.PutRequest{
		ID:     "rx-1",
		Data:   map[string]string{"medication": "warfarina", "dose": "5mg"},
		Status: models.RecordSigned,
	})
	require.NoError(t, err)

	return &fixture{
		clock:   clock,
		store:   store,
		repo:    shares.NewSQLiteRepository(db),
		sink:    audit.NewSQLiteSink(db),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
}

func (f *fixture) gateway(opts Options) *Gateway {
	opts.Clock = f.clock
	opts.Metrics = f.metrics
	return New(f.repo, f.store, f.sink, opts)
}

func TestIssueRedeem_Lifecycle(t *testing.T) {
	f := newFixture(t)
	g := f.gateway(Options{})
	ctx := context.Background()

	tok, err := g.Issue(ctx, "rx-1", 24, "Dr. Vega")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)
	assert.Equal(t, common.HashToken(tok.Token), tok.TokenHash)
	assert.Equal(t, t0.Add(24*time.Hour), tok.ExpiresAt)

	for i := int64(1); i <= 3; i++ {
		f.clock.Advance(time.Hour)
		got, err := g.Redeem(ctx, tok.Token)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, i, got.AccessCount)
		assert.Equal(t, models.RecordSigned, got.Status)
		assert.JSONEq(t, `{"medication":"warfarina","dose":"5mg"}`, string(got.Data))
	}

	f.clock.Advance(22 * time.Hour)
	got, err := g.Redeem(ctx, tok.Token)
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, err := f.repo.Get(ctx, tok.TokenHash)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(3), stored.AccessCount)

	entries, err := f.sink.List(ctx, "rx-1")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, models.AuditShareIssued, entries[0].Action)
	for _, e := range entries[1:] {
		assert.Equal(t, models.AuditShareAccessed, e.Action)
		assert.Equal(t, AccessMethod, e.Metadata["accessMethod"])
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.ShareRedemptions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ShareRedemptions.WithLabelValues("unavailable")))
}

func TestRedeem_UnknownToken(t *testing.T) {
	f := newFixture(t)
	got, err := f.gateway(Options{}).Redeem(context.Background(), "never-issued")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedeem_MissingDocument(t *testing.T) {
	f := newFixture(t)
	g := f.gateway(Options{})
	ctx := context.Background()

	tok, err := g.Issue(ctx, "rx-1", 0, "Dr. Vega")
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, "rx-1"))

	got, err := g.Redeem(ctx, tok.Token)
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, err := f.repo.Get(ctx, tok.TokenHash)
	require.NoError(t, err)
	assert.Zero(t, stored.AccessCount)
}

func TestIssue_Hours(t *testing.T) {
	f := newFixture(t)
	g := f.gateway(Options{})
	ctx := context.Background()

	tests := []struct {
		hours int
		want  time.Duration
	}{
		{0, 24 * time.Hour},
		{-5, time.Hour},
		{1, time.Hour},
		{500, 168 * time.Hour},
	}
	for _, tt := range tests {
		tok, err := g.Issue(ctx, "rx-1", tt.hours, "Dr. Vega")
		require.NoError(t, err)
		assert.Equal(t, t0.Add(tt.want), tok.ExpiresAt, "hours=%d", tt.hours)
	}
}

func TestIssue_Validation(t *testing.T) {
	f := newFixture(t)
	g := f.gateway(Options{})

	_, err := g.Issue(context.Background(), "", 24, "Dr. Vega")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = g.Issue(context.Background(), "missing", 24, "Dr. Vega")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRedeem_Throttled(t *testing.T) {
	f := newFixture(t)
	g := f.gateway(Options{RedeemRate: 0.001, RedeemBurst: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Redeem(ctx, "guess")
		require.NoError(t, err)
	}
	_, err := g.Redeem(ctx, "guess")
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ShareRedemptions.WithLabelValues("throttled")))
}
