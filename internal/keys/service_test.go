package keys

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/metadata"
	"github.com/dmitrijs2005/medkeeper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSalts(t *testing.T) *metadata.SQLiteRepository {
	t.Helper()
	db, err := storage.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return metadata.NewSQLiteRepository(db)
}

type brokenSalts struct {
	metadata.Repository
	getErr, setErr error
}

func (b brokenSalts) Get(context.Context, string) ([]byte, error) { return nil, b.getErr }
func (b brokenSalts) Set(context.Context, string, []byte) error   { return b.setErr }

func TestNewService_EnforcesMinimumIterations(t *testing.T) {
	assert.Equal(t, MinIterations, NewService(nil, Options{Iterations: 10}).Iterations())
	assert.Equal(t, DefaultIterations, NewService(nil, Options{}).Iterations())
}

func TestDeriveKey_SameInputsDecryptEachOther(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newSalts(t), Options{})

	k1, err := svc.DeriveKey(ctx, "clinic-1", "s3cret")
	require.NoError(t, err)
	k2, err := svc.DeriveKey(ctx, "clinic-1", "s3cret")
	require.NoError(t, err)

	ct, nonce, err := k1.Seal([]byte("warfarina 5mg"), []byte("aad"))
	require.NoError(t, err)
	pt, err := k2.Open(ct, nonce, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, "warfarina 5mg", string(pt))
	assert.Equal(t, "clinic-1", k1.TenantID())
}

func TestDeriveKey_DifferentInputsFailAuthentication(t *testing.T) {
	ctx := context.Background()
	salts := newSalts(t)
	svc := NewService(salts, Options{})

	base, err := svc.DeriveKey(ctx, "clinic-1", "s3cret")
	require.NoError(t, err)
	ct, nonce, err := base.Seal([]byte("payload"), nil)
	require.NoError(t, err)

	others := map[string]func() (*Key, error){
		"tenant": func() (*Key, error) { return svc.DeriveKey(ctx, "clinic-2", "s3cret") },
		"secret": func() (*Key, error) { return svc.DeriveKey(ctx, "clinic-1", "other") },
		"origin": func() (*Key, error) {
			return NewService(salts, Options{Origin: "https://elsewhere"}).DeriveKey(ctx, "clinic-1", "s3cret")
		},
	}
	for name, derive := range others {
		t.Run(name, func(t *testing.T) {
			k, err := derive()
			require.NoError(t, err)
			_, err = k.Open(ct, nonce, nil)
			assert.ErrorIs(t, err, common.ErrDecryption)
		})
	}
}

func TestDeriveKey_EmptySecretUsesDefault(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newSalts(t), Options{})

	k1, err := svc.DeriveKey(ctx, "clinic-1", "")
	require.NoError(t, err)
	k2, err := svc.DeriveKey(ctx, "clinic-1", defaultSessionSecret)
	require.NoError(t, err)

	ct, nonce, err := k1.Seal([]byte("x"), nil)
	require.NoError(t, err)
	_, err = k2.Open(ct, nonce, nil)
	assert.NoError(t, err)
}

func TestDeriveKey_PersistsSaltOnce(t *testing.T) {
	ctx := context.Background()
	salts := newSalts(t)
	svc := NewService(salts, Options{})

	_, err := svc.DeriveKey(ctx, "clinic-1", "")
	require.NoError(t, err)
	first, err := salts.Get(ctx, SaltKey)
	require.NoError(t, err)
	require.Len(t, first, SaltSize)

	_, err = svc.DeriveKey(ctx, "clinic-1", "")
	require.NoError(t, err)
	second, err := salts.Get(ctx, SaltKey)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDeriveKey_CorruptSaltIsReplaced(t *testing.T) {
	ctx := context.Background()
	salts := newSalts(t)
	svc := NewService(salts, Options{})

	old, err := svc.DeriveKey(ctx, "clinic-1", "")
	require.NoError(t, err)
	ct, nonce, err := old.Seal([]byte("before"), nil)
	require.NoError(t, err)

	require.NoError(t, salts.Set(ctx, SaltKey, []byte("short")))

	fresh, err := svc.DeriveKey(ctx, "clinic-1", "")
	require.NoError(t, err)
	salt, err := salts.Get(ctx, SaltKey)
	require.NoError(t, err)
	assert.Len(t, salt, SaltSize)

	_, err = fresh.Open(ct, nonce, nil)
	assert.ErrorIs(t, err, common.ErrDecryption, "records under the old salt are gone")
}

func TestDeriveKey_UnreadableSaltIsReplaced(t *testing.T) {
	svc := NewService(brokenSalts{getErr: errors.New("io")}, Options{})
	k, err := svc.DeriveKey(context.Background(), "clinic-1", "")
	require.NoError(t, err)
	assert.False(t, k.Destroyed())
}

func TestDeriveKey_Failures(t *testing.T) {
	ctx := context.Background()

	_, err := NewService(newSalts(t), Options{}).DeriveKey(ctx, "", "x")
	var kde *common.KeyDerivationError
	require.ErrorAs(t, err, &kde)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = NewService(brokenSalts{setErr: errors.New("read-only")}, Options{}).DeriveKey(ctx, "clinic-1", "")
	require.ErrorAs(t, err, &kde)
	assert.Equal(t, "clinic-1", kde.TenantID)
	assert.ErrorIs(t, err, common.ErrKeyDerivation)

	orig := deriveKey
	deriveKey = func([]byte, []byte, int) ([]byte, error) { return nil, errors.New("provider unavailable") }
	t.Cleanup(func() { deriveKey = orig })

	_, err = NewService(newSalts(t), Options{}).DeriveKey(ctx, "clinic-1", "")
	assert.ErrorIs(t, err, common.ErrKeyDerivation)
	assert.Contains(t, err.Error(), "provider unavailable")
}

func TestKey_Destroy(t *testing.T) {
	k, err := NewService(newSalts(t), Options{}).DeriveKey(context.Background(), "clinic-1", "")
	require.NoError(t, err)

	k.Destroy()
	assert.True(t, k.Destroyed())

	_, _, err = k.Seal([]byte("x"), nil)
	assert.ErrorIs(t, err, common.ErrNotInitialized)
	_, err = k.Open([]byte("x"), make([]byte, 12), nil)
	assert.ErrorIs(t, err, common.ErrNotInitialized)
}
