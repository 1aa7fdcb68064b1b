// Package vault is the encrypted record store.
//
// A Manager owns the database handle and the key service. Initialize derives
// a tenant key and returns a Store bound to that tenant and key; initializing
// again, for any tenant, destroys the previous Store's key. Records are
// sealed with AES-256-GCM under a fresh nonce per write, with the tenant and
// record id as additional authenticated data.
//
// Reads never surface corruption or expiry as errors: an expired record is
// deleted and reported missing, and a record that fails authentication is
// purged and reported missing.
package vault

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/clockx"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/keys"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/metrics"
)

const DefaultTTL = 7 * 24 * time.Hour

type Options struct {
	// DefaultTTL applies when a PutRequest has no TTL.
	DefaultTTL time.Duration
	// Sync enqueues a sync item in the same transaction as every write.
	Sync    bool
	Clock   clockx.Clock
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = DefaultTTL
	}
	if o.Clock == nil {
		o.Clock = clockx.Real{}
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
}

type Manager struct {
	db   *sql.DB
	keys *keys.Service
	opts Options

	// locks is shared by every Store so a write started under a previous
	// tenant context still serializes with the next one.
	locks *dbx.KeyedMutex

	mu      sync.Mutex
	current *Store
}

func NewManager(db *sql.DB, keySvc *keys.Service, opts Options) *Manager {
	opts.setDefaults()
	return &Manager{db: db, keys: keySvc, opts: opts, locks: dbx.NewKeyedMutex()}
}

// Initialize derives the key for tenantID and makes the returned Store the
// current one. Key derivation errors are returned as is and leave the
// previous Store untouched.
func (m *Manager) Initialize(ctx context.Context, tenantID, sessionSecret string) (*Store, error) {
	key, err := m.keys.DeriveKey(ctx, tenantID, sessionSecret)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:       m.db,
		key:      key,
		tenantID: tenantID,
		opts:     m.opts,
		locks:    m.locks,
		log:      m.opts.Logger.With("tenant", tenantID),
	}

	m.mu.Lock()
	prev := m.current
	m.current = s
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
		if prev.tenantID != tenantID {
			m.opts.Logger.Info(ctx, "store re-initialized for another tenant, previous key discarded")
		}
	}
	return s, nil
}

// Current returns the active Store, or common.ErrNotInitialized.
func (m *Manager) Current() (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, common.ErrNotInitialized
	}
	return m.current, nil
}

// Close destroys the current key.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Close()
		m.current = nil
	}
}
