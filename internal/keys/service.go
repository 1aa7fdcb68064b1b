// Package keys derives the per-tenant record encryption key.
//
// Key material is tenantID | sessionSecret (or a fixed default) | origin,
// stretched with PBKDF2-HMAC-SHA256 over a random per-device salt kept in the
// metadata store. A missing or malformed salt is replaced by a new one, which
// makes every record sealed under the old salt unreadable.
package keys

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/metadata"
)

const (
	SaltKey           = "device_salt"
	SaltSize          = 32
	MinIterations     = 100_000
	DefaultIterations = 210_000
	DefaultOrigin     = "medkeeper://local"

	defaultSessionSecret = "medkeeper-offline-session"
)

// deriveKey is swapped in tests to simulate a provider failure.
var deriveKey = func(material, salt []byte, iterations int) ([]byte, error) {
	return cryptox.DeriveKey(material, salt, iterations), nil
}

type Options struct {
	Origin     string
	Iterations int
	Logger     logging.Logger
}

type Service struct {
	salts      metadata.Repository
	origin     string
	iterations int
	log        logging.Logger

	mu sync.Mutex
}

func NewService(salts metadata.Repository, opts Options) *Service {
	if opts.Origin == "" {
		opts.Origin = DefaultOrigin
	}
	if opts.Iterations == 0 {
		opts.Iterations = DefaultIterations
	}
	if opts.Iterations < MinIterations {
		opts.Iterations = MinIterations
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Service{
		salts:      salts,
		origin:     opts.Origin,
		iterations: opts.Iterations,
		log:        opts.Logger,
	}
}

// Iterations returns the effective PBKDF2 iteration count.
func (s *Service) Iterations() int {
	return s.iterations
}

// DeriveKey returns a fresh Key for tenantID. An empty sessionSecret selects
// the built-in default. Every failure is a *common.KeyDerivationError.
func (s *Service) DeriveKey(ctx context.Context, tenantID, sessionSecret string) (*Key, error) {
	if tenantID == "" {
		return nil, &common.KeyDerivationError{TenantID: tenantID, Err: fmt.Errorf("%w: empty tenant", common.ErrValidation)}
	}
	if sessionSecret == "" {
		sessionSecret = defaultSessionSecret
	}

	salt, err := s.loadSalt(ctx)
	if err != nil {
		return nil, &common.KeyDerivationError{TenantID: tenantID, Err: err}
	}

	material := []byte(tenantID + "|" + sessionSecret + "|" + s.origin)
	defer common.WipeByteArray(material)

	raw, err := deriveKey(material, salt, s.iterations)
	if err != nil {
		return nil, &common.KeyDerivationError{TenantID: tenantID, Err: err}
	}
	if len(raw) != cryptox.KeySize {
		return nil, &common.KeyDerivationError{TenantID: tenantID, Err: cryptox.ErrInvalidKeySize}
	}

	return newKey(tenantID, raw), nil
}

// loadSalt returns the persisted salt, generating and storing a new one when
// the stored value is missing, unreadable or of the wrong length.
func (s *Service) loadSalt(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	salt, err := s.salts.Get(ctx, SaltKey)
	switch {
	case err != nil:
		s.log.Warn(ctx, "device salt unreadable, generating a new one; existing records become unreadable", "error", err)
	case salt == nil:
		s.log.Info(ctx, "no device salt found, generating one")
	case len(salt) != SaltSize:
		s.log.Warn(ctx, "device salt corrupt, generating a new one; existing records become unreadable", "length", len(salt))
	default:
		return salt, nil
	}

	salt = common.GenerateRandByteArray(SaltSize)
	if err := s.salts.Set(ctx, SaltKey, salt); err != nil {
		return nil, fmt.Errorf("persist device salt: %w", err)
	}
	return salt, nil
}
