package keys

import (
	"sync"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
)

// Key is a derived AES-256 key bound to one tenant. The bytes live in a
// memguard enclave and are only unsealed for the duration of a single
// Seal or Open call. There is no accessor for the raw key.
type Key struct {
	tenantID string

	mu      sync.RWMutex
	enclave *memguard.Enclave
}

// newKey takes ownership of raw and wipes it.
func newKey(tenantID string, raw []byte) *Key {
	return &Key{tenantID: tenantID, enclave: memguard.NewEnclave(raw)}
}

// TenantID returns the tenant the key was derived for.
func (k *Key) TenantID() string {
	return k.tenantID
}

func (k *Key) with(fn func(raw []byte) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.enclave == nil {
		return common.ErrNotInitialized
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}

// Seal encrypts plaintext under a fresh nonce, authenticating aad.
func (k *Key) Seal(plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	err = k.with(func(raw []byte) error {
		ciphertext, nonce, err = cryptox.Seal(raw, plaintext, aad)
		return err
	})
	return ciphertext, nonce, err
}

// Open authenticates and decrypts. Failures match common.ErrDecryption.
func (k *Key) Open(ciphertext, nonce, aad []byte) (plaintext []byte, err error) {
	err = k.with(func(raw []byte) error {
		plaintext, err = cryptox.Open(raw, ciphertext, nonce, aad)
		return err
	})
	return plaintext, err
}

// Destroy drops the enclave. Later Seal and Open calls fail with
// common.ErrNotInitialized.
func (k *Key) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.enclave = nil
}

// Destroyed reports whether Destroy has been called.
func (k *Key) Destroyed() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.enclave == nil
}
