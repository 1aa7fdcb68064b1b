// Package cryptox holds the primitive operations used by the key service and
// the record store: PBKDF2 key derivation, AES-256-GCM sealing with a fresh
// 96-bit nonce per call, and argon2id credential verifiers.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// NonceSize is the GCM standard nonce length (96 bits).
	NonceSize = 12
)

var ErrInvalidKeySize = errors.New("cryptox: key must be 32 bytes")

// DeriveKey stretches material with PBKDF2-HMAC-SHA256.
func DeriveKey(material, salt []byte, iterations int) []byte {
	return pbkdf2.Key(material, salt, iterations, KeySize, sha256.New)
}

// DeriveCredentialKey stretches a signer credential with argon2id.
func DeriveCredentialKey(credential, salt []byte) []byte {
	return argon2.IDKey(credential, salt, 1, 64*1024, 4, 32)
}

// MakeVerifier returns the value stored in place of a credential.
func MakeVerifier(credentialKey []byte) []byte {
	hash := sha256.Sum256(credentialKey)
	return hash[:]
}

// CheckVerifier compares a stored verifier with a freshly derived candidate in
// constant time.
func CheckVerifier(stored, candidate []byte) bool {
	return subtle.ConstantTimeCompare(stored, candidate) == 1
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext with AES-256-GCM under a newly drawn nonce. aad is
// authenticated but not encrypted; pass the same aad to Open.
func Seal(key, plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("nonce: %w", err)
	}

	return aesgcm.Seal(nil, nonce, plaintext, aad), nonce, nil
}

// Open authenticates and decrypts. Any authentication failure, wrong key or
// malformed nonce is reported as common.ErrDecryption.
func Open(key, ciphertext, nonce, aad []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length %d", common.ErrDecryption, len(nonce))
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return plaintext, nil
}
