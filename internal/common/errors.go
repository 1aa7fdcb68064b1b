// Package common defines shared sentinel errors and small helpers used across
// medkeeper components. Callers should use errors.Is / errors.As to match them.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Key management. Fatal: there is no plaintext fallback.
	ErrKeyDerivation  = errors.New("key derivation failed")
	ErrNotInitialized = errors.New("store is not initialized")

	// Recoverable storage integrity errors. Callers above the store never see
	// these, they are logged and turned into "not found".
	ErrDecryption       = errors.New("decryption failed")
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// Signature lifecycle.
	ErrSignatureState = errors.New("signature request is not pending")
	ErrRequestExpired = errors.New("signature request expired")
	ErrInvalidToken   = errors.New("invalid token")
	ErrUnauthorized   = errors.New("unauthorized")

	// Share tokens. ErrShareUnavailable is the only outcome shown to the public.
	ErrShareUnavailable = errors.New("link expired or invalid")

	// Input validation.
	ErrValidation = errors.New("validation error")
)

// KeyDerivationError reports a KDF or crypto provider failure. It matches
// ErrKeyDerivation with errors.Is.
type KeyDerivationError struct {
	TenantID string
	Err      error
}

func (e *KeyDerivationError) Error() string {
	return fmt.Sprintf("key derivation for tenant %q: %v", e.TenantID, e.Err)
}

func (e *KeyDerivationError) Unwrap() error { return e.Err }

func (e *KeyDerivationError) Is(target error) bool { return target == ErrKeyDerivation }
