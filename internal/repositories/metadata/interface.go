// Package metadata stores small non-encrypted key/value pairs such as the
// per-device KDF salt.
//
// Get returns (nil, nil) for a missing key. Two implementations exist: the
// SQLite table shared with the record store, and a Badger directory for
// deployments that keep the salt outside the main database file.
package metadata

import (
	"context"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set replaces the value of key.
	Set(ctx context.Context, key string, value []byte) error
}
