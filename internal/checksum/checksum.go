// Package checksum computes stable fingerprints over structured data.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/dmitrijs2005/medkeeper/internal/canonjson"
)

// Of returns the hex SHA-256 of the canonical JSON form of v.
func Of(v any) (string, error) {
	c, err := canonjson.Marshal(v)
	if err != nil {
		return "", err
	}
	return Bytes(c), nil
}

// Bytes returns the hex SHA-256 of b as is.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the checksum of v and compares it with want in constant
// time. An encoding failure counts as a mismatch.
func Verify(v any, want string) bool {
	got, err := Of(v)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
