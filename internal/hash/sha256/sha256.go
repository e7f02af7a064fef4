// Package sha256 provides SHA-256 digests for snapshot integrity checks.
package sha256

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Hasher implements restaurant.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether digest matches data. Comparison is case-insensitive
// and constant-time.
func (h *Hasher) Verify(data []byte, digest string) bool {
	got, _ := h.Hash(data)
	want := strings.ToLower(strings.TrimSpace(digest))
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
