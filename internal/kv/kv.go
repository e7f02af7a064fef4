// Package kv holds the key-value backends for snapshots and annotations.
// Every backend stores one opaque string per key with last-write-wins
// semantics; see restaurant.KVStore.
package kv

import (
	"errors"
	"strings"
)

// ErrInvalidKey is returned for empty or malformed keys.
var ErrInvalidKey = errors.New("invalid kv key")

// ValidateKey rejects keys no backend can store safely.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "\x00\n\r") {
		return ErrInvalidKey
	}
	return nil
}
