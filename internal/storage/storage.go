// Package storage provides key/value storage abstractions mirroring the
// two browser stores the pipeline depends on: a tab-scoped in-memory
// store and an origin-scoped persistent store.
package storage

import "errors"

// Common errors for storage operations.
var (
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrUnavailable   = errors.New("storage unavailable")
)

// KeyValueStore abstracts string-keyed storage.
// Implementations include an in-memory store (tab lifetime) and a
// SQLite-backed store (persists across restarts).
type KeyValueStore interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)

	// Set stores value under key, overwriting any existing value.
	Set(key, value string) error

	// Remove deletes the value for key. Removing a missing key is not
	// an error.
	Remove(key string) error

	// Keys returns all keys that start with prefix, in unspecified order.
	Keys(prefix string) ([]string, error)
}
