package cache

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrEmptyPayload is returned when asked to store nothing.
	ErrEmptyPayload = errors.New("refusing to cache empty payload")

	// ErrInvalidKey is returned for keys that are not md5 digests.
	ErrInvalidKey = errors.New("invalid cache key")
)

// Store is the server-side cache keyed by endpoint identity.
// Implementations are safe for concurrent use; concurrent writers to the
// same key resolve last-writer-wins.
type Store interface {
	// Get returns a fresh entry or ErrCacheMiss.
	Get(ctx context.Context, key Key) (*Entry, error)

	// Set stores data under key and returns the stored entry.
	Set(ctx context.Context, key Key, data []byte) (*Entry, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// Clear removes every entry owned by the store.
	Clear(ctx context.Context) error
}
