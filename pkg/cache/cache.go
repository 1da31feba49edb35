package cache

import (
	"context"
	"time"
)

//go:generate mockgen -source=cache.go -destination=mock_cache.go -package=cache

// Token is the version of a key observed by Gets. It is opaque and only
// meaningful to the cache that issued it. A nil Token stands for a key
// that did not exist when it was read.
type Token interface{}

// Cache is the key-value service shared by all the processes allocating
// from the same pools. Every implementation must guarantee that
// CompareAndSwap and Add are atomic.
type Cache interface {
	// Get returns the value of key, or ErrCacheMiss
	Get(ctx context.Context, key string) ([]byte, error)

	// GetMulti returns the values of the keys found, missing keys are
	// simply left out of the result
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)

	// Gets reads key together with its current version. A missing key
	// yields a nil value and a nil Token, without error
	Gets(ctx context.Context, key string) ([]byte, Token, error)

	// CompareAndSwap writes value only if key is still at the version
	// returned by Gets. A nil token means the key must not exist yet.
	// It returns false when another writer got there first
	CompareAndSwap(ctx context.Context, key string, value []byte, token Token, ttl time.Duration) (bool, error)

	// CompareAndDelete removes key only if it is still at the version
	// returned by Gets. It returns false when the key was rewritten or
	// removed in the meantime
	CompareAndDelete(ctx context.Context, key string, token Token) (bool, error)

	// Add creates key only if it does not exist, returning false otherwise
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// SetMulti writes all the items unconditionally, each key being
	// prefixed with keyPrefix
	SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration, keyPrefix string) error

	// Delete removes key. Removing a missing key is not an error
	Delete(ctx context.Context, key string) error

	// DeleteMulti removes all the keys, ignoring the missing ones
	DeleteMulti(ctx context.Context, keys []string) error

	// Close releases the resources held by the client
	Close() error
}
