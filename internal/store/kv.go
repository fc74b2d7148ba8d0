package store

import (
	"context"
	"errors"
)

// MaxValueBytes is the hard per-key size ceiling of the persistence
// primitive. Chunk sizing must stay under it.
const MaxValueBytes = 8 * 1024

var (
	// ErrKeyNotFound is returned by Get for missing keys.
	ErrKeyNotFound = errors.New("key not found")

	// ErrValueTooLarge is returned by Set when a value exceeds the
	// per-key ceiling.
	ErrValueTooLarge = errors.New("value exceeds per-key size limit")
)

// KV is the persistence primitive: an asynchronous key-value store with a
// per-key size ceiling and no cross-key atomicity. The concrete
// implementations are *PGKV (pgx-backed) and testutil's MemKV.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	// Keys returns all keys with the given prefix, in unspecified order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
