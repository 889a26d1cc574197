package lifecycle

import (
	"context"
	"time"
)

// Cache is the fast key-value store mirroring agent records. Get returns
// an error satisfying errors.IsNotFound from pkg/errors for a missing key.
// The Redis client and the in-memory store implement it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Forget(ctx context.Context, keys ...string) error
}

// FileStore is the durable store holding one JSON document per agent.
// Paths are slash separated and relative to the store root. Get returns
// an error satisfying errors.IsNotFound for a missing path, and List
// returns the paths directly under prefix.
//
// Implementations exist for the local disk, MinIO buckets, and a
// PostgreSQL table.
type FileStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
}
