// Package kv provides the narrow key/value interface the flow registry and
// the event deduplication cache are built on, with a go-redis adapter and an
// in-memory fallback.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal contract the engine needs from a key/value backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// SetNX sets the key only if it does not already exist and reports
	// whether the write happened. Used for deduplication probes.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}
