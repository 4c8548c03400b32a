package events

import (
	"context"
	"time"

	"github.com/fossabot/authrim-sub000/internal/kv"
)

// DedupCache answers "has this key been published inside the TTL window".
type DedupCache interface {
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// KVDedup implements DedupCache over the key/value store (Redis in
// production, in-memory otherwise). SetNX makes the probe atomic.
type KVDedup struct {
	store kv.Store
}

func NewKVDedup(store kv.Store) *KVDedup {
	return &KVDedup{store: store}
}

func (d *KVDedup) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set, err := d.store.SetNX(ctx, "event:dedup:"+key, []byte("1"), ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}
