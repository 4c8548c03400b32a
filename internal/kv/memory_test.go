package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGetDel(t *testing.T) {
	s := NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, s.Del(ctx, "k", "also-missing"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "ephemeral", []byte("x"), 20*time.Millisecond))

	_, err := s.Get(ctx, "ephemeral")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := s.Get(ctx, "ephemeral")
		return err == ErrNotFound
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_SetNX(t *testing.T) {
	s := NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	set, err := s.SetNX(ctx, "once", []byte("1"), 0)
	require.NoError(t, err)
	assert.True(t, set)

	set, err = s.SetNX(ctx, "once", []byte("2"), 0)
	require.NoError(t, err)
	assert.False(t, set)

	// The original value survives the failed second set.
	got, err := s.Get(ctx, "once")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
}

func TestMemoryStore_SetNXAfterExpiry(t *testing.T) {
	s := NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	set, err := s.SetNX(ctx, "k", []byte("1"), 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, set)

	assert.Eventually(t, func() bool {
		set, err := s.SetNX(ctx, "k", []byte("2"), 0)
		return err == nil && set
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("abc"), 0))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	got[0] = 'z'

	fresh, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), fresh)
}
