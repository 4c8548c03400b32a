package flow

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fossabot/authrim-sub000/internal/kv"
)

func testRedisStore(t *testing.T) kv.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return kv.NewRedisStoreFromClient(client)
}

func TestRegistry_BuiltinResolution(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.RegisterBuiltin("login", linearDefinition()))

	def, err := reg.GetFlow(context.Background(), "login", "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "flow-1", def.ID)
}

func TestRegistry_UnknownTypeResolvesNil(t *testing.T) {
	reg := NewRegistry(nil)

	def, err := reg.GetFlow(context.Background(), "nonexistent", "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, def)
}

func TestRegistry_TenantFlowFromStore(t *testing.T) {
	store := testRedisStore(t)
	reg := NewRegistry(store)
	ctx := context.Background()

	def := linearDefinition()
	def.ID = "tenant-flow"
	require.NoError(t, reg.PutTenantFlow(ctx, "tenant-a", "signup", def))

	loaded, err := reg.GetFlow(ctx, "signup", "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "tenant-flow", loaded.ID)
	assert.Len(t, loaded.Nodes, 3)

	// Another tenant does not see it.
	other, err := reg.GetFlow(ctx, "signup", "tenant-b")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestRegistry_BuiltinWinsOverStore(t *testing.T) {
	store := testRedisStore(t)
	reg := NewRegistry(store)
	ctx := context.Background()

	stored := linearDefinition()
	stored.ID = "stored"
	require.NoError(t, reg.PutTenantFlow(ctx, "tenant-a", "login", stored))

	builtin := linearDefinition()
	builtin.ID = "builtin"
	require.NoError(t, reg.RegisterBuiltin("login", builtin))

	got, err := reg.GetFlow(ctx, "login", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "builtin", got.ID)
}

func TestRegistry_MalformedStoreRecordRejected(t *testing.T) {
	store := testRedisStore(t)
	reg := NewRegistry(store)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "flow:tenant-a:bad", []byte("{not json"), 0))
	_, err := reg.GetFlow(ctx, "bad", "tenant-a")
	assert.Error(t, err)

	// Valid JSON but failing the shape check is also rejected.
	raw, _ := json.Marshal(&Definition{ID: ""})
	require.NoError(t, store.Set(ctx, "flow:tenant-a:empty", raw, 0))
	_, err = reg.GetFlow(ctx, "empty", "tenant-a")
	assert.Error(t, err)
}

func TestRegistry_RegisterBuiltinValidatesShape(t *testing.T) {
	reg := NewRegistry(nil)

	assert.Error(t, reg.RegisterBuiltin("", linearDefinition()))
	assert.Error(t, reg.RegisterBuiltin("login", &Definition{ID: "x", Nodes: []Node{{ID: "n", Type: "bogus"}}}))
}
