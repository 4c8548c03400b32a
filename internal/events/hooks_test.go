package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopBefore(ctx context.Context, evt *UnifiedEvent) (*HookDecision, error) {
	return &HookDecision{Continue: true}, nil
}

func noopAfter(ctx context.Context, evt *UnifiedEvent) error { return nil }

func TestBeforeHookRegistry_RegisterValidates(t *testing.T) {
	reg := NewBeforeHookRegistry()

	assert.Error(t, reg.Register(&BeforeHook{EventPattern: "*", Handler: noopBefore}))
	assert.Error(t, reg.Register(&BeforeHook{ID: "h1", EventPattern: "*"}))
	assert.Error(t, reg.Register(&BeforeHook{ID: "h1", EventPattern: "bad..pattern", Handler: noopBefore}))
	assert.NoError(t, reg.Register(&BeforeHook{ID: "h1", EventPattern: "*", Handler: noopBefore}))
}

func TestBeforeHookRegistry_ReplaceOnSameID(t *testing.T) {
	reg := NewBeforeHookRegistry()
	require.NoError(t, reg.Register(&BeforeHook{ID: "h1", EventPattern: "auth", Handler: noopBefore, Enabled: true, Priority: 1}))
	require.NoError(t, reg.Register(&BeforeHook{ID: "h1", EventPattern: "auth", Handler: noopBefore, Enabled: true, Priority: 9}))

	hooks := reg.List()
	require.Len(t, hooks, 1)
	assert.Equal(t, 9, hooks[0].Priority)
}

func TestBeforeHookRegistry_GetByEventTypeOrdering(t *testing.T) {
	reg := NewBeforeHookRegistry()
	require.NoError(t, reg.Register(&BeforeHook{ID: "b", EventPattern: "auth.*", Handler: noopBefore, Enabled: true, Priority: 5}))
	require.NoError(t, reg.Register(&BeforeHook{ID: "a", EventPattern: "auth.*", Handler: noopBefore, Enabled: true, Priority: 5}))
	require.NoError(t, reg.Register(&BeforeHook{ID: "c", EventPattern: "auth.*", Handler: noopBefore, Enabled: true, Priority: 10}))
	require.NoError(t, reg.Register(&BeforeHook{ID: "disabled", EventPattern: "auth.*", Handler: noopBefore, Enabled: false, Priority: 99}))
	require.NoError(t, reg.Register(&BeforeHook{ID: "other", EventPattern: "flow.*", Handler: noopBefore, Enabled: true, Priority: 99}))

	hooks := reg.GetByEventType("auth.login.succeeded")
	require.Len(t, hooks, 3)
	// Priority descending, ties broken by id ascending.
	assert.Equal(t, "c", hooks[0].ID)
	assert.Equal(t, "a", hooks[1].ID)
	assert.Equal(t, "b", hooks[2].ID)
}

func TestBeforeHookRegistry_SetEnabled(t *testing.T) {
	reg := NewBeforeHookRegistry()
	require.NoError(t, reg.Register(&BeforeHook{ID: "h1", EventPattern: "*", Handler: noopBefore, Enabled: true}))

	require.NoError(t, reg.SetEnabled("h1", false))
	assert.Empty(t, reg.GetByEventType("anything"))

	require.NoError(t, reg.SetEnabled("h1", true))
	assert.Len(t, reg.GetByEventType("anything"), 1)

	assert.Error(t, reg.SetEnabled("missing", true))
}

func TestBeforeHookRegistry_Unregister(t *testing.T) {
	reg := NewBeforeHookRegistry()
	require.NoError(t, reg.Register(&BeforeHook{ID: "h1", EventPattern: "*", Handler: noopBefore, Enabled: true}))

	reg.Unregister("h1")
	assert.Empty(t, reg.List())

	// Unregistering an unknown id is a no-op.
	reg.Unregister("h1")
}

func TestAfterHookRegistry_MirrorsBeforeBehavior(t *testing.T) {
	reg := NewAfterHookRegistry()
	require.NoError(t, reg.Register(&AfterHook{ID: "audit", EventPattern: "*", Handler: noopAfter, Enabled: true, Async: true}))
	require.NoError(t, reg.Register(&AfterHook{ID: "notify", EventPattern: "flow.*", Handler: noopAfter, Enabled: true, Priority: 3}))

	hooks := reg.GetByEventType("flow.session.initialized")
	require.Len(t, hooks, 2)
	assert.Equal(t, "notify", hooks[0].ID)

	all := reg.List()
	require.Len(t, all, 2)
	assert.Equal(t, "audit", all[0].ID)
}
