package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fossabot/authrim-sub000/internal/kv"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *BeforeHookRegistry, *AfterHookRegistry, *HandlerRegistry) {
	t.Helper()
	before := NewBeforeHookRegistry()
	after := NewAfterHookRegistry()
	handlers := NewHandlerRegistry()
	d := NewDispatcher(before, after, handlers, nil, DispatcherConfig{
		BeforeTimeout: 200 * time.Millisecond,
		AfterTimeout:  200 * time.Millisecond,
	})
	return d, before, after, handlers
}

func TestPublish_FillsIDAndTimestamp(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	evt := &UnifiedEvent{Type: "flow.session.initialized", TenantID: "t1"}
	result, err := d.Publish(context.Background(), evt)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.NotEmpty(t, evt.ID)
	assert.NotEmpty(t, evt.Timestamp)
	assert.Equal(t, evt.ID, result.EventID)
	assert.True(t, result.Delivery.AuditLog)
}

func TestRunBeforeHooks_TimeoutDenies(t *testing.T) {
	d, before, _, _ := newTestDispatcher(t)

	require.NoError(t, before.Register(&BeforeHook{
		ID: "slow", EventPattern: "*", Enabled: true, TimeoutMs: 50,
		Handler: func(ctx context.Context, evt *UnifiedEvent) (*HookDecision, error) {
			time.Sleep(500 * time.Millisecond)
			return &HookDecision{Continue: true}, nil
		},
	}))

	outcome := d.RunBeforeHooks(context.Background(), NewEvent("auth.login.requested", "t1", nil))
	assert.False(t, outcome.Continue)
	assert.Equal(t, DenyCodeTimeout, outcome.DenyCode)
	assert.Equal(t, "Hook timeout", outcome.DenyReason)
}

func TestRunBeforeHooks_ErrorFailsOpen(t *testing.T) {
	d, before, _, _ := newTestDispatcher(t)

	require.NoError(t, before.Register(&BeforeHook{
		ID: "broken", EventPattern: "*", Enabled: true,
		Handler: func(ctx context.Context, evt *UnifiedEvent) (*HookDecision, error) {
			return nil, errors.New("backend unavailable")
		},
	}))

	outcome := d.RunBeforeHooks(context.Background(), NewEvent("auth.login.requested", "t1", nil))
	assert.True(t, outcome.Continue)
}

func TestRunBeforeHooks_PanicFailsOpen(t *testing.T) {
	d, before, _, _ := newTestDispatcher(t)

	require.NoError(t, before.Register(&BeforeHook{
		ID: "panicky", EventPattern: "*", Enabled: true,
		Handler: func(ctx context.Context, evt *UnifiedEvent) (*HookDecision, error) {
			panic("boom")
		},
	}))

	outcome := d.RunBeforeHooks(context.Background(), NewEvent("auth.login.requested", "t1", nil))
	assert.True(t, outcome.Continue)
}

func TestRunBeforeHooks_DenyStopsChain(t *testing.T) {
	d, before, _, _ := newTestDispatcher(t)
	var laterRan atomic.Bool

	require.NoError(t, before.Register(&BeforeHook{
		ID: "gate", EventPattern: "*", Enabled: true, Priority: 10,
		Handler: func(ctx context.Context, evt *UnifiedEvent) (*HookDecision, error) {
			return &HookDecision{Continue: false, DenyCode: "POLICY_DENIED", DenyReason: "blocked by policy"}, nil
		},
	}))
	require.NoError(t, before.Register(&BeforeHook{
		ID: "later", EventPattern: "*", Enabled: true, Priority: 1,
		Handler: func(ctx context.Context, evt *UnifiedEvent) (*HookDecision, error) {
			laterRan.Store(true)
			return &HookDecision{Continue: true}, nil
		},
	}))

	outcome := d.RunBeforeHooks(context.Background(), NewEvent("auth.login.requested", "t1", nil))
	assert.False(t, outcome.Continue)
	assert.Equal(t, "POLICY_DENIED", outcome.DenyCode)
	assert.False(t, laterRan.Load())
}

func TestPublish_AnnotationsMergedIntoEvent(t *testing.T) {
	d, before, _, _ := newTestDispatcher(t)

	require.NoError(t, before.Register(&BeforeHook{
		ID: "risk", EventPattern: "*", Enabled: true, Priority: 10,
		Handler: func(ctx context.Context, evt *UnifiedEvent) (*HookDecision, error) {
			return &HookDecision{Continue: true, Annotations: map[string]interface{}{"risk": "low", "shared": "first"}}, nil
		},
	}))
	require.NoError(t, before.Register(&BeforeHook{
		ID: "geo", EventPattern: "*", Enabled: true, Priority: 1,
		Handler: func(ctx context.Context, evt *UnifiedEvent) (*HookDecision, error) {
			return &HookDecision{Continue: true, Annotations: map[string]interface{}{"geo": "eu", "shared": "second"}}, nil
		},
	}))

	evt := NewEvent("auth.login.requested", "t1", nil)
	result, err := d.Publish(context.Background(), evt)
	require.NoError(t, err)
	require.True(t, result.Success)

	ann, ok := evt.Data["annotations"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "low", ann["risk"])
	assert.Equal(t, "eu", ann["geo"])
	// Later hooks (lower priority, run second) overwrite shared keys.
	assert.Equal(t, "second", ann["shared"])
}

func TestPublish_DeniedEventReportsDenyCode(t *testing.T) {
	d, before, _, _ := newTestDispatcher(t)

	require.NoError(t, before.Register(&BeforeHook{
		ID: "gate", EventPattern: "*", Enabled: true,
		Handler: func(ctx context.Context, evt *UnifiedEvent) (*HookDecision, error) {
			return &HookDecision{Continue: false, DenyCode: "POLICY_DENIED", DenyReason: "nope"}, nil
		},
	}))

	result, err := d.Publish(context.Background(), NewEvent("auth.login.requested", "t1", nil))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "POLICY_DENIED", result.DenyCode)
	assert.Contains(t, result.Errors, "nope")
}

func TestPublish_Deduplication(t *testing.T) {
	store := kv.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	d := NewDispatcher(nil, nil, nil, NewKVDedup(store), DispatcherConfig{})

	first := NewEvent("flow.session.initialized", "t1", nil)
	first.DeduplicationKey = "dedup-1"
	result, err := d.Publish(context.Background(), first)
	require.NoError(t, err)
	assert.False(t, result.Deduplicated)

	second := NewEvent("flow.session.initialized", "t1", nil)
	second.DeduplicationKey = "dedup-1"
	result, err = d.Publish(context.Background(), second)
	require.NoError(t, err)
	assert.True(t, result.Deduplicated)
	assert.True(t, result.Success)
}

func TestPublish_HandlerCounts(t *testing.T) {
	d, _, _, handlers := newTestDispatcher(t)

	require.NoError(t, handlers.Register(&Handler{
		ID: "ok", EventPattern: "*", Enabled: true,
		Fn: func(ctx context.Context, evt *UnifiedEvent) error { return nil },
	}))
	require.NoError(t, handlers.Register(&Handler{
		ID: "bad", EventPattern: "*", Enabled: true,
		Fn: func(ctx context.Context, evt *UnifiedEvent) error { return errors.New("sink down") },
	}))

	result, err := d.Publish(context.Background(), NewEvent("flow.session.initialized", "t1", nil))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivery.Handlers.Sent)
	assert.Equal(t, 1, result.Delivery.Handlers.Failed)
	// Handler failures never fail the publish.
	assert.True(t, result.Success)
}

func TestPublish_SyncAfterHookErrorSkippedByDefault(t *testing.T) {
	d, _, after, _ := newTestDispatcher(t)
	var secondRan atomic.Bool

	require.NoError(t, after.Register(&AfterHook{
		ID: "first", EventPattern: "*", Enabled: true, Priority: 10,
		Handler: func(ctx context.Context, evt *UnifiedEvent) error { return errors.New("write failed") },
	}))
	require.NoError(t, after.Register(&AfterHook{
		ID: "second", EventPattern: "*", Enabled: true, Priority: 1,
		Handler: func(ctx context.Context, evt *UnifiedEvent) error {
			secondRan.Store(true)
			return nil
		},
	}))

	result, err := d.Publish(context.Background(), NewEvent("flow.session.initialized", "t1", nil))
	require.NoError(t, err)
	// A hook registered without StopOnError is best-effort: its error is
	// logged, the rest of the chain runs, and the publish succeeds.
	assert.True(t, result.Success, "publish succeeds despite hook error")
	assert.Empty(t, result.Errors)
	assert.True(t, secondRan.Load(), "later hooks still run")
}

func TestPublish_StopOnErrorHaltsChain(t *testing.T) {
	d, _, after, _ := newTestDispatcher(t)
	var secondRan atomic.Bool

	require.NoError(t, after.Register(&AfterHook{
		ID: "first", EventPattern: "*", Enabled: true, Priority: 10, StopOnError: true,
		Handler: func(ctx context.Context, evt *UnifiedEvent) error { return errors.New("write failed") },
	}))
	require.NoError(t, after.Register(&AfterHook{
		ID: "second", EventPattern: "*", Enabled: true, Priority: 1,
		Handler: func(ctx context.Context, evt *UnifiedEvent) error {
			secondRan.Store(true)
			return nil
		},
	}))

	result, err := d.Publish(context.Background(), NewEvent("flow.session.initialized", "t1", nil))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Errors)
	assert.False(t, secondRan.Load())
}

func TestPublish_CyclicPayloadDoesNotWedgeLogging(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	data := map[string]interface{}{"k": "v"}
	data["self"] = data

	result, err := d.Publish(context.Background(), NewEvent("flow.session.initialized", "t1", data))
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestPublish_AsyncAfterHookDoesNotBlock(t *testing.T) {
	d, _, after, _ := newTestDispatcher(t)
	done := make(chan struct{})

	require.NoError(t, after.Register(&AfterHook{
		ID: "slow-async", EventPattern: "*", Enabled: true, Async: true,
		Handler: func(ctx context.Context, evt *UnifiedEvent) error {
			defer close(done)
			time.Sleep(300 * time.Millisecond)
			return nil
		},
	}))

	start := time.Now()
	result, err := d.Publish(context.Background(), NewEvent("flow.session.initialized", "t1", nil))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Less(t, time.Since(start), 300*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async after-hook never ran")
	}
}

func TestSubscribe_ReceivesPublishedEvents(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	ch := d.Subscribe()
	defer d.Unsubscribe(ch)

	evt := NewEvent("flow.session.initialized", "t1", nil)
	_, err := d.Publish(context.Background(), evt)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, evt.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestStats_TracksCounters(t *testing.T) {
	d, before, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	_, err := d.Publish(ctx, NewEvent("a.b.c", "t1", nil))
	require.NoError(t, err)

	require.NoError(t, before.Register(&BeforeHook{
		ID: "gate", EventPattern: "*", Enabled: true,
		Handler: func(ctx context.Context, evt *UnifiedEvent) (*HookDecision, error) {
			return &HookDecision{Continue: false, DenyCode: "X", DenyReason: "x"}, nil
		},
	}))
	_, err = d.Publish(ctx, NewEvent("a.b.c", "t1", nil))
	require.NoError(t, err)

	stats := d.Stats()
	assert.Equal(t, int64(1), stats["published"])
	assert.Equal(t, int64(1), stats["denied"])
	assert.Equal(t, int64(0), stats["deduplicated"])
}
