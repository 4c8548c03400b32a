package events

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

// BeforeHookFunc validates, denies, or annotates an event. It must not
// perform side effects.
type BeforeHookFunc func(ctx context.Context, evt *UnifiedEvent) (*HookDecision, error)

// AfterHookFunc performs side effects after the event has been accepted.
type AfterHookFunc func(ctx context.Context, evt *UnifiedEvent) error

// HookDecision is the before-hook verdict.
type HookDecision struct {
	Continue    bool                   `json:"continue"`
	Annotations map[string]interface{} `json:"annotations,omitempty"`
	DenyReason  string                 `json:"deny_reason,omitempty"`
	DenyCode    string                 `json:"deny_code,omitempty"`
}

// BeforeHook subscribes a blocking validator to an event pattern.
type BeforeHook struct {
	ID           string
	Name         string
	EventPattern string
	Handler      BeforeHookFunc
	Priority     int
	Enabled      bool
	TimeoutMs    int
}

// AfterHook subscribes a side-effecting handler. Async hooks are
// fire-and-forget; sync hooks are awaited with TimeoutMs. A sync hook
// error is logged and the chain continues unless StopOnError is set,
// in which case the error surfaces and later hooks are skipped.
type AfterHook struct {
	ID           string
	Name         string
	EventPattern string
	Handler      AfterHookFunc
	Priority     int
	Enabled      bool
	TimeoutMs    int
	Async        bool
	StopOnError  bool
}

// BeforeHookRegistry is an in-memory registry keyed by hook id.
// Registration with an existing id replaces the prior entry.
type BeforeHookRegistry struct {
	mu     sync.RWMutex
	hooks  map[string]*BeforeHook
	logger *log.Logger
}

func NewBeforeHookRegistry() *BeforeHookRegistry {
	return &BeforeHookRegistry{
		hooks:  make(map[string]*BeforeHook),
		logger: log.New(log.Writer(), "[HOOKS] ", log.LstdFlags),
	}
}

func (r *BeforeHookRegistry) Register(h *BeforeHook) error {
	if err := validateSubscription(h.ID, h.EventPattern, h.Handler == nil); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[h.ID] = h
	r.logger.Printf("Registered before-hook %s (pattern %s, priority %d)", h.ID, h.EventPattern, h.Priority)
	return nil
}

func (r *BeforeHookRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hooks, id)
}

func (r *BeforeHookRegistry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hooks[id]
	if !ok {
		return fmt.Errorf("before-hook %s not found", id)
	}
	h.Enabled = enabled
	return nil
}

// GetByEventType returns enabled hooks matching the event type, ordered
// by priority descending; ties break on id for deterministic runs.
func (r *BeforeHookRegistry) GetByEventType(eventType string) []*BeforeHook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*BeforeHook
	for _, h := range r.hooks {
		if h.Enabled && MatchEventPattern(h.EventPattern, eventType) {
			matches = append(matches, h)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return matches[i].ID < matches[j].ID
	})
	return matches
}

func (r *BeforeHookRegistry) List() []*BeforeHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*BeforeHook, 0, len(r.hooks))
	for _, h := range r.hooks {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AfterHookRegistry mirrors the before-hook registry for after-hooks.
type AfterHookRegistry struct {
	mu     sync.RWMutex
	hooks  map[string]*AfterHook
	logger *log.Logger
}

func NewAfterHookRegistry() *AfterHookRegistry {
	return &AfterHookRegistry{
		hooks:  make(map[string]*AfterHook),
		logger: log.New(log.Writer(), "[HOOKS] ", log.LstdFlags),
	}
}

func (r *AfterHookRegistry) Register(h *AfterHook) error {
	if err := validateSubscription(h.ID, h.EventPattern, h.Handler == nil); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[h.ID] = h
	r.logger.Printf("Registered after-hook %s (pattern %s, priority %d, async %t)", h.ID, h.EventPattern, h.Priority, h.Async)
	return nil
}

func (r *AfterHookRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hooks, id)
}

func (r *AfterHookRegistry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hooks[id]
	if !ok {
		return fmt.Errorf("after-hook %s not found", id)
	}
	h.Enabled = enabled
	return nil
}

func (r *AfterHookRegistry) GetByEventType(eventType string) []*AfterHook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*AfterHook
	for _, h := range r.hooks {
		if h.Enabled && MatchEventPattern(h.EventPattern, eventType) {
			matches = append(matches, h)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return matches[i].ID < matches[j].ID
	})
	return matches
}

func (r *AfterHookRegistry) List() []*AfterHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AfterHook, 0, len(r.hooks))
	for _, h := range r.hooks {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func validateSubscription(id, pattern string, nilHandler bool) error {
	if id == "" {
		return fmt.Errorf("hook id is required")
	}
	if nilHandler {
		return fmt.Errorf("hook %s has no handler", id)
	}
	if err := ValidatePattern(pattern); err != nil {
		return fmt.Errorf("hook %s: %w", id, err)
	}
	return nil
}
