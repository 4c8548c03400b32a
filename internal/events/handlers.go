package events

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

// HandlerFunc consumes an accepted event synchronously during dispatch.
type HandlerFunc func(ctx context.Context, evt *UnifiedEvent) error

// Handler is a pattern-matched event consumer.
type Handler struct {
	ID           string
	EventPattern string
	Fn           HandlerFunc
	Priority     int
	Enabled      bool
}

// HandlerRegistry is the in-memory registry of event handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]*Handler
	logger   *log.Logger
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]*Handler),
		logger:   log.New(log.Writer(), "[HANDLERS] ", log.LstdFlags),
	}
}

func (r *HandlerRegistry) Register(h *Handler) error {
	if err := validateSubscription(h.ID, h.EventPattern, h.Fn == nil); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.ID] = h
	r.logger.Printf("Registered handler %s (pattern %s)", h.ID, h.EventPattern)
	return nil
}

func (r *HandlerRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
}

func (r *HandlerRegistry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[id]
	if !ok {
		return fmt.Errorf("handler %s not found", id)
	}
	h.Enabled = enabled
	return nil
}

func (r *HandlerRegistry) GetByEventType(eventType string) []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*Handler
	for _, h := range r.handlers {
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
