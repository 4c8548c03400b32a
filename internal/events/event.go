// Package events implements the unified event model: publication with
// deduplication, before-hooks that can deny, after-hooks for side
// effects, and pattern-matched subscriber registries.
package events

import (
	"time"

	"github.com/google/uuid"
)

// UnifiedEvent is the envelope every published event travels in. Type is
// a three-segment dotted name in past tense, e.g. auth.login.succeeded.
type UnifiedEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Version   string                 `json:"version"`
	Timestamp string                 `json:"timestamp"`
	TenantID  string                 `json:"tenant_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Metadata  Metadata               `json:"metadata"`

	// DeduplicationKey overrides the event id as the dedup cache key.
	DeduplicationKey string `json:"deduplication_key,omitempty"`
}

// Metadata carries the request context the event was born in.
type Metadata struct {
	Actor     string `json:"actor,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Source    string `json:"source,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Geo       string `json:"geo,omitempty"`
}

// NewEvent builds an event with a fresh id and timestamp.
func NewEvent(eventType, tenantID string, data map[string]interface{}) *UnifiedEvent {
	return &UnifiedEvent{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		Version:   "1.0",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		TenantID:  tenantID,
		Data:      data,
	}
}
