// Package state owns per-session flow state. Every session belongs to
// exactly one shard; a shard is a single goroutine that serializes all
// operations on its sessions, so there is no locking at the session level.
package state

import (
	"encoding/json"
	"time"
)

// Session is the mutable per-session record. It is only ever touched by
// its owning shard goroutine.
type Session struct {
	SessionID string
	FlowID    string
	FlowType  string
	TenantID  string
	ClientID  string

	CurrentNodeID         string
	VisitedNodeIDs        []string
	CompletedCapabilities []string

	CollectedData map[string]interface{}
	OAuthParams   map[string]string

	CreatedAt time.Time
	ExpiresAt time.Time

	// Security histories, bounds enforced by the executor before writes.
	RequestTimestamps []int64
	VisitedNodes      []string

	// Idempotency cache, FIFO with bounded capacity.
	processed []processedRequest
}

type processedRequest struct {
	requestID string
	result    json.RawMessage
}

// findProcessed returns the cached result for a request id, if present.
func (s *Session) findProcessed(requestID string) (json.RawMessage, bool) {
	for _, p := range s.processed {
		if p.requestID == requestID {
			return p.result, true
		}
	}
	return nil, false
}

// rememberRequest stores the request outcome, evicting the oldest entry
// when the cache is full.
func (s *Session) rememberRequest(requestID string, result json.RawMessage, capacity int) {
	if capacity <= 0 {
		return
	}
	s.processed = append(s.processed, processedRequest{requestID: requestID, result: result})
	if len(s.processed) > capacity {
		s.processed = s.processed[len(s.processed)-capacity:]
	}
}

// Snapshot is the read-only copy handed out of the shard. Values inside
// CollectedData are shared with the live session and must be treated as
// read-only by callers.
type Snapshot struct {
	SessionID string `json:"session_id"`
	FlowID    string `json:"flow_id"`
	FlowType  string `json:"flow_type"`
	TenantID  string `json:"tenant_id"`
	ClientID  string `json:"client_id"`

	CurrentNodeID         string   `json:"current_node_id"`
	VisitedNodeIDs        []string `json:"visited_node_ids"`
	CompletedCapabilities []string `json:"completed_capabilities"`

	CollectedData map[string]interface{} `json:"collected_data,omitempty"`
	OAuthParams   map[string]string      `json:"oauth_params,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	RequestTimestamps []int64  `json:"request_timestamps,omitempty"`
	VisitedNodes      []string `json:"visited_nodes,omitempty"`
}

func (s *Session) snapshot() *Snapshot {
	snap := &Snapshot{
		SessionID:             s.SessionID,
		FlowID:                s.FlowID,
		FlowType:              s.FlowType,
		TenantID:              s.TenantID,
		ClientID:              s.ClientID,
		CurrentNodeID:         s.CurrentNodeID,
		VisitedNodeIDs:        append([]string(nil), s.VisitedNodeIDs...),
		CompletedCapabilities: append([]string(nil), s.CompletedCapabilities...),
		CreatedAt:             s.CreatedAt,
		ExpiresAt:             s.ExpiresAt,
		RequestTimestamps:     append([]int64(nil), s.RequestTimestamps...),
		VisitedNodes:          append([]string(nil), s.VisitedNodes...),
	}
	if s.CollectedData != nil {
		snap.CollectedData = make(map[string]interface{}, len(s.CollectedData))
		for k, v := range s.CollectedData {
			snap.CollectedData[k] = v
		}
	}
	if s.OAuthParams != nil {
		snap.OAuthParams = make(map[string]string, len(s.OAuthParams))
		for k, v := range s.OAuthParams {
			snap.OAuthParams[k] = v
		}
	}
	return snap
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
