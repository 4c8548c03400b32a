package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionExists is returned by Init when the session already has state.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound is returned when the session is absent or expired.
	ErrSessionNotFound = errors.New("session not found")
)

// InitParams creates a session. Init is an insert: a duplicate session id
// is a conflict, never an upsert.
type InitParams struct {
	SessionID   string
	FlowID      string
	FlowType    string
	TenantID    string
	ClientID    string
	EntryNodeID string
	OAuthParams map[string]string
	TTL         time.Duration
}

// SubmitParams advances the cursor and records the idempotency snapshot
// in one serialized step.
type SubmitParams struct {
	SessionID         string
	RequestID         string
	CapabilityID      string
	Response          interface{}
	Result            json.RawMessage
	NextNodeID        string
	VisitedNodes      []string
	RequestTimestamps []int64
}

// CheckResult is the idempotency probe outcome.
type CheckResult struct {
	Found    bool
	Result   json.RawMessage
	Snapshot *Snapshot
}

// Store partitions sessions across shard actors. The shard for a session
// is picked by a stable FNV-1a hash of the session id, so shard count
// changes only affect new sessions.
type Store struct {
	shards []*shard
}

// NewStore spins up shardCount actors, each addressable as flow-{index}.
func NewStore(shardCount, maxProcessedRequestIDs int) *Store {
	if shardCount <= 0 {
		shardCount = 1
	}
	s := &Store{shards: make([]*shard, shardCount)}
	for i := range s.shards {
		s.shards[i] = newShard(fmt.Sprintf("flow-%d", i), maxProcessedRequestIDs)
	}
	return s
}

// Close stops all shard actors. Pending alarms are dropped.
func (s *Store) Close() {
	for _, sh := range s.shards {
		sh.stop()
	}
}

func (s *Store) shardFor(sessionID string) *shard {
	return s.shards[int(fnv1a(sessionID)%uint32(len(s.shards)))]
}

// fnv1a is the 32-bit FNV-1a hash; stable across restarts.
func fnv1a(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func (s *Store) call(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)
	sh := s.shardFor(sessionIDOf(req))

	select {
	case sh.mailbox <- req:
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

func sessionIDOf(req request) string {
	if req.init != nil {
		return req.init.SessionID
	}
	if req.submit != nil {
		return req.submit.SessionID
	}
	return req.sessionID
}

// Init creates the session and schedules its deletion alarm.
func (s *Store) Init(ctx context.Context, p InitParams) (*Snapshot, error) {
	resp, err := s.call(ctx, request{kind: opInit, init: &p})
	if err != nil {
		return nil, err
	}
	return resp.snapshot, resp.err
}

// CheckRequest is the atomic idempotency probe. It reads but never
// mutates the session.
func (s *Store) CheckRequest(ctx context.Context, sessionID, requestID string) (*CheckResult, error) {
	resp, err := s.call(ctx, request{kind: opCheckRequest, sessionID: sessionID, requestID: requestID})
	if err != nil {
		return nil, err
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return &CheckResult{Found: resp.found, Result: resp.result, Snapshot: resp.snapshot}, nil
}

// Submit applies the transition. A duplicate request id after a durable
// write is a no-op that returns the first outcome.
func (s *Store) Submit(ctx context.Context, p SubmitParams) (*Snapshot, error) {
	resp, err := s.call(ctx, request{kind: opSubmit, submit: &p})
	if err != nil {
		return nil, err
	}
	return resp.snapshot, resp.err
}

// State returns the full snapshot.
func (s *Store) State(ctx context.Context, sessionID string) (*Snapshot, error) {
	resp, err := s.call(ctx, request{kind: opState, sessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return resp.snapshot, resp.err
}

// Cancel deletes the session and its alarm; succeeds even if absent.
func (s *Store) Cancel(ctx context.Context, sessionID string) error {
	resp, err := s.call(ctx, request{kind: opCancel, sessionID: sessionID})
	if err != nil {
		return err
	}
	return resp.err
}
