package state

import (
	"encoding/json"
	"log"
	"time"
)

type opKind int

const (
	opInit opKind = iota
	opCheckRequest
	opSubmit
	opState
	opCancel
	opExpire
)

type request struct {
	kind      opKind
	sessionID string
	init      *InitParams
	submit    *SubmitParams
	requestID string
	reply     chan response
}

type response struct {
	snapshot *Snapshot
	found    bool
	result   json.RawMessage
	err      error
}

// shard is the single-writer actor owning a partition of sessions. All
// mutations flow through its mailbox; the run loop is the only goroutine
// that touches the session maps.
type shard struct {
	name         string
	mailbox      chan request
	sessions     map[string]*Session
	alarms       map[string]*time.Timer
	maxProcessed int
	logger       *log.Logger
	done         chan struct{}
}

func newShard(name string, maxProcessed int) *shard {
	sh := &shard{
		name:         name,
		mailbox:      make(chan request, 64),
		sessions:     make(map[string]*Session),
		alarms:       make(map[string]*time.Timer),
		maxProcessed: maxProcessed,
		logger:       log.New(log.Writer(), "[STATE "+name+"] ", log.LstdFlags),
		done:         make(chan struct{}),
	}
	go sh.run()
	return sh
}

func (sh *shard) run() {
	for {
		select {
		case <-sh.done:
			return
		case req := <-sh.mailbox:
			sh.handle(req)
		}
	}
}

func (sh *shard) handle(req request) {
	switch req.kind {
	case opInit:
		sh.handleInit(req)
	case opCheckRequest:
		sh.handleCheckRequest(req)
	case opSubmit:
		sh.handleSubmit(req)
	case opState:
		sh.handleState(req)
	case opCancel:
		sh.handleCancel(req)
	case opExpire:
		sh.handleExpire(req)
	}
}

func (sh *shard) handleInit(req request) {
	p := req.init
	if _, exists := sh.sessions[p.SessionID]; exists {
		req.reply <- response{err: ErrSessionExists}
		return
	}

	now := time.Now()
	sess := &Session{
		SessionID:     p.SessionID,
		FlowID:        p.FlowID,
		FlowType:      p.FlowType,
		TenantID:      p.TenantID,
		ClientID:      p.ClientID,
		CurrentNodeID: p.EntryNodeID,
		CollectedData: make(map[string]interface{}),
		OAuthParams:   p.OAuthParams,
		CreatedAt:     now,
		ExpiresAt:     now.Add(p.TTL),
	}
	sh.sessions[p.SessionID] = sess

	// Deletion alarm at createdAt + ttl. The timer callback re-enters
	// through the mailbox so expiry serializes with everything else.
	id := p.SessionID
	sh.alarms[id] = time.AfterFunc(p.TTL, func() {
		select {
		case sh.mailbox <- request{kind: opExpire, sessionID: id}:
		case <-sh.done:
		}
	})

	req.reply <- response{snapshot: sess.snapshot()}
}

func (sh *shard) handleCheckRequest(req request) {
	sess, ok := sh.sessions[req.sessionID]
	if !ok {
		req.reply <- response{err: ErrSessionNotFound}
		return
	}
	if result, found := sess.findProcessed(req.requestID); found {
		req.reply <- response{found: true, result: result, snapshot: sess.snapshot()}
		return
	}
	req.reply <- response{snapshot: sess.snapshot()}
}

func (sh *shard) handleSubmit(req request) {
	p := req.submit
	sess, ok := sh.sessions[p.SessionID]
	if !ok {
		req.reply <- response{err: ErrSessionNotFound}
		return
	}

	// A re-send after the durable write must not double-apply.
	if result, found := sess.findProcessed(p.RequestID); found {
		req.reply <- response{found: true, result: result, snapshot: sess.snapshot()}
		return
	}

	if p.Response != nil {
		sess.CollectedData[p.CapabilityID] = p.Response
	}
	sess.VisitedNodeIDs = append(sess.VisitedNodeIDs, sess.CurrentNodeID)
	if !contains(sess.CompletedCapabilities, p.CapabilityID) {
		sess.CompletedCapabilities = append(sess.CompletedCapabilities, p.CapabilityID)
	}
	sess.CurrentNodeID = p.NextNodeID

	// Histories are written verbatim; the executor has already enforced
	// the bounds.
	sess.VisitedNodes = p.VisitedNodes
	sess.RequestTimestamps = p.RequestTimestamps

	sess.rememberRequest(p.RequestID, p.Result, sh.maxProcessed)

	req.reply <- response{snapshot: sess.snapshot()}
}

func (sh *shard) handleState(req request) {
	sess, ok := sh.sessions[req.sessionID]
	if !ok {
		req.reply <- response{err: ErrSessionNotFound}
		return
	}
	req.reply <- response{snapshot: sess.snapshot()}
}

func (sh *shard) handleCancel(req request) {
	if t, ok := sh.alarms[req.sessionID]; ok {
		t.Stop()
		delete(sh.alarms, req.sessionID)
	}
	delete(sh.sessions, req.sessionID)
	// Cancel succeeds even when the session is already gone.
	req.reply <- response{}
}

func (sh *shard) handleExpire(req request) {
	if _, ok := sh.sessions[req.sessionID]; !ok {
		return
	}
	delete(sh.sessions, req.sessionID)
	delete(sh.alarms, req.sessionID)
	sh.logger.Printf("Session %s expired", req.sessionID)
}

func (sh *shard) stop() {
	close(sh.done)
	for _, t := range sh.alarms {
		t.Stop()
	}
}
