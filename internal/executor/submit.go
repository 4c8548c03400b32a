package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fossabot/authrim-sub000/internal/events"
	"github.com/fossabot/authrim-sub000/internal/flow"
	"github.com/fossabot/authrim-sub000/internal/sanitize"
	"github.com/fossabot/authrim-sub000/internal/state"
)

// SubmitRequest carries a client's answer for the current capability.
// TenantID/ClientID are optional caller-supplied bindings; when present
// they must match the stored session identity.
type SubmitRequest struct {
	SessionID    string
	RequestID    string
	CapabilityID string
	Response     interface{}
	TenantID     string
	ClientID     string
	Meta         events.Metadata
}

// SubmitResponse is the wire result of a submit: continue, redirect, or
// error. Idempotent marks a replayed result and travels as a header, not
// in the body, so replays stay byte-identical.
type SubmitResponse struct {
	Type       string           `json:"type"`
	UIContract *flow.UIContract `json:"uiContract,omitempty"`
	Redirect   *Redirect        `json:"redirect,omitempty"`
	Error      *FlowError       `json:"error,omitempty"`

	Idempotent bool `json:"-"`
}

type Redirect struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

func errorResponse(code, message string) *SubmitResponse {
	return &SubmitResponse{Type: "error", Error: NewFlowError(code, message)}
}

// Submit advances the flow by one transition. Security gates run before
// any evaluation; denials never mutate state.
func (e *Executor) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	// 1. Idempotency probe. A hit returns the first outcome verbatim.
	check, err := e.store.CheckRequest(ctx, req.SessionID, req.RequestID)
	if err != nil {
		if err == state.ErrSessionNotFound {
			e.metrics.ObserveSubmit(CodeSessionNotFound)
			return errorResponse(CodeSessionNotFound, "session not found"), nil
		}
		e.logger.Printf("Idempotency probe failed for %s: %v", req.SessionID, err)
		e.metrics.ObserveSubmit(CodeSubmitFailed)
		return errorResponse(CodeSubmitFailed, "failed to check request"), nil
	}
	if check.Found {
		var cached SubmitResponse
		if uerr := json.Unmarshal(check.Result, &cached); uerr != nil {
			e.logger.Printf("Cached result for %s is corrupt: %v", req.RequestID, uerr)
			e.metrics.ObserveSubmit(CodeSubmitFailed)
			return errorResponse(CodeSubmitFailed, "cached result unavailable"), nil
		}
		cached.Idempotent = true
		e.metrics.ObserveSubmit("idempotent_replay")
		return &cached, nil
	}
	snap := check.Snapshot

	// 2. Session binding: caller-supplied identity must match the store.
	if (req.TenantID != "" && req.TenantID != snap.TenantID) ||
		(req.ClientID != "" && req.ClientID != snap.ClientID) {
		e.metrics.ObserveSubmit(CodeInvalidSession)
		return errorResponse(CodeInvalidSession, "session does not belong to caller"), nil
	}

	now := e.nowMillis()

	// 3. Sliding-window rate limit over the session's submit history.
	timestamps := truncateInt64(snap.RequestTimestamps, 100)
	window := int64(e.cfg.RateLimitWindowMs)
	var recent []int64
	for _, t := range timestamps {
		if now-t < window {
			recent = append(recent, t)
		}
	}
	if len(recent) >= e.cfg.MaxRequestsPerWindow {
		e.metrics.ObserveSubmit(CodeRateLimitExceeded)
		return errorResponse(CodeRateLimitExceeded, "too many requests for this session"), nil
	}

	// 4. Hard session timeout. Missing createdAt fails closed.
	if snap.CreatedAt.IsZero() || now-snap.CreatedAt.UnixMilli() > int64(e.cfg.SessionTimeoutMs) {
		e.metrics.ObserveSubmit(CodeSessionTimeout)
		return errorResponse(CodeSessionTimeout, "session has timed out"), nil
	}

	// 5. Cycle detection and total-length bound.
	visited := truncateStrings(snap.VisitedNodes, e.cfg.MaxVisitedHistory)
	visits := 0
	for _, id := range visited {
		if id == snap.CurrentNodeID {
			visits++
		}
	}
	if visits >= e.cfg.MaxVisitsPerNode {
		e.metrics.ObserveSubmit(CodeCircularReference)
		return errorResponse(CodeCircularReference, "node visited too many times"), nil
	}
	if len(visited) >= e.cfg.MaxTotalNodes {
		e.metrics.ObserveSubmit(CodeFlowTooLong)
		return errorResponse(CodeFlowTooLong, "flow exceeded maximum length"), nil
	}

	// 6. Plan resolution, recompiling when the cache is cold.
	plan, ferr := e.resolvePlan(ctx, snap)
	if ferr != nil {
		e.metrics.ObserveSubmit(ferr.Code)
		return &SubmitResponse{Type: "error", Error: ferr}, nil
	}

	// 7. Current node.
	current, ok := plan.Nodes[snap.CurrentNodeID]
	if !ok {
		e.metrics.ObserveSubmit(CodeNodeNotFound)
		return errorResponse(CodeNodeNotFound, "current node not found in plan"), nil
	}

	// 8. Runtime context. The in-flight response participates in branch
	// evaluation; tenant/client always come from the stored identity.
	evalCtx := e.buildContext(snap, req.CapabilityID, req.Response)

	// 9. Resolve the next capability or end node, walking through any
	// decision/switch nodes in between. Hops are bounded so a routing
	// cycle cannot spin forever.
	nextID := e.determineNext(current, plan, evalCtx)
	for hops := 0; nextID != ""; hops++ {
		if hops >= e.cfg.MaxTotalNodes {
			e.metrics.ObserveSubmit(CodeFlowTooLong)
			return errorResponse(CodeFlowTooLong, "routing exceeded maximum hops"), nil
		}
		node, ok := plan.Nodes[nextID]
		if !ok {
			// Hard invariant violation: never jump to an unknown node.
			e.logger.Printf("Transition target %s missing from plan %s", nextID, snap.FlowID)
			nextID = ""
			break
		}
		if node.Type != flow.NodeDecision && node.Type != flow.NodeSwitch {
			break
		}
		nextID = e.determineNext(node, plan, evalCtx)
	}

	// Before-hooks gate the transition; a deny leaves state untouched.
	if e.dispatcher != nil {
		beforeType := transitionEvent(plan, snap.CurrentNodeID, nextID, true)
		evt := events.NewEvent(beforeType, snap.TenantID, map[string]interface{}{
			"from": snap.CurrentNodeID,
			"to":   nextID,
		})
		evt.Metadata = req.Meta
		evt.Metadata.SessionID = req.SessionID
		evt.Metadata.RequestID = req.RequestID
		hookStart := time.Now()
		outcome := e.dispatcher.RunBeforeHooks(ctx, evt)
		e.metrics.ObserveHookDuration("before", time.Since(hookStart).Seconds())
		if !outcome.Continue {
			e.metrics.ObserveSubmit(outcome.DenyCode)
			return errorResponse(outcome.DenyCode, outcome.DenyReason), nil
		}
	}

	// 10/11. Build the response for the client.
	var resp *SubmitResponse
	if nextID == "" || plan.Nodes[nextID].Type == flow.NodeEnd {
		url := snap.OAuthParams["redirect_uri"]
		if url == "" {
			url = "/callback"
		}
		resp = &SubmitResponse{Type: "redirect", Redirect: &Redirect{URL: url, Method: "GET"}}
	} else {
		contract, cerr := flow.GenerateContract(flow.ContractInput{
			Node:      plan.Nodes[nextID],
			FlowID:    snap.FlowID,
			Collected: mergedCollected(snap, req.CapabilityID, req.Response),
		})
		if cerr != nil {
			e.logger.Printf("Contract generation failed for %s: %v response=%v", nextID, cerr, sanitize.Value(req.Response))
			e.metrics.ObserveSubmit(CodeNextNodeNotFound)
			return errorResponse(CodeNextNodeNotFound, "failed to render next step"), nil
		}
		resp = &SubmitResponse{Type: "continue", UIContract: contract}
	}

	// 12/13. Persist cursor, histories, and the idempotency snapshot in
	// one serialized actor step.
	raw, merr := rawResult(resp)
	if merr != nil {
		e.logger.Printf("Result encoding failed: %v", merr)
		e.metrics.ObserveSubmit(CodeSubmitFailed)
		return errorResponse(CodeSubmitFailed, "failed to encode result"), nil
	}

	newVisited := append(visited, snap.CurrentNodeID)
	if len(newVisited) > e.cfg.MaxVisitedHistory {
		newVisited = newVisited[len(newVisited)-e.cfg.MaxVisitedHistory:]
	}

	if _, serr := e.store.Submit(ctx, state.SubmitParams{
		SessionID:         req.SessionID,
		RequestID:         req.RequestID,
		CapabilityID:      req.CapabilityID,
		Response:          req.Response,
		Result:            raw,
		NextNodeID:        nextID,
		VisitedNodes:      newVisited,
		RequestTimestamps: append(recent, now),
	}); serr != nil {
		e.logger.Printf("Submit persist failed for %s: %v", req.SessionID, serr)
		e.metrics.ObserveSubmit(CodeSubmitFailed)
		return errorResponse(CodeSubmitFailed, "failed to persist transition"), nil
	}

	afterType := transitionEvent(plan, snap.CurrentNodeID, nextID, false)
	e.publishAsync(snap.TenantID, afterType, map[string]interface{}{
		"from":       snap.CurrentNodeID,
		"to":         nextID,
		"capability": req.CapabilityID,
	}, withSession(req.Meta, req.SessionID, req.RequestID))

	e.metrics.ObserveSubmit(resp.Type)
	return resp, nil
}

// buildContext assembles the branch-evaluation context from collected
// data plus the in-flight response. The payload can never override the
// session's stored identity.
func (e *Executor) buildContext(snap *state.Snapshot, capabilityID string, response interface{}) map[string]interface{} {
	ctx := make(map[string]interface{}, len(snap.CollectedData)+4)
	for k, v := range snap.CollectedData {
		if k == "tenant" || k == "client" {
			continue
		}
		ctx[k] = v
	}
	if capabilityID != "" && response != nil {
		ctx[capabilityID] = response
	}
	ctx["prevNode"] = snap.CurrentNodeID
	ctx["tenant"] = snap.TenantID
	ctx["client"] = snap.ClientID
	return ctx
}

func mergedCollected(snap *state.Snapshot, capabilityID string, response interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(snap.CollectedData)+1)
	for k, v := range snap.CollectedData {
		merged[k] = v
	}
	if capabilityID != "" && response != nil {
		merged[capabilityID] = response
	}
	return merged
}

func withSession(meta events.Metadata, sessionID, requestID string) events.Metadata {
	meta.SessionID = sessionID
	meta.RequestID = requestID
	return meta
}

// transitionEvent picks the event name declared on the edge being
// traversed, falling back to the engine's own transition events.
func transitionEvent(plan *flow.Plan, from, to string, before bool) string {
	for _, t := range plan.Transitions[from] {
		if t.TargetNodeID != to {
			continue
		}
		if before && t.BeforeEvent != "" {
			return t.BeforeEvent
		}
		if !before && t.AfterEvent != "" {
			return t.AfterEvent
		}
		break
	}
	if before {
		return "flow.transition.requested"
	}
	return "flow.transition.completed"
}

func truncateInt64(list []int64, max int) []int64 {
	if len(list) > max {
		return list[len(list)-max:]
	}
	return list
}

func truncateStrings(list []string, max int) []string {
	if len(list) > max {
		return list[len(list)-max:]
	}
	return list
}
