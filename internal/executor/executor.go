// Package executor drives the flow state machine. The Executor itself is
// stateless: every submit re-reads session state from the sharded store,
// applies the security gates, evaluates branches, and persists the
// outcome together with its idempotency snapshot.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fossabot/authrim-sub000/internal/config"
	"github.com/fossabot/authrim-sub000/internal/events"
	"github.com/fossabot/authrim-sub000/internal/flow"
	"github.com/fossabot/authrim-sub000/internal/metrics"
	"github.com/fossabot/authrim-sub000/internal/sanitize"
	"github.com/fossabot/authrim-sub000/internal/state"
)

type Executor struct {
	registry   *flow.Registry
	plans      *flow.PlanCache
	store      *state.Store
	dispatcher *events.Dispatcher
	cfg        config.Flow
	metrics    *metrics.Metrics
	logger     *log.Logger

	// now is a seam for the time-based gates in tests.
	now func() time.Time
}

func New(registry *flow.Registry, store *state.Store, dispatcher *events.Dispatcher, cfg config.Flow, m *metrics.Metrics) *Executor {
	return &Executor{
		registry:   registry,
		plans:      flow.NewPlanCache(),
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    m,
		logger:     log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags),
		now:        time.Now,
	}
}

// InitRequest starts a new flow session.
type InitRequest struct {
	FlowType    string
	ClientID    string
	TenantID    string
	OAuthParams map[string]string
	Meta        events.Metadata
}

type InitResponse struct {
	SessionID         string           `json:"sessionId"`
	UIContractVersion string           `json:"uiContractVersion"`
	UIContract        *flow.UIContract `json:"uiContract"`
}

// Init resolves and compiles the flow, creates the session at the actual
// entry node, and returns the first UI contract.
func (e *Executor) Init(ctx context.Context, req InitRequest) (*InitResponse, *FlowError) {
	if req.TenantID == "" || req.ClientID == "" {
		e.metrics.ObserveInit("error")
		return nil, NewFlowError(CodeInitFailed, "tenantId and clientId are required")
	}

	def, err := e.registry.GetFlow(ctx, req.FlowType, req.TenantID)
	if err != nil {
		e.logger.Printf("Registry lookup failed for %s/%s: %v", req.FlowType, req.TenantID, err)
		e.metrics.ObserveInit("error")
		return nil, NewFlowError(CodeInitFailed, "flow lookup failed")
	}
	if def == nil {
		e.metrics.ObserveInit("error")
		return nil, NewFlowError(CodeFlowNotFound, "no flow registered for type "+req.FlowType)
	}

	plan, ferr := e.planFor(def)
	if ferr != nil {
		e.metrics.ObserveInit("error")
		return nil, ferr
	}

	// The first UI contract is never for a start node: advance one hop.
	entryID := plan.EntryNodeID
	if node, ok := plan.Nodes[entryID]; ok && node.Type == flow.NodeStart {
		entryID = node.NextOnSuccess
	}
	entryNode, ok := plan.Nodes[entryID]
	if !ok {
		e.metrics.ObserveInit("error")
		return nil, NewFlowError(CodeNodeNotFound, "entry node not found in plan")
	}

	sessionID := "flow_" + uuid.NewString()
	snap, err := e.store.Init(ctx, state.InitParams{
		SessionID:   sessionID,
		FlowID:      def.ID,
		FlowType:    req.FlowType,
		TenantID:    req.TenantID,
		ClientID:    req.ClientID,
		EntryNodeID: entryID,
		OAuthParams: req.OAuthParams,
		TTL:         time.Duration(e.cfg.DefaultTTLMs) * time.Millisecond,
	})
	if err != nil {
		e.metrics.ObserveInit("error")
		if err == state.ErrSessionExists {
			return nil, NewFlowError(CodeSessionExists, "session already exists")
		}
		e.logger.Printf("Session init failed: %v", err)
		return nil, NewFlowError(CodeInitFailed, "failed to initialize session")
	}

	contract, cerr := flow.GenerateContract(flow.ContractInput{
		Node:      entryNode,
		FlowID:    def.ID,
		ProfileID: def.ProfileID,
		Collected: snap.CollectedData,
	})
	if cerr != nil {
		e.logger.Printf("Contract generation failed for %s: %v collected=%v", entryID, cerr, sanitize.Value(snap.CollectedData))
		e.metrics.ObserveInit("error")
		return nil, NewFlowError(CodeInitFailed, "failed to generate UI contract")
	}

	e.metrics.ObserveInit("ok")
	e.publishAsync(req.TenantID, "flow.session.initialized", map[string]interface{}{
		"flow_type": req.FlowType,
		"entry":     entryID,
	}, events.Metadata{SessionID: sessionID, ClientID: req.ClientID})

	return &InitResponse{
		SessionID:         sessionID,
		UIContractVersion: flow.ContractVersion,
		UIContract:        contract,
	}, nil
}

// planFor returns the cached plan for a definition, compiling on miss or
// version bump.
func (e *Executor) planFor(def *flow.Definition) (*flow.Plan, *FlowError) {
	if plan, ok := e.plans.Get(def.ID, def.FlowVersion); ok {
		return plan, nil
	}
	plan, err := flow.Compile(def)
	if err != nil {
		e.logger.Printf("Compile failed for %s: %v", def.ID, err)
		return nil, NewFlowError(CodeInitFailed, "flow definition failed to compile")
	}
	e.plans.Put(def.ID, plan)
	return plan, nil
}

// resolvePlan finds the plan on the submit path, recompiling from the
// registry when the cache is cold.
func (e *Executor) resolvePlan(ctx context.Context, snap *state.Snapshot) (*flow.Plan, *FlowError) {
	if plan, ok := e.plans.GetAny(snap.FlowID); ok {
		return plan, nil
	}
	def, err := e.registry.GetFlow(ctx, snap.FlowType, snap.TenantID)
	if err != nil || def == nil {
		return nil, NewFlowError(CodePlanNotFound, "no compiled plan for flow "+snap.FlowID)
	}
	plan, cerr := flow.Compile(def)
	if cerr != nil {
		e.logger.Printf("Recompile failed for %s: %v", def.ID, cerr)
		return nil, NewFlowError(CodePlanNotFound, "flow failed to recompile")
	}
	e.plans.Put(def.ID, plan)
	return plan, nil
}

func (e *Executor) publishAsync(tenantID, eventType string, data map[string]interface{}, meta events.Metadata) {
	if e.dispatcher == nil {
		return
	}
	evt := events.NewEvent(eventType, tenantID, data)
	evt.Metadata = meta
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := e.dispatcher.Publish(ctx, evt); err != nil {
			e.logger.Printf("Event publish failed for %s: %v", eventType, err)
		}
	}()
}

// StateResponse is the wire shape of a state read.
type StateResponse struct {
	State      StateView        `json:"state"`
	UIContract *flow.UIContract `json:"uiContract,omitempty"`
}

type StateView struct {
	CurrentNodeID         string   `json:"currentNodeId"`
	VisitedNodeIDs        []string `json:"visitedNodeIds"`
	CompletedCapabilities []string `json:"completedCapabilities"`
}

// State returns the session snapshot and a freshly generated contract
// for the current node. Idempotent read.
func (e *Executor) State(ctx context.Context, sessionID string) (*StateResponse, *FlowError) {
	snap, err := e.store.State(ctx, sessionID)
	if err != nil {
		if err == state.ErrSessionNotFound {
			return nil, NewFlowError(CodeSessionNotFound, "session not found")
		}
		e.logger.Printf("State fetch failed for %s: %v", sessionID, err)
		return nil, NewFlowError(CodeStateFetchFailed, "failed to fetch session state")
	}

	resp := &StateResponse{
		State: StateView{
			CurrentNodeID:         snap.CurrentNodeID,
			VisitedNodeIDs:        snap.VisitedNodeIDs,
			CompletedCapabilities: snap.CompletedCapabilities,
		},
	}

	// The contract is best-effort on reads: a session resting on an end
	// node has nothing left to render.
	if plan, ferr := e.resolvePlan(ctx, snap); ferr == nil {
		if node, ok := plan.Nodes[snap.CurrentNodeID]; ok && node.Type == flow.NodeCapability {
			if contract, cerr := flow.GenerateContract(flow.ContractInput{
				Node:      node,
				FlowID:    snap.FlowID,
				Collected: snap.CollectedData,
			}); cerr == nil {
				resp.UIContract = contract
			}
		}
	}
	return resp, nil
}

// Cancel deletes the session. Always-success contract.
func (e *Executor) Cancel(ctx context.Context, sessionID string) *FlowError {
	if err := e.store.Cancel(ctx, sessionID); err != nil {
		e.logger.Printf("Cancel failed for %s: %v", sessionID, err)
		return NewFlowError(CodeCancelFailed, "failed to cancel session")
	}
	e.metrics.ObserveCancel()
	return nil
}

func (e *Executor) nowMillis() int64 {
	return e.now().UnixMilli()
}

func rawResult(resp *SubmitResponse) (json.RawMessage, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal submit result: %w", err)
	}
	return raw, nil
}
