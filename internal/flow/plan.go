package flow

import "sync"

// Plan is the immutable, indexed form of a compiled flow. Plans are never
// mutated after Compile returns; the cache replaces them wholesale on
// version change.
type Plan struct {
	SourceVersion int
	EntryNodeID   string
	Nodes         map[string]*CompiledNode
	Transitions   map[string][]CompiledTransition
}

// CompiledNode mirrors the definition node with the linear successor
// precomputed.
type CompiledNode struct {
	ID         string
	Type       NodeType
	Capability *CapabilityTemplate
	Decision   *DecisionConfig
	Switch     *SwitchConfig

	// NextOnSuccess is the sole outgoing target for linear nodes
	// (start and capability). Empty for decision/switch/end.
	NextOnSuccess string
}

// CompiledTransition is one outgoing edge, in author order. BeforeEvent
// and AfterEvent carry the edge's event names for the dispatcher.
type CompiledTransition struct {
	SourceHandle string
	TargetNodeID string
	BeforeEvent  string
	AfterEvent   string
}

// PlanCache maps graph id to its compiled plan. Reads are the hot path;
// a stale plan (version mismatch) reads as a miss so callers recompile.
type PlanCache struct {
	mu    sync.RWMutex
	plans map[string]*Plan
}

func NewPlanCache() *PlanCache {
	return &PlanCache{plans: make(map[string]*Plan)}
}

// Get returns the cached plan for the graph id if its version matches.
func (c *PlanCache) Get(graphID string, version int) (*Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	plan, ok := c.plans[graphID]
	if !ok || plan.SourceVersion != version {
		return nil, false
	}
	return plan, true
}

// GetAny returns whatever plan is cached for the graph id, regardless of
// version. Used on the submit path where the stored session does not
// carry the flow version.
func (c *PlanCache) GetAny(graphID string) (*Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	plan, ok := c.plans[graphID]
	return plan, ok
}

// Put replaces the plan for the graph id.
func (c *PlanCache) Put(graphID string, plan *Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[graphID] = plan
}
