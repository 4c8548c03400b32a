package executor

import (
	"github.com/fossabot/authrim-sub000/internal/flow"
)

// determineNext resolves the single next node id out of the given node.
// Returns "" when the node has no applicable outgoing transition, which
// the caller treats as flow completion.
func (e *Executor) determineNext(node *flow.CompiledNode, plan *flow.Plan, evalCtx map[string]interface{}) string {
	switch node.Type {
	case flow.NodeStart, flow.NodeCapability:
		return node.NextOnSuccess

	case flow.NodeDecision:
		return e.resolveDecision(node, plan, evalCtx)

	case flow.NodeSwitch:
		return e.resolveSwitch(node, plan, evalCtx)
	}
	// End nodes and anything unknown terminate the walk.
	return ""
}

// resolveDecision evaluates branches in author order and follows the edge
// whose handle matches the first true branch. An edge pointing at a node
// absent from the plan is skipped, not followed.
func (e *Executor) resolveDecision(node *flow.CompiledNode, plan *flow.Plan, evalCtx map[string]interface{}) string {
	if node.Decision == nil {
		return ""
	}
	out := plan.Transitions[node.ID]

	for _, branch := range node.Decision.Branches {
		if !flow.Evaluate(branch.Condition, evalCtx) {
			continue
		}
		if target := targetForHandle(out, plan, branch.ID); target != "" {
			return target
		}
		e.logger.Printf("Decision %s branch %s matched but has no usable edge", node.ID, branch.ID)
	}

	if node.Decision.DefaultBranch != "" {
		if target := targetForHandle(out, plan, node.Decision.DefaultBranch); target != "" {
			return target
		}
	}
	return targetForHandle(out, plan, flow.DefaultHandle)
}

// resolveSwitch routes on the value at SwitchKey. A case matches when the
// resolved value is a member of its Values list.
func (e *Executor) resolveSwitch(node *flow.CompiledNode, plan *flow.Plan, evalCtx map[string]interface{}) string {
	if node.Switch == nil {
		return ""
	}
	out := plan.Transitions[node.ID]

	value, found := flow.ResolvePath(evalCtx, node.Switch.SwitchKey)
	if found {
		for _, c := range node.Switch.Cases {
			if !caseMatches(c.Values, value) {
				continue
			}
			if target := targetForHandle(out, plan, c.ID); target != "" {
				return target
			}
			e.logger.Printf("Switch %s case %s matched but has no usable edge", node.ID, c.ID)
		}
	}

	if node.Switch.DefaultCase != "" {
		if target := targetForHandle(out, plan, node.Switch.DefaultCase); target != "" {
			return target
		}
	}
	return targetForHandle(out, plan, flow.DefaultHandle)
}

func caseMatches(values []interface{}, actual interface{}) bool {
	for _, v := range values {
		if v == actual {
			return true
		}
		// Numeric widening: JSON decodes numbers as float64.
		if af, aok := asNumber(actual); aok {
			if vf, vok := asNumber(v); vok && af == vf {
				return true
			}
		}
	}
	return false
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// targetForHandle finds the first edge carrying the handle whose target
// actually exists in the plan.
func targetForHandle(out []flow.CompiledTransition, plan *flow.Plan, handle string) string {
	for _, t := range out {
		if t.SourceHandle != handle {
			continue
		}
		if _, ok := plan.Nodes[t.TargetNodeID]; ok {
			return t.TargetNodeID
		}
	}
	return ""
}
