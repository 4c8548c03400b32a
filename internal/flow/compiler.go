package flow

import (
	"fmt"
	"strings"
)

// CompileError lists every invariant violation found in a definition, so
// flow authors can fix them in one pass.
type CompileError struct {
	Violations []string
}

func (e *CompileError) Error() string {
	return "flow compile failed: " + strings.Join(e.Violations, "; ")
}

// Compile validates a definition and produces its execution plan.
// It is deterministic: the same definition always yields the same plan.
func Compile(def *Definition) (*Plan, error) {
	var violations []string

	nodes := make(map[string]*CompiledNode, len(def.Nodes))
	var startID string
	startCount := 0
	endCount := 0

	for _, n := range def.Nodes {
		if n.ID == "" {
			violations = append(violations, "node with empty id")
			continue
		}
		if _, dup := nodes[n.ID]; dup {
			violations = append(violations, "duplicate node id: "+n.ID)
			continue
		}
		nodes[n.ID] = &CompiledNode{
			ID:         n.ID,
			Type:       n.Type,
			Capability: n.Capability,
			Decision:   n.Decision,
			Switch:     n.Switch,
		}
		switch n.Type {
		case NodeStart:
			startCount++
			startID = n.ID
		case NodeEnd:
			endCount++
		}
	}

	if startCount != 1 {
		violations = append(violations, fmt.Sprintf("expected exactly one start node, found %d", startCount))
	}
	if endCount == 0 {
		violations = append(violations, "flow has no end node")
	}

	// Normalize edges into transitions, preserving author order.
	transitions := make(map[string][]CompiledTransition)
	for _, e := range def.Edges {
		if _, ok := nodes[e.SourceNodeID]; !ok {
			violations = append(violations, "edge references unknown source node: "+e.SourceNodeID)
			continue
		}
		if _, ok := nodes[e.TargetNodeID]; !ok {
			violations = append(violations, "edge references unknown target node: "+e.TargetNodeID)
			continue
		}
		transitions[e.SourceNodeID] = append(transitions[e.SourceNodeID], CompiledTransition{
			SourceHandle: e.SourceHandle,
			TargetNodeID: e.TargetNodeID,
			BeforeEvent:  e.BeforeEvent,
			AfterEvent:   e.AfterEvent,
		})
	}

	for id, node := range nodes {
		out := transitions[id]
		switch node.Type {
		case NodeStart, NodeCapability:
			if len(out) != 1 {
				violations = append(violations, fmt.Sprintf("linear node %s must have exactly one outgoing edge, has %d", id, len(out)))
				continue
			}
			node.NextOnSuccess = out[0].TargetNodeID
		case NodeDecision:
			violations = append(violations, checkDecisionHandles(node, out)...)
		case NodeSwitch:
			violations = append(violations, checkSwitchHandles(node, out)...)
		case NodeEnd:
			if len(out) != 0 {
				violations = append(violations, "end node "+id+" must not have outgoing edges")
			}
		}
	}

	if startID != "" {
		violations = append(violations, checkReachability(startID, nodes, transitions)...)
	}

	if len(violations) > 0 {
		return nil, &CompileError{Violations: violations}
	}

	return &Plan{
		SourceVersion: def.FlowVersion,
		EntryNodeID:   startID,
		Nodes:         nodes,
		Transitions:   transitions,
	}, nil
}

func checkDecisionHandles(node *CompiledNode, out []CompiledTransition) []string {
	var violations []string
	if node.Decision == nil || len(node.Decision.Branches) == 0 {
		return []string{"decision node " + node.ID + " has no branches"}
	}

	handles := make(map[string]int)
	for _, t := range out {
		handles[t.SourceHandle]++
	}

	seen := make(map[string]bool)
	for _, b := range node.Decision.Branches {
		if seen[b.ID] {
			violations = append(violations, "decision node "+node.ID+" has duplicate branch handle: "+b.ID)
			continue
		}
		seen[b.ID] = true
		if handles[b.ID] == 0 {
			violations = append(violations, "decision node "+node.ID+" branch "+b.ID+" has no matching edge")
		}
	}
	if node.Decision.DefaultBranch != "" && handles[node.Decision.DefaultBranch] == 0 && handles[DefaultHandle] == 0 {
		violations = append(violations, "decision node "+node.ID+" default branch has no matching edge")
	}

	// Orphan handles: edges whose handle matches no branch and is not the default.
	for h := range handles {
		if h == DefaultHandle || h == node.Decision.DefaultBranch || seen[h] {
			continue
		}
		violations = append(violations, "decision node "+node.ID+" has orphan edge handle: "+h)
	}
	return violations
}

func checkSwitchHandles(node *CompiledNode, out []CompiledTransition) []string {
	var violations []string
	if node.Switch == nil || node.Switch.SwitchKey == "" {
		return []string{"switch node " + node.ID + " has no switch key"}
	}
	for _, seg := range strings.Split(node.Switch.SwitchKey, ".") {
		if isDangerousSegment(seg) {
			violations = append(violations, "switch node "+node.ID+" has dangerous switch key: "+node.Switch.SwitchKey)
			break
		}
	}
	if len(node.Switch.Cases) == 0 {
		return []string{"switch node " + node.ID + " has no cases"}
	}

	handles := make(map[string]int)
	for _, t := range out {
		handles[t.SourceHandle]++
	}

	seen := make(map[string]bool)
	for _, c := range node.Switch.Cases {
		if seen[c.ID] {
			violations = append(violations, "switch node "+node.ID+" has duplicate case handle: "+c.ID)
			continue
		}
		seen[c.ID] = true
		if handles[c.ID] == 0 {
			violations = append(violations, "switch node "+node.ID+" case "+c.ID+" has no matching edge")
		}
	}
	if node.Switch.DefaultCase != "" && handles[node.Switch.DefaultCase] == 0 && handles[DefaultHandle] == 0 {
		violations = append(violations, "switch node "+node.ID+" default case has no matching edge")
	}

	for h := range handles {
		if h == DefaultHandle || h == node.Switch.DefaultCase || seen[h] {
			continue
		}
		violations = append(violations, "switch node "+node.ID+" has orphan edge handle: "+h)
	}
	return violations
}

// checkReachability walks the transition index from the start node and
// requires at least one reachable end node.
func checkReachability(startID string, nodes map[string]*CompiledNode, transitions map[string][]CompiledTransition) []string {
	visited := make(map[string]bool)
	queue := []string{startID}
	endReached := false

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		if node, ok := nodes[id]; ok && node.Type == NodeEnd {
			endReached = true
		}
		for _, t := range transitions[id] {
			queue = append(queue, t.TargetNodeID)
		}
	}

	var violations []string
	if !endReached {
		violations = append(violations, "no end node reachable from start")
	}
	return violations
}
