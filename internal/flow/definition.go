// Package flow holds the declarative flow model: graph definitions, the
// compiler that turns them into executable plans, the condition evaluator
// used by decision branches, and the UI contract projection.
package flow

import "fmt"

// NodeType discriminates the node variants of a flow graph.
type NodeType string

const (
	NodeStart      NodeType = "start"
	NodeCapability NodeType = "capability"
	NodeDecision   NodeType = "decision"
	NodeSwitch     NodeType = "switch"
	NodeEnd        NodeType = "end"
)

// DefaultHandle is the sourceHandle marker for default edges out of
// decision and switch nodes.
const DefaultHandle = "default"

// Definition is a declared flow graph, identified by (ID, FlowVersion).
type Definition struct {
	ID          string `json:"id" yaml:"id"`
	FlowVersion int    `json:"flow_version" yaml:"flow_version"`
	ProfileID   string `json:"profile_id" yaml:"profile_id"`
	Nodes       []Node `json:"nodes" yaml:"nodes"`
	Edges       []Edge `json:"edges" yaml:"edges"`
}

// Node carries the type tag plus exactly one type-specific payload.
type Node struct {
	ID         string              `json:"id" yaml:"id"`
	Type       NodeType            `json:"type" yaml:"type"`
	Capability *CapabilityTemplate `json:"capability,omitempty" yaml:"capability,omitempty"`
	Decision   *DecisionConfig     `json:"decision,omitempty" yaml:"decision,omitempty"`
	Switch     *SwitchConfig       `json:"switch,omitempty" yaml:"switch,omitempty"`
}

// CapabilityTemplate is opaque to the engine: the client-side action the
// flow asks for next. Params may contain "{{dotted.path}}" placeholders
// substituted from collected data at contract generation time.
type CapabilityTemplate struct {
	CapabilityID string                 `json:"capability_id" yaml:"capability_id"`
	Intent       string                 `json:"intent,omitempty" yaml:"intent,omitempty"`
	Policy       string                 `json:"policy,omitempty" yaml:"policy,omitempty"`
	AuthMethods  []string               `json:"auth_methods,omitempty" yaml:"auth_methods,omitempty"`
	Params       map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
}

// DecisionConfig is an ordered list of branches; order is priority-descending.
type DecisionConfig struct {
	Branches      []DecisionBranch `json:"branches" yaml:"branches"`
	DefaultBranch string           `json:"default_branch,omitempty" yaml:"default_branch,omitempty"`
}

type DecisionBranch struct {
	ID        string     `json:"id" yaml:"id"`
	Condition *Condition `json:"condition" yaml:"condition"`
}

// SwitchConfig routes on the value found at SwitchKey (a dotted path into
// the runtime context).
type SwitchConfig struct {
	SwitchKey   string       `json:"switch_key" yaml:"switch_key"`
	Cases       []SwitchCase `json:"cases" yaml:"cases"`
	DefaultCase string       `json:"default_case,omitempty" yaml:"default_case,omitempty"`
}

type SwitchCase struct {
	ID     string        `json:"id" yaml:"id"`
	Values []interface{} `json:"values" yaml:"values"`
}

// Edge connects two nodes. SourceHandle names the decision branch, switch
// case, or default marker this edge realizes; empty for linear nodes.
// BeforeEvent/AfterEvent are the event names fired around the transition.
type Edge struct {
	SourceNodeID string `json:"source_node_id" yaml:"source_node_id"`
	TargetNodeID string `json:"target_node_id" yaml:"target_node_id"`
	SourceHandle string `json:"source_handle,omitempty" yaml:"source_handle,omitempty"`
	BeforeEvent  string `json:"before_event,omitempty" yaml:"before_event,omitempty"`
	AfterEvent   string `json:"after_event,omitempty" yaml:"after_event,omitempty"`
}

// ValidateShape is the cheap structural check applied to records loaded
// from the key/value store before they reach the compiler.
func (d *Definition) ValidateShape() error {
	if d == nil {
		return &CompileError{Violations: []string{"definition is nil"}}
	}
	var violations []string
	if d.ID == "" {
		violations = append(violations, "flow id is empty")
	}
	if len(d.Nodes) == 0 {
		violations = append(violations, "flow has no nodes")
	}
	for i, n := range d.Nodes {
		if n.ID == "" {
			violations = append(violations, fmt.Sprintf("node at index %d has empty id", i))
		}
		switch n.Type {
		case NodeStart, NodeCapability, NodeDecision, NodeSwitch, NodeEnd:
		default:
			violations = append(violations, "node "+n.ID+" has unknown type: "+string(n.Type))
		}
	}
	if len(violations) > 0 {
		return &CompileError{Violations: violations}
	}
	return nil
}
