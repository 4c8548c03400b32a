package flow

import (
	"fmt"
	"strings"
)

// ContractVersion is the wire version of the UI contract envelope.
const ContractVersion = "1.0"

// UIContract describes the capability the client must fulfill next. The
// engine only constructs it; clients render it.
type UIContract struct {
	Version      string                    `json:"version"`
	State        string                    `json:"state"`
	Intent       string                    `json:"intent,omitempty"`
	Features     ContractFeatures          `json:"features"`
	Capabilities []ContractCapability      `json:"capabilities"`
	Actions      map[string]ContractAction `json:"actions,omitempty"`
}

type ContractFeatures struct {
	Policy      string   `json:"policy,omitempty"`
	Targets     []string `json:"targets,omitempty"`
	AuthMethods []string `json:"authMethods,omitempty"`
}

type ContractCapability struct {
	CapabilityID string                 `json:"capabilityId"`
	Params       map[string]interface{} `json:"params,omitempty"`
}

type ContractAction struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

// ContractInput carries everything the projection needs.
type ContractInput struct {
	Node      *CompiledNode
	FlowID    string
	ProfileID string

	// Collected is the session's collected data; placeholder params in
	// the capability template are substituted from it. May be nil.
	Collected map[string]interface{}
}

// GenerateContract projects a compiled capability node into the external
// UI contract. Decision, switch, and end nodes are resolved before
// generation and never reach this function.
func GenerateContract(in ContractInput) (*UIContract, error) {
	if in.Node == nil {
		return nil, fmt.Errorf("contract generation: node is nil")
	}
	if in.Node.Type != NodeCapability {
		return nil, fmt.Errorf("contract generation: node %s has type %s, want capability", in.Node.ID, in.Node.Type)
	}
	tmpl := in.Node.Capability
	if tmpl == nil {
		return nil, fmt.Errorf("contract generation: node %s has no capability template", in.Node.ID)
	}

	return &UIContract{
		Version: ContractVersion,
		State:   in.Node.ID,
		Intent:  tmpl.Intent,
		Features: ContractFeatures{
			Policy:      tmpl.Policy,
			Targets:     []string{in.FlowID},
			AuthMethods: tmpl.AuthMethods,
		},
		Capabilities: []ContractCapability{
			{
				CapabilityID: tmpl.CapabilityID,
				Params:       substituteParams(tmpl.Params, in.Collected),
			},
		},
		Actions: map[string]ContractAction{
			"primary": {Type: "submit", Label: "Continue"},
		},
	}, nil
}

// substituteParams replaces "{{dotted.path}}" string values with the
// resolved value from collected data. Unresolvable placeholders pass
// through untouched so clients can surface them.
func substituteParams(params, collected map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = substituteValue(v, collected)
	}
	return out
}

func substituteValue(v interface{}, collected map[string]interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "{{") && strings.HasSuffix(val, "}}") {
			path := strings.TrimSpace(val[2 : len(val)-2])
			if resolved, ok := ResolvePath(collected, path); ok {
				return resolved
			}
		}
		return val
	case map[string]interface{}:
		return substituteParams(val, collected)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = substituteValue(item, collected)
		}
		return out
	}
	return v
}
