package flow

import (
	"strings"
)

// Condition is the discriminated condition AST evaluated against the
// runtime context. A compound condition has Type "and"/"or" and children;
// a leaf has Field/Operator/Value. The special field "idp_claim" resolves
// ClaimPath instead of Field.
type Condition struct {
	Type       string       `json:"type,omitempty" yaml:"type,omitempty"`
	Conditions []*Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	Field     string      `json:"field,omitempty" yaml:"field,omitempty"`
	ClaimPath string      `json:"claim_path,omitempty" yaml:"claim_path,omitempty"`
	Operator  string      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value     interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// Supported leaf operators.
const (
	OpEq        = "eq"
	OpNe        = "ne"
	OpNotEquals = "not_equals" // alternate spelling of ne
	OpContains  = "contains"
	OpIn        = "in"
	OpNotIn     = "not_in"
	OpGt        = "gt"
	OpGte       = "gte"
	OpLt        = "lt"
	OpLte       = "lte"
)

// Evaluate is a pure function: same condition and context always produce
// the same answer, and the context is never mutated.
func Evaluate(cond *Condition, ctx map[string]interface{}) bool {
	if cond == nil {
		return false
	}

	switch cond.Type {
	case "and":
		if len(cond.Conditions) == 0 {
			return false
		}
		for _, c := range cond.Conditions {
			if !Evaluate(c, ctx) {
				return false
			}
		}
		return true
	case "or":
		for _, c := range cond.Conditions {
			if Evaluate(c, ctx) {
				return true
			}
		}
		return false
	}

	return evaluateLeaf(cond, ctx)
}

func evaluateLeaf(cond *Condition, ctx map[string]interface{}) bool {
	path := cond.Field
	if cond.Field == "idp_claim" {
		path = cond.ClaimPath
	}

	actual, found := ResolvePath(ctx, path)
	if !found {
		// Missing resolves as "not equal" for the negated operators and
		// false for everything else.
		return cond.Operator == OpNe || cond.Operator == OpNotEquals || cond.Operator == OpNotIn
	}

	switch cond.Operator {
	case OpEq:
		return matchEq(actual, cond.Value)
	case OpNe, OpNotEquals:
		return !matchEq(actual, cond.Value)
	case OpContains:
		return matchContains(actual, cond.Value)
	case OpIn:
		return matchIn(actual, cond.Value)
	case OpNotIn:
		return !matchIn(actual, cond.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return matchOrdered(cond.Operator, actual, cond.Value)
	default:
		return false
	}
}

// ResolvePath walks a dotted path through nested maps. Segments that would
// reach into a prototype chain in the original runtime are rejected
// outright: the whole resolution yields "missing".
func ResolvePath(ctx map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if isDangerousSegment(seg) {
			return nil, false
		}
	}

	var current interface{} = ctx
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func isDangerousSegment(seg string) bool {
	switch seg {
	case "__proto__", "constructor", "prototype":
		return true
	}
	return seg == ""
}

// matchEq handles the array-membership widening: an array-valued context
// field equals a scalar if the scalar is a member.
func matchEq(actual, expected interface{}) bool {
	if arr, ok := asSlice(actual); ok {
		if _, isExpArr := asSlice(expected); !isExpArr {
			for _, item := range arr {
				if scalarEq(item, expected) {
					return true
				}
			}
			return false
		}
	}
	return scalarEq(actual, expected)
}

func matchContains(actual, expected interface{}) bool {
	if arr, ok := asSlice(actual); ok {
		for _, item := range arr {
			if scalarEq(item, expected) {
				return true
			}
		}
		return false
	}
	as, aok := actual.(string)
	es, eok := expected.(string)
	return aok && eok && strings.Contains(as, es)
}

// matchIn: scalar-in-list, or non-empty intersection when the context
// field is itself an array.
func matchIn(actual, expected interface{}) bool {
	expList, ok := asSlice(expected)
	if !ok {
		return false
	}
	if actList, isArr := asSlice(actual); isArr {
		for _, a := range actList {
			for _, e := range expList {
				if scalarEq(a, e) {
					return true
				}
			}
		}
		return false
	}
	for _, e := range expList {
		if scalarEq(actual, e) {
			return true
		}
	}
	return false
}

func matchOrdered(op string, actual, expected interface{}) bool {
	af, aok := asFloat(actual)
	ef, eok := asFloat(expected)
	if aok && eok {
		switch op {
		case OpGt:
			return af > ef
		case OpGte:
			return af >= ef
		case OpLt:
			return af < ef
		case OpLte:
			return af <= ef
		}
		return false
	}

	as, aok := actual.(string)
	es, eok := expected.(string)
	if !aok || !eok {
		return false
	}
	switch op {
	case OpGt:
		return as > es
	case OpGte:
		return as >= es
	case OpLt:
		return as < es
	case OpLte:
		return as <= es
	}
	return false
}

func scalarEq(a, b interface{}) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

func asSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case []string:
		out := make([]interface{}, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
