package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_EqOnScalar(t *testing.T) {
	cond := &Condition{Field: "method", Operator: OpEq, Value: "passkey"}
	ctx := map[string]interface{}{"method": "passkey"}

	assert.True(t, Evaluate(cond, ctx))

	ctx["method"] = "password"
	assert.False(t, Evaluate(cond, ctx))
}

func TestEvaluate_EqWidensToMembership(t *testing.T) {
	// Array-valued field equals a scalar when the scalar is a member.
	cond := &Condition{Field: "roles", Operator: OpEq, Value: "admin"}
	ctx := map[string]interface{}{"roles": []interface{}{"viewer", "admin"}}

	assert.True(t, Evaluate(cond, ctx))

	ctx["roles"] = []interface{}{"viewer"}
	assert.False(t, Evaluate(cond, ctx))
}

func TestEvaluate_NumericCrossTypeEquality(t *testing.T) {
	cond := &Condition{Field: "attempts", Operator: OpEq, Value: 3}
	// JSON decoding always yields float64.
	ctx := map[string]interface{}{"attempts": float64(3)}

	assert.True(t, Evaluate(cond, ctx))
}

func TestEvaluate_MissingFieldSemantics(t *testing.T) {
	ctx := map[string]interface{}{}

	assert.False(t, Evaluate(&Condition{Field: "absent", Operator: OpEq, Value: "x"}, ctx))
	assert.False(t, Evaluate(&Condition{Field: "absent", Operator: OpGt, Value: 1}, ctx))

	// Negated operators treat missing as "not equal".
	assert.True(t, Evaluate(&Condition{Field: "absent", Operator: OpNe, Value: "x"}, ctx))
	assert.True(t, Evaluate(&Condition{Field: "absent", Operator: OpNotEquals, Value: "x"}, ctx))
	assert.True(t, Evaluate(&Condition{Field: "absent", Operator: OpNotIn, Value: []interface{}{"x"}}, ctx))
}

func TestEvaluate_InWithIntersection(t *testing.T) {
	cond := &Condition{Field: "amr", Operator: OpIn, Value: []interface{}{"otp", "webauthn"}}

	assert.True(t, Evaluate(cond, map[string]interface{}{"amr": "otp"}))
	assert.True(t, Evaluate(cond, map[string]interface{}{"amr": []interface{}{"pwd", "webauthn"}}))
	assert.False(t, Evaluate(cond, map[string]interface{}{"amr": []interface{}{"pwd"}}))
}

func TestEvaluate_ContainsOnStringAndArray(t *testing.T) {
	assert.True(t, Evaluate(
		&Condition{Field: "email", Operator: OpContains, Value: "@corp."},
		map[string]interface{}{"email": "a@corp.example"}))

	assert.True(t, Evaluate(
		&Condition{Field: "scopes", Operator: OpContains, Value: "openid"},
		map[string]interface{}{"scopes": []interface{}{"openid", "profile"}}))

	assert.False(t, Evaluate(
		&Condition{Field: "scopes", Operator: OpContains, Value: "email"},
		map[string]interface{}{"scopes": []interface{}{"openid"}}))
}

func TestEvaluate_OrderedOperators(t *testing.T) {
	ctx := map[string]interface{}{"age": float64(21), "tier": "gold"}

	assert.True(t, Evaluate(&Condition{Field: "age", Operator: OpGte, Value: 21}, ctx))
	assert.False(t, Evaluate(&Condition{Field: "age", Operator: OpGt, Value: 21}, ctx))
	assert.True(t, Evaluate(&Condition{Field: "age", Operator: OpLt, Value: 22}, ctx))

	// Strings compare lexicographically when either side is non-numeric.
	assert.True(t, Evaluate(&Condition{Field: "tier", Operator: OpGt, Value: "bronze"}, ctx))

	// Mixed types never satisfy an ordered operator.
	assert.False(t, Evaluate(&Condition{Field: "tier", Operator: OpGt, Value: 5}, ctx))
}

func TestEvaluate_CompoundConditions(t *testing.T) {
	ctx := map[string]interface{}{"a": "1", "b": "2"}
	leafA := &Condition{Field: "a", Operator: OpEq, Value: "1"}
	leafB := &Condition{Field: "b", Operator: OpEq, Value: "2"}
	leafFalse := &Condition{Field: "a", Operator: OpEq, Value: "nope"}

	assert.True(t, Evaluate(&Condition{Type: "and", Conditions: []*Condition{leafA, leafB}}, ctx))
	assert.False(t, Evaluate(&Condition{Type: "and", Conditions: []*Condition{leafA, leafFalse}}, ctx))
	assert.True(t, Evaluate(&Condition{Type: "or", Conditions: []*Condition{leafFalse, leafB}}, ctx))

	// Empty compounds are vacuously false, for both types.
	assert.False(t, Evaluate(&Condition{Type: "and"}, ctx))
	assert.False(t, Evaluate(&Condition{Type: "or"}, ctx))
}

func TestEvaluate_IdpClaimUsesClaimPath(t *testing.T) {
	cond := &Condition{Field: "idp_claim", ClaimPath: "claims.email_verified", Operator: OpEq, Value: true}
	ctx := map[string]interface{}{
		"claims": map[string]interface{}{"email_verified": true},
	}
	assert.True(t, Evaluate(cond, ctx))
}

func TestResolvePath_NestedAndMissing(t *testing.T) {
	ctx := map[string]interface{}{
		"user": map[string]interface{}{
			"profile": map[string]interface{}{"name": "kim"},
		},
	}

	v, ok := ResolvePath(ctx, "user.profile.name")
	assert.True(t, ok)
	assert.Equal(t, "kim", v)

	_, ok = ResolvePath(ctx, "user.profile.missing")
	assert.False(t, ok)

	// Traversal through a non-map value is a miss, not a panic.
	_, ok = ResolvePath(ctx, "user.profile.name.deeper")
	assert.False(t, ok)
}

func TestResolvePath_RejectsDangerousSegments(t *testing.T) {
	ctx := map[string]interface{}{
		"__proto__":   map[string]interface{}{"x": 1},
		"constructor": "y",
		"safe":        map[string]interface{}{"prototype": "z"},
	}

	for _, path := range []string{"__proto__.x", "constructor", "safe.prototype", "", "a..b"} {
		_, ok := ResolvePath(ctx, path)
		assert.False(t, ok, "path %q must not resolve", path)
	}
}

func TestEvaluate_NeverMutatesContext(t *testing.T) {
	ctx := map[string]interface{}{"a": "1"}
	Evaluate(&Condition{Field: "a", Operator: OpEq, Value: "1"}, ctx)
	Evaluate(&Condition{Field: "b", Operator: OpNe, Value: "2"}, ctx)

	assert.Len(t, ctx, 1)
	assert.Equal(t, "1", ctx["a"])
}
