package engine

import (
	"encoding/json"
	"testing"

	"sieve-backend/internal/spec"
)

func mustMatch(t *testing.T, c *spec.Criteria, record map[string]any) bool {
	t.Helper()
	m, err := CompileMatcher(c)
	if err != nil {
		t.Fatalf("CompileMatcher: %v", err)
	}
	ok, err := m.Match(record)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	return ok
}

func TestMatcherEquality(t *testing.T) {
	c := &spec.Criteria{Field: "status", Op: spec.OpEq, Value: "paid"}
	if !mustMatch(t, c, map[string]any{"status": "paid"}) {
		t.Fatal("expected match")
	}
	if mustMatch(t, c, map[string]any{"status": "draft"}) {
		t.Fatal("expected no match")
	}
}

func TestMatcherOrderedComparison(t *testing.T) {
	c := &spec.Criteria{Field: "total", Op: spec.OpGte, Value: 100}
	if !mustMatch(t, c, map[string]any{"total": 150.0}) {
		t.Fatal("expected 150 >= 100 to match")
	}
	if mustMatch(t, c, map[string]any{"total": 50}) {
		t.Fatal("expected 50 >= 100 not to match")
	}
	// Missing field is non-matching, not an evaluation error.
	if mustMatch(t, c, map[string]any{}) {
		t.Fatal("expected missing field not to match")
	}
}

func TestMatcherLike(t *testing.T) {
	c := &spec.Criteria{Field: "name", Op: spec.OpLike, Value: "Ada%"}
	if !mustMatch(t, c, map[string]any{"name": "Ada Lovelace"}) {
		t.Fatal("expected prefix match")
	}
	if mustMatch(t, c, map[string]any{"name": "Grace Hopper"}) {
		t.Fatal("expected no match")
	}
	if mustMatch(t, c, map[string]any{}) {
		t.Fatal("expected missing field not to match")
	}
}

func TestMatcherInAndNotIn(t *testing.T) {
	in := &spec.Criteria{Field: "status", Op: spec.OpIn, Value: []any{"paid", "shipped"}}
	if !mustMatch(t, in, map[string]any{"status": "shipped"}) {
		t.Fatal("expected in-list match")
	}
	if mustMatch(t, in, map[string]any{"status": "void"}) {
		t.Fatal("expected no in-list match")
	}

	notIn := &spec.Criteria{Field: "status", Op: spec.OpNotIn, Value: []any{"void"}}
	if !mustMatch(t, notIn, map[string]any{"status": "paid"}) {
		t.Fatal("expected not-in match")
	}
	// SQL NOT IN over NULL matches nothing; missing and nil fields must
	// behave the same here.
	if mustMatch(t, notIn, map[string]any{}) {
		t.Fatal("expected missing field not to match not_in")
	}
	if mustMatch(t, notIn, map[string]any{"status": nil}) {
		t.Fatal("expected nil field not to match not_in")
	}
}

func TestMatcherNeqTreatsNullAsNonMatching(t *testing.T) {
	c := &spec.Criteria{Field: "region", Op: spec.OpNeq, Value: "eu"}
	if !mustMatch(t, c, map[string]any{"region": "us"}) {
		t.Fatal("expected differing value to match neq")
	}
	if mustMatch(t, c, map[string]any{"region": "eu"}) {
		t.Fatal("expected equal value not to match neq")
	}
	// SQL != over NULL matches nothing.
	if mustMatch(t, c, map[string]any{"region": nil}) {
		t.Fatal("expected nil field not to match neq")
	}
	if mustMatch(t, c, map[string]any{}) {
		t.Fatal("expected missing field not to match neq")
	}
}

func TestMatcherNullTests(t *testing.T) {
	isNull := &spec.Criteria{Field: "deleted_at", Op: spec.OpIsNull}
	if !mustMatch(t, isNull, map[string]any{"deleted_at": nil}) {
		t.Fatal("expected nil field to match is_null")
	}
	if !mustMatch(t, isNull, map[string]any{}) {
		t.Fatal("expected missing field to match is_null")
	}
	if mustMatch(t, isNull, map[string]any{"deleted_at": "2026-01-01"}) {
		t.Fatal("expected present field not to match is_null")
	}
}

func TestMatcherNestedBooleanTree(t *testing.T) {
	c := &spec.Criteria{All: []*spec.Criteria{
		{Field: "total", Op: spec.OpGt, Value: 10},
		{Any: []*spec.Criteria{
			{Field: "status", Op: spec.OpEq, Value: "paid"},
			{Field: "status", Op: spec.OpEq, Value: "shipped"},
		}},
		{Not: &spec.Criteria{Field: "region", Op: spec.OpEq, Value: "test"}},
	}}

	if !mustMatch(t, c, map[string]any{"total": 20, "status": "paid", "region": "eu"}) {
		t.Fatal("expected full tree match")
	}
	if mustMatch(t, c, map[string]any{"total": 20, "status": "draft", "region": "eu"}) {
		t.Fatal("expected any-branch failure")
	}
	if mustMatch(t, c, map[string]any{"total": 20, "status": "paid", "region": "test"}) {
		t.Fatal("expected not-branch failure")
	}
}

func TestMatcherEmptyCriteriaMatchesEverything(t *testing.T) {
	if !mustMatch(t, nil, map[string]any{"anything": 1}) {
		t.Fatal("nil criteria must match everything")
	}
	if !mustMatch(t, &spec.Criteria{}, map[string]any{}) {
		t.Fatal("empty criteria must match everything")
	}
	// not(no constraint) stays no constraint
	if !mustMatch(t, &spec.Criteria{Not: &spec.Criteria{}}, map[string]any{}) {
		t.Fatal("negated empty criteria must still match everything")
	}
}

func TestMatcherAfterJSONRoundTrip(t *testing.T) {
	c := &spec.Criteria{All: []*spec.Criteria{
		{Field: "status", Op: spec.OpEq, Value: "paid"},
		{Field: "total", Op: spec.OpGte, Value: 100},
	}}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var rehydrated spec.Criteria
	if err := json.Unmarshal(data, &rehydrated); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !mustMatch(t, &rehydrated, map[string]any{"status": "paid", "total": 120.0}) {
		t.Fatal("expected rehydrated criteria to match")
	}
	if mustMatch(t, &rehydrated, map[string]any{"status": "paid", "total": 80.0}) {
		t.Fatal("expected rehydrated criteria not to match")
	}
}
