package spec

import (
	"encoding/json"
	"testing"
)

func compile(t *testing.T, c *Criteria) Predicate {
	t.Helper()
	return c.Spec()(fakeRoot{}, &Query{}, fakeBuilder{})
}

func roundTrip(t *testing.T, c *Criteria) *Criteria {
	t.Helper()
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Criteria
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &out
}

func TestCriteriaLeafDefaultsToEq(t *testing.T) {
	c := &Criteria{Field: "status", Value: "paid"}
	if p := compile(t, c); p != "status eq paid" {
		t.Fatalf("expected eq default, got %v", p)
	}
}

func TestEmptyCriteriaCompilesToNoConstraint(t *testing.T) {
	if p := compile(t, &Criteria{}); p != nil {
		t.Fatalf("expected nil predicate, got %v", p)
	}
	if p := compile(t, nil); p != nil {
		t.Fatalf("expected nil predicate for nil criteria, got %v", p)
	}
}

func TestCriteriaAllSkipsNilChildren(t *testing.T) {
	c := &Criteria{All: []*Criteria{nil, {Field: "status", Op: OpEq, Value: "paid"}, nil}}
	if p := compile(t, c); p != "status eq paid" {
		t.Fatalf("expected single predicate, got %v", p)
	}
}

func TestCriteriaRoundTripPreservesBehavior(t *testing.T) {
	c := &Criteria{All: []*Criteria{
		{Field: "status", Op: OpEq, Value: "paid"},
		{Field: "total", Op: OpGte, Value: 100},
	}}

	got := roundTrip(t, c)
	if got == nil {
		t.Fatal("round trip returned nil criteria")
	}

	// JSON turns 100 into float64(100); the rendered structure must still
	// be the same conjunction shape.
	want := "(status eq paid AND total gte 100)"
	if p := compile(t, got); p != want {
		t.Fatalf("round-tripped criteria compiled to %v, want %v", p, want)
	}
}

func TestDeeplyNestedCriteriaRoundTrips(t *testing.T) {
	f := &Criteria{Field: "status", Op: OpEq, Value: "paid"}
	c := &Criteria{Not: &Criteria{Any: []*Criteria{
		{All: []*Criteria{f, f}},
		f,
	}}}

	got := roundTrip(t, c)
	want := "NOT ((status eq paid AND status eq paid) OR status eq paid)"
	if p := compile(t, got); p != want {
		t.Fatalf("round-tripped criteria compiled to %v, want %v", p, want)
	}
	if p := compile(t, c); p != want {
		t.Fatalf("original criteria compiled to %v, want %v", p, want)
	}
}

func TestValidateRejectsUnknownField(t *testing.T) {
	c := &Criteria{Field: "nope", Op: OpEq, Value: 1}
	if err := c.Validate(fakeRoot{}); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestValidateRejectsUnknownOperator(t *testing.T) {
	c := &Criteria{Field: "status", Op: "between", Value: 1}
	if err := c.Validate(fakeRoot{}); err == nil {
		t.Fatal("expected unknown operator error")
	}
}

func TestValidateRejectsMixedNode(t *testing.T) {
	c := &Criteria{
		Field: "status", Op: OpEq, Value: "paid",
		All: []*Criteria{{Field: "total", Op: OpGt, Value: 0}},
	}
	if err := c.Validate(fakeRoot{}); err == nil {
		t.Fatal("expected mixed node error")
	}
}

func TestValidateWalksNestedNodes(t *testing.T) {
	c := &Criteria{Not: &Criteria{Any: []*Criteria{
		{Field: "status", Op: OpEq, Value: "paid"},
		{Field: "bogus", Op: OpEq, Value: 1},
	}}}
	if err := c.Validate(fakeRoot{}); err == nil {
		t.Fatal("expected error from nested unknown field")
	}

	ok := &Criteria{Not: &Criteria{All: []*Criteria{
		{Field: "total", Op: OpLte, Value: 10},
		{Field: "name", Op: OpLike, Value: "A%"},
	}}}
	if err := ok.Validate(fakeRoot{}); err != nil {
		t.Fatalf("expected valid criteria, got %v", err)
	}
}
