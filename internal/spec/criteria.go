package spec

import (
	"errors"
	"fmt"
)

// Comparison operators accepted in criteria trees. These mirror the
// filter[field.op] operators of the HTTP query surface.
const (
	OpEq      = "eq"
	OpNeq     = "neq"
	OpGt      = "gt"
	OpGte     = "gte"
	OpLt      = "lt"
	OpLte     = "lte"
	OpLike    = "like"
	OpIn      = "in"
	OpNotIn   = "not_in"
	OpIsNull  = "is_null"
	OpNotNull = "not_null"
)

// Validation failures carry these sentinels so callers can distinguish a
// bad field from a bad operator.
var (
	ErrUnknownField    = errors.New("unknown field")
	ErrUnknownOperator = errors.New("unknown operator")
)

var validOps = map[string]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true,
	OpLte: true, OpLike: true, OpIn: true, OpNotIn: true,
	OpIsNull: true, OpNotNull: true,
}

// Criteria is the serializable form of a specification: a declarative
// boolean tree that marshals to JSON and compiles back into the combinator
// algebra via Spec. A node is either a leaf comparison (Field set) or
// exactly one of All, Any, Not. The zero node means "no constraint".
//
// Saved searches persist criteria as JSON and rehydrate them later;
// round-tripping must preserve combinational behavior, which holds because
// the tree carries structure, not closures.
type Criteria struct {
	Field string `json:"field,omitempty"`
	Op    string `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`

	All []*Criteria `json:"all,omitempty"`
	Any []*Criteria `json:"any,omitempty"`
	Not *Criteria   `json:"not,omitempty"`
}

// Validate checks every node against the root's fields and the operator
// set. It rejects nodes that mix leaf and composite forms.
func (c *Criteria) Validate(root Root) error {
	if c == nil {
		return nil
	}

	kinds := 0
	if c.Field != "" {
		kinds++
	}
	if len(c.All) > 0 {
		kinds++
	}
	if len(c.Any) > 0 {
		kinds++
	}
	if c.Not != nil {
		kinds++
	}
	if kinds > 1 {
		return fmt.Errorf("criteria node mixes leaf and composite forms")
	}

	if c.Field != "" {
		if !root.HasField(c.Field) {
			return fmt.Errorf("%w: %s", ErrUnknownField, c.Field)
		}
		if c.Op != "" && !validOps[c.Op] {
			return fmt.Errorf("%w: %s", ErrUnknownOperator, c.Op)
		}
		return nil
	}

	for _, child := range c.All {
		if err := child.Validate(root); err != nil {
			return err
		}
	}
	for _, child := range c.Any {
		if err := child.Validate(root); err != nil {
			return err
		}
	}
	if c.Not != nil {
		return c.Not.Validate(root)
	}
	return nil
}

// Spec compiles the tree into a Specification using the combinators, so a
// criteria document and a hand-composed specification behave identically.
// A nil or empty node compiles to the neutral specification.
func (c *Criteria) Spec() Specification {
	if c == nil {
		return Where(nil)
	}

	switch {
	case c.Not != nil:
		return Not(c.Not.Spec())
	case len(c.All) > 0:
		return AllOf(childSpecs(c.All)...)
	case len(c.Any) > 0:
		return AnyOf(childSpecs(c.Any)...)
	case c.Field != "":
		field, op, value := c.Field, c.Op, c.Value
		if op == "" {
			op = OpEq
		}
		return func(root Root, q *Query, b Builder) Predicate {
			return b.Compare(field, op, value)
		}
	default:
		return Where(nil)
	}
}

func childSpecs(nodes []*Criteria) []Specification {
	specs := make([]Specification, len(nodes))
	for i, n := range nodes {
		if n == nil {
			continue // nil stays nil, the fold treats it as identity
		}
		specs[i] = n.Spec()
	}
	return specs
}
