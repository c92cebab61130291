// Package spec implements composable query specifications: null-tolerant
// boolean combinators over predicate-producing functions. A Specification
// that is nil, or that yields a nil Predicate, means "no constraint" and
// acts as the identity element for both And and Or.
package spec

// Predicate is an opaque constraint handle produced by a Builder.
// Specifications pass predicates through and combine them with the
// builder's And, Or and Not operations; they never look inside one.
type Predicate interface{}

// Root describes the relation a specification is evaluated against.
type Root interface {
	// Table returns the relation's table name.
	Table() string

	// HasField reports whether the relation has a queryable field.
	HasField(name string) bool
}

// Query carries mutable state of the select statement under construction.
// Specifications may set flags on it while producing their predicate.
type Query struct {
	Distinct bool
}

// Builder constructs and combines predicates. Implementations own the
// predicate representation; the SQL builder in the engine package renders
// parameterized fragments through the store dialect.
type Builder interface {
	// Compare builds a single field constraint. Op is one of the Op*
	// constants; value is ignored for the null-test operators.
	Compare(field, op string, value any) Predicate

	And(left, right Predicate) Predicate
	Or(left, right Predicate) Predicate
	Not(p Predicate) Predicate
}

// Specification produces a Predicate for a query under construction, or
// nil when it imposes no constraint. Composition never executes anything;
// the tree is walked once, later, when evaluated against a concrete
// root/query/builder triple.
type Specification func(root Root, query *Query, b Builder) Predicate

// Where wraps a possibly-nil specification into one that is safe to call.
// The result is never nil, though its output may be a nil predicate.
func Where(s Specification) Specification {
	if s == nil {
		return func(Root, *Query, Builder) Predicate { return nil }
	}
	return s
}

// Not negates a specification. A nil specification, or one yielding a nil
// predicate, negates to nil: the absence of a constraint stays "no
// constraint" rather than becoming "reject everything".
func Not(s Specification) Specification {
	return func(root Root, q *Query, b Builder) Predicate {
		if s == nil {
			return nil
		}
		p := s(root, q, b)
		if p == nil {
			return nil
		}
		return b.Not(p)
	}
}

// And combines two specifications with the builder's conjunction. If either
// side yields no predicate, the result is exactly the other side's.
func (s Specification) And(other Specification) Specification {
	return composed(s, other, Builder.And)
}

// Or combines two specifications with the builder's disjunction, with the
// same identity handling as And.
func (s Specification) Or(other Specification) Specification {
	return composed(s, other, Builder.Or)
}

// AllOf folds the given specifications with And. Nil entries are skipped
// as identities; no arguments yields a specification producing no
// predicate, which matches everything.
func AllOf(specs ...Specification) Specification {
	combined := Where(nil)
	for _, s := range specs {
		combined = combined.And(s)
	}
	return combined
}

// AnyOf folds the given specifications with Or, with the same nil and
// empty-input handling as AllOf.
func AnyOf(specs ...Specification) Specification {
	combined := Where(nil)
	for _, s := range specs {
		combined = combined.Or(s)
	}
	return combined
}

func composed(left, right Specification, combine func(Builder, Predicate, Predicate) Predicate) Specification {
	return func(root Root, q *Query, b Builder) Predicate {
		l := Where(left)(root, q, b)
		r := Where(right)(root, q, b)
		if l == nil {
			return r
		}
		if r == nil {
			return l
		}
		return combine(b, l, r)
	}
}
