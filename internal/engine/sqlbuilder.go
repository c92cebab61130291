package engine

import (
	"fmt"

	"sieve-backend/internal/metadata"
	"sieve-backend/internal/spec"
	"sieve-backend/internal/store"
)

// SQLBuilder is the spec.Builder that renders predicates as parameterized
// SQL fragments through the store dialect. One builder serves exactly one
// query-building pass; parameters accumulate in order of leaf evaluation.
type SQLBuilder struct {
	dialect store.Dialect
	pb      store.ParamBuilder
}

func NewSQLBuilder(dialect store.Dialect) *SQLBuilder {
	return &SQLBuilder{dialect: dialect, pb: dialect.NewParamBuilder()}
}

// sqlPredicate is the opaque predicate handle: a rendered SQL fragment.
type sqlPredicate struct {
	clause string
}

func (b *SQLBuilder) Compare(field, op string, value any) spec.Predicate {
	switch op {
	case spec.OpEq, "":
		return sqlPredicate{fmt.Sprintf("%s = %s", field, b.pb.Add(value))}
	case spec.OpNeq:
		return sqlPredicate{fmt.Sprintf("%s != %s", field, b.pb.Add(value))}
	case spec.OpGt:
		return sqlPredicate{fmt.Sprintf("%s > %s", field, b.pb.Add(value))}
	case spec.OpGte:
		return sqlPredicate{fmt.Sprintf("%s >= %s", field, b.pb.Add(value))}
	case spec.OpLt:
		return sqlPredicate{fmt.Sprintf("%s < %s", field, b.pb.Add(value))}
	case spec.OpLte:
		return sqlPredicate{fmt.Sprintf("%s <= %s", field, b.pb.Add(value))}
	case spec.OpLike:
		return sqlPredicate{fmt.Sprintf("%s LIKE %s", field, b.pb.Add(value))}
	case spec.OpIn:
		return sqlPredicate{b.dialect.InExpr(field, b.pb, toSlice(value))}
	case spec.OpNotIn:
		return sqlPredicate{b.dialect.NotInExpr(field, b.pb, toSlice(value))}
	case spec.OpIsNull:
		return sqlPredicate{fmt.Sprintf("%s IS NULL", field)}
	case spec.OpNotNull:
		return sqlPredicate{fmt.Sprintf("%s IS NOT NULL", field)}
	default:
		return sqlPredicate{fmt.Sprintf("%s = %s", field, b.pb.Add(value))}
	}
}

func (b *SQLBuilder) And(left, right spec.Predicate) spec.Predicate {
	return sqlPredicate{fmt.Sprintf("(%s AND %s)", clause(left), clause(right))}
}

func (b *SQLBuilder) Or(left, right spec.Predicate) spec.Predicate {
	return sqlPredicate{fmt.Sprintf("(%s OR %s)", clause(left), clause(right))}
}

func (b *SQLBuilder) Not(p spec.Predicate) spec.Predicate {
	return sqlPredicate{fmt.Sprintf("NOT %s", clause(p))}
}

// SQL unwraps the final predicate into its WHERE-clause fragment.
func (b *SQLBuilder) SQL(p spec.Predicate) string {
	return clause(p)
}

// Params returns the accumulated query parameters.
func (b *SQLBuilder) Params() []any {
	return b.pb.Params()
}

// ParamBuilder exposes the underlying builder so callers can append
// non-predicate params (LIMIT, OFFSET) with consistent numbering.
func (b *SQLBuilder) ParamBuilder() store.ParamBuilder {
	return b.pb
}

func clause(p spec.Predicate) string {
	sp, ok := p.(sqlPredicate)
	if !ok {
		// Foreign predicate values cannot occur through SQLBuilder's own
		// constructors; render a clause that fails loudly at the database.
		return "/* invalid predicate */"
	}
	return sp.clause
}

func toSlice(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case nil:
		return nil
	default:
		return []any{v}
	}
}

// entityRoot adapts entity metadata to the spec.Root capability.
type entityRoot struct {
	entity *metadata.Entity
}

func (r entityRoot) Table() string { return r.entity.Table }

func (r entityRoot) HasField(name string) bool {
	if name == "deleted_at" && r.entity.SoftDelete {
		return true
	}
	return r.entity.HasField(name)
}

// Root wraps an entity for specification evaluation.
func Root(entity *metadata.Entity) spec.Root {
	return entityRoot{entity: entity}
}
