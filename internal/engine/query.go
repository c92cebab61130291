package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"sieve-backend/internal/metadata"
	"sieve-backend/internal/spec"
	"sieve-backend/internal/store"
)

const (
	DefaultPerPage = 25
	MaxPerPage     = 100
)

// QueryPlan is a validated, executable description of a list query. The
// filter is a composed specification; a nil filter matches everything.
type QueryPlan struct {
	Entity  *metadata.Entity
	Filter  spec.Specification
	Sorts   []OrderClause
	Page    int
	PerPage int
}

type OrderClause struct {
	Field string
	Dir   string // ASC or DESC
}

type QueryResult struct {
	SQL    string
	Params []any
}

// QueryDocument is the POST body of the ad-hoc query endpoint: a criteria
// tree plus sorting and paging. The same document shape is persisted by
// saved searches.
type QueryDocument struct {
	Filter  *spec.Criteria `json:"filter,omitempty"`
	Sort    []string       `json:"sort,omitempty"`
	Page    int            `json:"page,omitempty"`
	PerPage int            `json:"per_page,omitempty"`
}

// ParseQueryParams parses Fiber query parameters into a QueryPlan.
// Flat filter[field]=val / filter[field.op]=val params are AND-folded.
func ParseQueryParams(c *fiber.Ctx, entity *metadata.Entity) (*QueryPlan, error) {
	plan := &QueryPlan{
		Entity:  entity,
		Page:    1,
		PerPage: DefaultPerPage,
	}

	var leaves []*spec.Criteria
	for key, val := range c.Queries() {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		inner := key[7 : len(key)-1] // extract between [ and ]
		field, op := parseFilterKey(inner)

		if !entity.HasField(field) {
			return nil, &AppError{
				Code:    "UNKNOWN_FIELD",
				Status:  400,
				Message: fmt.Sprintf("Unknown filter field: %s", field),
			}
		}

		coerced, err := coerceValue(entity.GetField(field), val, op)
		if err != nil {
			return nil, &AppError{
				Code:    "INVALID_PAYLOAD",
				Status:  400,
				Message: fmt.Sprintf("Invalid filter value for %s: %v", field, err),
			}
		}

		leaves = append(leaves, &spec.Criteria{Field: field, Op: op, Value: coerced})
	}

	if len(leaves) > 0 {
		criteria := &spec.Criteria{All: leaves}
		if err := criteria.Validate(Root(entity)); err != nil {
			return nil, FilterError(err)
		}
		plan.Filter = criteria.Spec()
	}

	if err := parseSorts(plan, strings.Split(c.Query("sort"), ",")); err != nil {
		return nil, err
	}

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			plan.Page = v
		}
	}
	if pp := c.Query("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 {
			plan.PerPage = v
		}
	}
	clampPerPage(plan)

	return plan, nil
}

// ParseQueryBody parses a criteria document into a QueryPlan. The criteria
// tree is validated against the entity before compilation.
func ParseQueryBody(body []byte, entity *metadata.Entity) (*QueryPlan, error) {
	var doc QueryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, NewAppError("INVALID_PAYLOAD", 400, "Invalid query document")
	}
	return PlanFromDocument(&doc, entity)
}

// PlanFromDocument builds a QueryPlan from an already-decoded document.
// Saved searches reuse this after rehydrating their stored criteria.
func PlanFromDocument(doc *QueryDocument, entity *metadata.Entity) (*QueryPlan, error) {
	plan := &QueryPlan{
		Entity:  entity,
		Page:    1,
		PerPage: DefaultPerPage,
	}

	if doc.Filter != nil {
		if err := doc.Filter.Validate(Root(entity)); err != nil {
			return nil, FilterError(err)
		}
		plan.Filter = doc.Filter.Spec()
	}

	if err := parseSorts(plan, doc.Sort); err != nil {
		return nil, err
	}
	if doc.Page > 0 {
		plan.Page = doc.Page
	}
	if doc.PerPage > 0 {
		plan.PerPage = doc.PerPage
	}
	clampPerPage(plan)

	return plan, nil
}

// BuildSelectSQL evaluates the plan's specification and renders a
// parameterized SELECT statement.
func BuildSelectSQL(plan *QueryPlan, dialect store.Dialect) QueryResult {
	entity := plan.Entity
	b := NewSQLBuilder(dialect)

	// Evaluated first so specifications can flag the query before the
	// statement head is chosen.
	q := &spec.Query{}
	where := whereClause(plan, b, q)

	columns := strings.Join(entity.FieldNames(), ", ")
	if entity.SoftDelete && entity.GetField("deleted_at") == nil {
		columns += ", deleted_at"
	}

	keyword := "SELECT"
	if q.Distinct {
		keyword = "SELECT DISTINCT"
	}
	sqlStr := fmt.Sprintf("%s %s FROM %s", keyword, columns, entity.Table)
	sqlStr += where

	if len(plan.Sorts) > 0 {
		var orderParts []string
		for _, s := range plan.Sorts {
			orderParts = append(orderParts, fmt.Sprintf("%s %s", s.Field, s.Dir))
		}
		sqlStr += " ORDER BY " + strings.Join(orderParts, ", ")
	}

	pb := b.ParamBuilder()
	limit := pb.Add(plan.PerPage)
	offset := pb.Add((plan.Page - 1) * plan.PerPage)
	sqlStr += fmt.Sprintf(" LIMIT %s OFFSET %s", limit, offset)

	return QueryResult{SQL: sqlStr, Params: b.Params()}
}

// BuildCountSQL renders a COUNT query with the same filters as the select.
func BuildCountSQL(plan *QueryPlan, dialect store.Dialect) QueryResult {
	b := NewSQLBuilder(dialect)
	sqlStr := fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", plan.Entity.Table)
	sqlStr += whereClause(plan, b, &spec.Query{})
	return QueryResult{SQL: sqlStr, Params: b.Params()}
}

// whereClause composes the soft-delete scope with the plan's filter and
// renders the result. Both sides may be absent; absence composes away.
func whereClause(plan *QueryPlan, b *SQLBuilder, q *spec.Query) string {
	filter := spec.Where(NotDeleted(plan.Entity)).And(plan.Filter)

	p := filter(Root(plan.Entity), q, b)
	if p == nil {
		return ""
	}
	return " WHERE " + b.SQL(p)
}

// NotDeleted returns the soft-delete scope for an entity, or nil when the
// entity keeps deleted rows visible (no soft delete).
func NotDeleted(entity *metadata.Entity) spec.Specification {
	if !entity.SoftDelete {
		return nil
	}
	return func(root spec.Root, q *spec.Query, b spec.Builder) spec.Predicate {
		return b.Compare("deleted_at", spec.OpIsNull, nil)
	}
}

func parseSorts(plan *QueryPlan, parts []string) error {
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dir := "ASC"
		field := part
		if strings.HasPrefix(part, "-") {
			dir = "DESC"
			field = part[1:]
		}
		if !plan.Entity.HasField(field) {
			return &AppError{
				Code:    "UNKNOWN_FIELD",
				Status:  400,
				Message: fmt.Sprintf("Unknown sort field: %s", field),
			}
		}
		plan.Sorts = append(plan.Sorts, OrderClause{Field: field, Dir: dir})
	}
	return nil
}

func clampPerPage(plan *QueryPlan) {
	if plan.PerPage > MaxPerPage {
		plan.PerPage = MaxPerPage
	}
}

// parseFilterKey splits "total.gte" into ("total", "gte") or "status" into ("status", "eq").
func parseFilterKey(key string) (string, string) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return key, spec.OpEq
}

// coerceValue converts string query param values to appropriate Go types
// based on field metadata.
func coerceValue(field *metadata.Field, val string, op string) (any, error) {
	if op == spec.OpIsNull || op == spec.OpNotNull {
		return nil, nil
	}

	// "in" and "not_in" take comma-separated lists
	if op == spec.OpIn || op == spec.OpNotIn {
		parts := strings.Split(val, ",")
		coerced := make([]any, len(parts))
		for i, p := range parts {
			v, err := coerceSingleValue(field, strings.TrimSpace(p))
			if err != nil {
				return nil, err
			}
			coerced[i] = v
		}
		return coerced, nil
	}

	return coerceSingleValue(field, val)
}

func coerceSingleValue(field *metadata.Field, val string) (any, error) {
	switch field.Type {
	case "int":
		return strconv.Atoi(val)
	case "bigint":
		return strconv.ParseInt(val, 10, 64)
	case "decimal", "float":
		return strconv.ParseFloat(val, 64)
	case "boolean":
		return strconv.ParseBool(val)
	default:
		return val, nil
	}
}
