package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"sieve-backend/internal/spec"
)

// Matcher evaluates a criteria tree against in-memory records, without a
// database round trip. The tree is rendered to an expression and compiled
// once; values travel as parameters, never as source text.
type Matcher struct {
	prog   *vm.Program
	params []any
}

// CompileMatcher compiles a criteria tree into a Matcher. A nil or empty
// tree compiles to a matcher that accepts every record, mirroring the
// no-constraint semantics of the specification combinators.
func CompileMatcher(c *spec.Criteria) (*Matcher, error) {
	var params []any
	src, err := renderExpr(c, &params)
	if err != nil {
		return nil, err
	}
	if src == "" {
		src = "true"
	}

	prog, err := expr.Compile(src,
		expr.Env(map[string]any{
			"record": map[string]any{},
			"p":      []any{},
		}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile matcher: %w", err)
	}
	return &Matcher{prog: prog, params: params}, nil
}

// Match reports whether the record satisfies the criteria.
func (m *Matcher) Match(record map[string]any) (bool, error) {
	out, err := expr.Run(m.prog, map[string]any{
		"record": record,
		"p":      m.params,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate matcher: %w", err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// renderExpr walks the tree bottom-up. An empty string means the node
// imposes no constraint; composite nodes drop empty children the same way
// the combinators treat nil specifications as identities.
func renderExpr(c *spec.Criteria, params *[]any) (string, error) {
	if c == nil {
		return "", nil
	}

	switch {
	case c.Not != nil:
		inner, err := renderExpr(c.Not, params)
		if err != nil || inner == "" {
			return "", err
		}
		return "!(" + inner + ")", nil

	case len(c.All) > 0:
		return renderChildren(c.All, " && ", params)

	case len(c.Any) > 0:
		return renderChildren(c.Any, " || ", params)

	case c.Field != "":
		return renderLeaf(c, params)

	default:
		return "", nil
	}
}

func renderChildren(nodes []*spec.Criteria, joiner string, params *[]any) (string, error) {
	var parts []string
	for _, n := range nodes {
		part, err := renderExpr(n, params)
		if err != nil {
			return "", err
		}
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

func renderLeaf(c *spec.Criteria, params *[]any) (string, error) {
	access := fmt.Sprintf("record[%q]", c.Field)
	op := c.Op
	if op == "" {
		op = spec.OpEq
	}

	bind := func(v any) string {
		*params = append(*params, v)
		return fmt.Sprintf("p[%d]", len(*params)-1)
	}

	switch op {
	case spec.OpEq:
		return fmt.Sprintf("%s == %s", access, bind(c.Value)), nil
	case spec.OpNeq:
		// SQL NULL never satisfies !=; missing or nil fields must not match.
		return fmt.Sprintf("(%s != nil && %s != %s)", access, access, bind(c.Value)), nil
	case spec.OpGt, spec.OpGte, spec.OpLt, spec.OpLte:
		cmp := map[string]string{
			spec.OpGt: ">", spec.OpGte: ">=", spec.OpLt: "<", spec.OpLte: "<=",
		}[op]
		// Missing fields compare as nil and would abort evaluation; treat
		// them as non-matching instead.
		return fmt.Sprintf("(%s != nil && %s %s %s)", access, access, cmp, bind(c.Value)), nil
	case spec.OpLike:
		pattern, ok := c.Value.(string)
		if !ok {
			return "", fmt.Errorf("like pattern for %s is %T, not string", c.Field, c.Value)
		}
		return fmt.Sprintf("(%s != nil && %s matches %s)", access, access, bind(likeRegexp(pattern))), nil
	case spec.OpIn:
		return fmt.Sprintf("%s in %s", access, bind(toSlice(c.Value))), nil
	case spec.OpNotIn:
		// Same NULL handling as neq: NOT IN over NULL matches nothing.
		return fmt.Sprintf("(%s != nil && !(%s in %s))", access, access, bind(toSlice(c.Value))), nil
	case spec.OpIsNull:
		return fmt.Sprintf("%s == nil", access), nil
	case spec.OpNotNull:
		return fmt.Sprintf("%s != nil", access), nil
	default:
		return "", fmt.Errorf("unknown operator: %s", op)
	}
}

// likeRegexp converts a SQL LIKE pattern to an anchored regular expression.
func likeRegexp(pattern string) string {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, "%", ".*")
	quoted = strings.ReplaceAll(quoted, "_", ".")
	return "^" + quoted + "$"
}
