package engine

import (
	"errors"
	"testing"

	"sieve-backend/internal/metadata"
	"sieve-backend/internal/spec"
	"sieve-backend/internal/store"
)

func ordersEntity() *metadata.Entity {
	return &metadata.Entity{
		Name:       "orders",
		Table:      "orders",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		SoftDelete: true,
		Ownership:  "created_by",
		Fields: []metadata.Field{
			{Name: "id", Type: "uuid"},
			{Name: "status", Type: "string", Required: true},
			{Name: "total", Type: "decimal"},
			{Name: "created_by", Type: "uuid"},
			{Name: "created_at", Type: "timestamp", Auto: "create"},
		},
	}
}

func plainEntity() *metadata.Entity {
	return &metadata.Entity{
		Name:       "tags",
		Table:      "tags",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "int"},
		Fields: []metadata.Field{
			{Name: "id", Type: "int"},
			{Name: "name", Type: "string"},
		},
	}
}

func TestBuildSelectSQLComposesSoftDeleteAndFilter(t *testing.T) {
	entity := ordersEntity()
	doc := &QueryDocument{
		Filter: &spec.Criteria{All: []*spec.Criteria{
			{Field: "status", Op: spec.OpEq, Value: "paid"},
			{Field: "total", Op: spec.OpGte, Value: 100},
		}},
		Sort: []string{"-created_at"},
	}

	plan, err := PlanFromDocument(doc, entity)
	if err != nil {
		t.Fatalf("PlanFromDocument: %v", err)
	}

	qr := BuildSelectSQL(plan, &store.PostgresDialect{})
	want := "SELECT id, status, total, created_by, created_at, deleted_at FROM orders" +
		" WHERE (deleted_at IS NULL AND (status = $1 AND total >= $2))" +
		" ORDER BY created_at DESC LIMIT $3 OFFSET $4"
	if qr.SQL != want {
		t.Fatalf("SQL mismatch:\n got  %s\n want %s", qr.SQL, want)
	}
	if len(qr.Params) != 4 {
		t.Fatalf("expected 4 params, got %v", qr.Params)
	}
	if qr.Params[0] != "paid" || qr.Params[2] != DefaultPerPage || qr.Params[3] != 0 {
		t.Fatalf("unexpected params: %v", qr.Params)
	}
}

func TestBuildSelectSQLWithoutFilterOrSoftDelete(t *testing.T) {
	plan, err := PlanFromDocument(&QueryDocument{}, plainEntity())
	if err != nil {
		t.Fatalf("PlanFromDocument: %v", err)
	}

	qr := BuildSelectSQL(plan, &store.PostgresDialect{})
	want := "SELECT id, name FROM tags LIMIT $1 OFFSET $2"
	if qr.SQL != want {
		t.Fatalf("SQL mismatch:\n got  %s\n want %s", qr.SQL, want)
	}
}

func TestBuildSelectSQLSQLitePlaceholdersAndIn(t *testing.T) {
	doc := &QueryDocument{
		Filter: &spec.Criteria{Field: "status", Op: spec.OpIn, Value: []any{"paid", "shipped"}},
	}
	plan, err := PlanFromDocument(doc, ordersEntity())
	if err != nil {
		t.Fatalf("PlanFromDocument: %v", err)
	}

	qr := BuildSelectSQL(plan, &store.SQLiteDialect{})
	want := "SELECT id, status, total, created_by, created_at, deleted_at FROM orders" +
		" WHERE (deleted_at IS NULL AND status IN (?1, ?2))" +
		" LIMIT ?3 OFFSET ?4"
	if qr.SQL != want {
		t.Fatalf("SQL mismatch:\n got  %s\n want %s", qr.SQL, want)
	}
	if qr.Params[0] != "paid" || qr.Params[1] != "shipped" {
		t.Fatalf("unexpected params: %v", qr.Params)
	}
}

func TestBuildSelectSQLSQLiteEmptyInListMatchesNothing(t *testing.T) {
	doc := &QueryDocument{
		Filter: &spec.Criteria{Field: "status", Op: spec.OpIn, Value: []any{}},
	}
	plan, err := PlanFromDocument(doc, ordersEntity())
	if err != nil {
		t.Fatalf("PlanFromDocument: %v", err)
	}

	qr := BuildSelectSQL(plan, &store.SQLiteDialect{})
	want := "SELECT id, status, total, created_by, created_at, deleted_at FROM orders" +
		" WHERE (deleted_at IS NULL AND 1 = 0)" +
		" LIMIT ?1 OFFSET ?2"
	if qr.SQL != want {
		t.Fatalf("SQL mismatch:\n got  %s\n want %s", qr.SQL, want)
	}
}

func TestBuildSelectSQLSQLiteEmptyNotInListExcludesNothing(t *testing.T) {
	doc := &QueryDocument{
		Filter: &spec.Criteria{Field: "status", Op: spec.OpNotIn, Value: []any{}},
	}
	plan, err := PlanFromDocument(doc, ordersEntity())
	if err != nil {
		t.Fatalf("PlanFromDocument: %v", err)
	}

	qr := BuildCountSQL(plan, &store.SQLiteDialect{})
	want := "SELECT COUNT(*) AS count FROM orders WHERE (deleted_at IS NULL AND 1 = 1)"
	if qr.SQL != want {
		t.Fatalf("SQL mismatch:\n got  %s\n want %s", qr.SQL, want)
	}
}

func TestBuildSelectSQLPostgresInUsesArrayParam(t *testing.T) {
	doc := &QueryDocument{
		Filter: &spec.Criteria{Field: "status", Op: spec.OpIn, Value: []any{"paid", "shipped"}},
	}
	plan, err := PlanFromDocument(doc, ordersEntity())
	if err != nil {
		t.Fatalf("PlanFromDocument: %v", err)
	}

	qr := BuildSelectSQL(plan, &store.PostgresDialect{})
	want := "SELECT id, status, total, created_by, created_at, deleted_at FROM orders" +
		" WHERE (deleted_at IS NULL AND status = ANY($1))" +
		" LIMIT $2 OFFSET $3"
	if qr.SQL != want {
		t.Fatalf("SQL mismatch:\n got  %s\n want %s", qr.SQL, want)
	}
}

func TestBuildCountSQLSharesFilter(t *testing.T) {
	doc := &QueryDocument{
		Filter: &spec.Criteria{Not: &spec.Criteria{Field: "status", Op: spec.OpEq, Value: "void"}},
	}
	plan, err := PlanFromDocument(doc, ordersEntity())
	if err != nil {
		t.Fatalf("PlanFromDocument: %v", err)
	}

	qr := BuildCountSQL(plan, &store.PostgresDialect{})
	want := "SELECT COUNT(*) AS count FROM orders WHERE (deleted_at IS NULL AND NOT status = $1)"
	if qr.SQL != want {
		t.Fatalf("SQL mismatch:\n got  %s\n want %s", qr.SQL, want)
	}
}

func TestBuildSelectSQLHonorsDistinctFlag(t *testing.T) {
	plan, err := PlanFromDocument(&QueryDocument{}, plainEntity())
	if err != nil {
		t.Fatalf("PlanFromDocument: %v", err)
	}
	plan.Filter = spec.Specification(func(root spec.Root, q *spec.Query, b spec.Builder) spec.Predicate {
		q.Distinct = true
		return b.Compare("name", spec.OpEq, "alpha")
	})

	qr := BuildSelectSQL(plan, &store.PostgresDialect{})
	want := "SELECT DISTINCT id, name FROM tags WHERE name = $1 LIMIT $2 OFFSET $3"
	if qr.SQL != want {
		t.Fatalf("SQL mismatch:\n got  %s\n want %s", qr.SQL, want)
	}
}

func TestPlanFromDocumentRejectsUnknownField(t *testing.T) {
	doc := &QueryDocument{Filter: &spec.Criteria{Field: "bogus", Op: spec.OpEq, Value: 1}}
	_, err := PlanFromDocument(doc, ordersEntity())
	if err == nil {
		t.Fatal("expected unknown field error")
	}
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Code != "UNKNOWN_FIELD" {
		t.Fatalf("expected UNKNOWN_FIELD error, got %v", err)
	}
}

func TestPlanFromDocumentRejectsUnknownOperator(t *testing.T) {
	doc := &QueryDocument{Filter: &spec.Criteria{Field: "status", Op: "between", Value: 1}}
	_, err := PlanFromDocument(doc, ordersEntity())
	if err == nil {
		t.Fatal("expected unknown operator error")
	}
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Code != "UNKNOWN_OPERATOR" {
		t.Fatalf("expected UNKNOWN_OPERATOR error, got %v", err)
	}
}

func TestPlanFromDocumentRejectsUnknownSortField(t *testing.T) {
	doc := &QueryDocument{Sort: []string{"-bogus"}}
	if _, err := PlanFromDocument(doc, ordersEntity()); err == nil {
		t.Fatal("expected unknown sort field error")
	}
}

func TestPlanFromDocumentClampsPerPage(t *testing.T) {
	plan, err := PlanFromDocument(&QueryDocument{PerPage: 5000}, ordersEntity())
	if err != nil {
		t.Fatalf("PlanFromDocument: %v", err)
	}
	if plan.PerPage != MaxPerPage {
		t.Fatalf("expected per_page clamped to %d, got %d", MaxPerPage, plan.PerPage)
	}
}

func TestReadScopeComposesOwnership(t *testing.T) {
	entity := ordersEntity()
	user := &metadata.UserContext{ID: "u-1", Roles: []string{"member"}}

	plan, err := PlanFromDocument(&QueryDocument{
		Filter: &spec.Criteria{Field: "status", Op: spec.OpEq, Value: "paid"},
	}, entity)
	if err != nil {
		t.Fatalf("PlanFromDocument: %v", err)
	}
	plan.Filter = spec.Where(ReadScope(user, entity)).And(plan.Filter)

	qr := BuildCountSQL(plan, &store.PostgresDialect{})
	want := "SELECT COUNT(*) AS count FROM orders WHERE (deleted_at IS NULL AND (created_by = $1 AND status = $2))"
	if qr.SQL != want {
		t.Fatalf("SQL mismatch:\n got  %s\n want %s", qr.SQL, want)
	}
	if qr.Params[0] != "u-1" {
		t.Fatalf("unexpected params: %v", qr.Params)
	}
}

func TestReadScopeIsAbsentForAdminsAndUnscopedEntities(t *testing.T) {
	entity := ordersEntity()
	admin := &metadata.UserContext{ID: "u-2", Roles: []string{"admin"}}
	if s := ReadScope(admin, entity); s != nil {
		t.Fatal("expected no scope for admin")
	}
	if s := ReadScope(&metadata.UserContext{ID: "u-3"}, plainEntity()); s != nil {
		t.Fatal("expected no scope for entity without ownership")
	}

	// And-composing the absent scope must leave the filter untouched.
	plan, err := PlanFromDocument(&QueryDocument{
		Filter: &spec.Criteria{Field: "status", Op: spec.OpEq, Value: "paid"},
	}, entity)
	if err != nil {
		t.Fatalf("PlanFromDocument: %v", err)
	}
	plan.Filter = spec.Where(ReadScope(admin, entity)).And(plan.Filter)

	qr := BuildCountSQL(plan, &store.PostgresDialect{})
	want := "SELECT COUNT(*) AS count FROM orders WHERE (deleted_at IS NULL AND status = $1)"
	if qr.SQL != want {
		t.Fatalf("SQL mismatch:\n got  %s\n want %s", qr.SQL, want)
	}
}

func TestCoerceValueByFieldType(t *testing.T) {
	intField := &metadata.Field{Name: "qty", Type: "int"}
	if v, err := coerceValue(intField, "42", spec.OpEq); err != nil || v != 42 {
		t.Fatalf("expected 42, got %v (%v)", v, err)
	}

	boolField := &metadata.Field{Name: "active", Type: "boolean"}
	if v, err := coerceValue(boolField, "true", spec.OpEq); err != nil || v != true {
		t.Fatalf("expected true, got %v (%v)", v, err)
	}

	decField := &metadata.Field{Name: "total", Type: "decimal"}
	v, err := coerceValue(decField, "10,20.5", spec.OpIn)
	if err != nil {
		t.Fatalf("coerce in-list: %v", err)
	}
	list, ok := v.([]any)
	if !ok || len(list) != 2 || list[0] != float64(10) || list[1] != 20.5 {
		t.Fatalf("unexpected in-list coercion: %v", v)
	}

	if _, err := coerceValue(intField, "abc", spec.OpEq); err == nil {
		t.Fatal("expected coercion error for non-numeric int")
	}
}
