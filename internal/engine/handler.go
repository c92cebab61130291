package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"sieve-backend/internal/metadata"
	"sieve-backend/internal/spec"
	"sieve-backend/internal/store"
)

// Handler serves the dynamic entity endpoints.
type Handler struct {
	store    *store.Store
	registry *metadata.Registry
}

func NewHandler(s *store.Store, reg *metadata.Registry) *Handler {
	return &Handler{store: s, registry: reg}
}

// List handles GET /api/:entity with flat filter params.
func (h *Handler) List(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	plan, err := ParseQueryParams(c, entity)
	if err != nil {
		return err
	}

	return h.execute(c, plan)
}

// Query handles POST /api/:entity/query with a criteria document body,
// allowing arbitrary-depth and/or/not composition.
func (h *Handler) Query(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	plan, err := ParseQueryBody(c.Body(), entity)
	if err != nil {
		return err
	}

	return h.execute(c, plan)
}

// execute runs a plan: row-level scope is And-composed with the user's
// filter, then both queries share the same specification tree.
func (h *Handler) execute(c *fiber.Ctx, plan *QueryPlan) error {
	entity := plan.Entity

	if scope := ReadScope(getUser(c), entity); scope != nil {
		plan.Filter = spec.Where(scope).And(plan.Filter)
	}

	qr := BuildSelectSQL(plan, h.store.Dialect)
	rows, err := store.QueryRows(c.Context(), h.store.DB, qr.SQL, qr.Params...)
	if err != nil {
		return fmt.Errorf("list %s: %w", entity.Name, err)
	}

	cr := BuildCountSQL(plan, h.store.Dialect)
	countRow, err := store.QueryRow(c.Context(), h.store.DB, cr.SQL, cr.Params...)
	if err != nil {
		return fmt.Errorf("count %s: %w", entity.Name, err)
	}

	if h.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, entity.BoolFieldNames())
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	return c.JSON(fiber.Map{
		"data": rows,
		"meta": fiber.Map{
			"page":     plan.Page,
			"per_page": plan.PerPage,
			"total":    countRow["count"],
		},
	})
}

// GetByID handles GET /api/:entity/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	id := c.Params("id")
	row, err := h.fetchRecord(c.Context(), entity, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(entity.Name, id)
		}
		return fmt.Errorf("get %s/%s: %w", entity.Name, id, err)
	}

	if h.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans([]map[string]any{row}, entity.BoolFieldNames())
	}
	return c.JSON(fiber.Map{"data": row})
}

// Create handles POST /api/:entity
func (h *Handler) Create(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}

	fields, details := validateWrite(entity, body, true)
	if len(details) > 0 {
		return ValidationError(details)
	}

	// Stamp ownership from the authenticated user when declared.
	if entity.Ownership != "" {
		if user := getUser(c); user != nil {
			fields[entity.Ownership] = user.ID
		}
	}

	pk := entity.PrimaryKey
	if pk.Generated && pk.Type == "uuid" && h.store.Dialect.UUIDDefault() == "" {
		fields[pk.Field] = uuid.New().String()
	}

	pb := h.store.Dialect.NewParamBuilder()
	var cols, vals []string
	for name, v := range fields {
		cols = append(cols, name)
		vals = append(vals, pb.Add(v))
	}
	for _, f := range entity.Fields {
		if f.IsAuto() {
			cols = append(cols, f.Name)
			vals = append(vals, h.store.Dialect.NowExpr())
		}
	}

	sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		entity.Table, strings.Join(cols, ", "), strings.Join(vals, ", "))
	if _, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...); err != nil {
		if errors.Is(h.store.Dialect.MapError(err), store.ErrUniqueViolation) {
			return NewAppError("CONFLICT", 409, "Record violates a unique constraint")
		}
		return fmt.Errorf("create %s: %w", entity.Name, err)
	}

	id, _ := fields[pk.Field].(string)
	if id != "" {
		row, err := h.fetchRecord(c.Context(), entity, id)
		if err == nil {
			return c.Status(201).JSON(fiber.Map{"data": row})
		}
	}
	return c.Status(201).JSON(fiber.Map{"data": fields})
}

// Update handles PATCH /api/:entity/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	id := c.Params("id")

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}

	fields, details := validateWrite(entity, body, false)
	if len(details) > 0 {
		return ValidationError(details)
	}
	if len(fields) == 0 {
		return NewAppError("INVALID_PAYLOAD", 400, "No writable fields in request")
	}

	pb := h.store.Dialect.NewParamBuilder()
	var sets []string
	for name, v := range fields {
		sets = append(sets, fmt.Sprintf("%s = %s", name, pb.Add(v)))
	}
	for _, f := range entity.Fields {
		if f.Auto == "update" {
			sets = append(sets, fmt.Sprintf("%s = %s", f.Name, h.store.Dialect.NowExpr()))
		}
	}

	sqlStr := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		entity.Table, strings.Join(sets, ", "), entity.PrimaryKey.Field, pb.Add(id))
	n, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		if errors.Is(h.store.Dialect.MapError(err), store.ErrUniqueViolation) {
			return NewAppError("CONFLICT", 409, "Record violates a unique constraint")
		}
		return fmt.Errorf("update %s/%s: %w", entity.Name, id, err)
	}
	if n == 0 {
		return NotFoundError(entity.Name, id)
	}

	row, err := h.fetchRecord(c.Context(), entity, id)
	if err != nil {
		return fmt.Errorf("reload %s/%s: %w", entity.Name, id, err)
	}
	return c.JSON(fiber.Map{"data": row})
}

// Delete handles DELETE /api/:entity/:id. Soft-delete entities get a
// deleted_at stamp; everything else is removed.
func (h *Handler) Delete(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	id := c.Params("id")

	pb := h.store.Dialect.NewParamBuilder()
	var sqlStr string
	if entity.SoftDelete {
		sqlStr = fmt.Sprintf("UPDATE %s SET deleted_at = %s WHERE %s = %s AND deleted_at IS NULL",
			entity.Table, h.store.Dialect.NowExpr(), entity.PrimaryKey.Field, pb.Add(id))
	} else {
		sqlStr = fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
			entity.Table, entity.PrimaryKey.Field, pb.Add(id))
	}

	n, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", entity.Name, id, err)
	}
	if n == 0 {
		return NotFoundError(entity.Name, id)
	}
	return c.SendStatus(204)
}

func (h *Handler) resolveEntity(c *fiber.Ctx) (*metadata.Entity, error) {
	name := c.Params("entity")
	entity := h.registry.GetEntity(name)
	if entity == nil {
		return nil, UnknownEntityError(name)
	}
	return entity, nil
}

// fetchRecord loads one row by primary key, honoring soft delete.
func (h *Handler) fetchRecord(ctx context.Context, entity *metadata.Entity, id string) (map[string]any, error) {
	b := NewSQLBuilder(h.store.Dialect)

	byID := spec.Specification(func(root spec.Root, q *spec.Query, bb spec.Builder) spec.Predicate {
		return bb.Compare(entity.PrimaryKey.Field, spec.OpEq, id)
	})
	filter := spec.Where(byID).And(NotDeleted(entity))

	p := filter(Root(entity), &spec.Query{}, b)
	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(entity.FieldNames(), ", "), entity.Table, b.SQL(p))
	return store.QueryRow(ctx, h.store.DB, sqlStr, b.Params()...)
}

// validateWrite filters the body down to writable fields, checking
// required fields (create only), enum membership and unknown names.
func validateWrite(entity *metadata.Entity, body map[string]any, isCreate bool) (map[string]any, []ErrorDetail) {
	writable := make(map[string]metadata.Field)
	for _, f := range entity.WritableFields() {
		writable[f.Name] = f
	}

	fields := make(map[string]any)
	var details []ErrorDetail

	for name, v := range body {
		f, ok := writable[name]
		if !ok {
			details = append(details, ErrorDetail{
				Field:   name,
				Message: "unknown or read-only field",
			})
			continue
		}
		if v != nil && !f.AllowsValue(v) {
			details = append(details, ErrorDetail{
				Field:   name,
				Message: fmt.Sprintf("value not in enum %v", f.Enum),
			})
			continue
		}
		fields[name] = v
	}

	if isCreate {
		for _, f := range entity.WritableFields() {
			if !f.Required {
				continue
			}
			if v, ok := fields[f.Name]; !ok || v == nil {
				if f.Default != nil {
					fields[f.Name] = f.Default
					continue
				}
				details = append(details, ErrorDetail{
					Field:   f.Name,
					Message: "required field is missing",
				})
			}
		}
	}

	return fields, details
}

// getUser extracts the authenticated user set by the auth middleware.
func getUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}
