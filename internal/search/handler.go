package search

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"sieve-backend/internal/engine"
	"sieve-backend/internal/metadata"
	"sieve-backend/internal/spec"
	"sieve-backend/internal/store"
)

// Handler serves the saved-search endpoints.
type Handler struct {
	repo     *Repository
	store    *store.Store
	registry *metadata.Registry
}

func NewHandler(s *store.Store, reg *metadata.Registry) *Handler {
	return &Handler{repo: NewRepository(s), store: s, registry: reg}
}

// RegisterRoutes wires the saved-search endpoints. Must be registered
// before the dynamic entity routes so /saved-searches is not swallowed by
// the /:entity wildcard.
func RegisterRoutes(app *fiber.App, h *Handler, authMW fiber.Handler) {
	grp := app.Group("/api/saved-searches", authMW)

	grp.Post("/", h.Create)
	grp.Get("/", h.List)
	grp.Get("/:id", h.Get)
	grp.Delete("/:id", h.Delete)
	grp.Get("/:id/run", h.Run)
	grp.Post("/:id/match", h.Match)
}

type createRequest struct {
	Entity   string         `json:"entity"`
	Name     string         `json:"name"`
	Criteria *spec.Criteria `json:"criteria"`
}

// Create handles POST /api/saved-searches. The criteria tree is validated
// against the target entity before it is persisted.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if req.Name == "" {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Saved search name is required")
	}

	entity := h.registry.GetEntity(req.Entity)
	if entity == nil {
		return engine.UnknownEntityError(req.Entity)
	}
	if err := req.Criteria.Validate(engine.Root(entity)); err != nil {
		return engine.FilterError(err)
	}

	s := &SavedSearch{
		Entity:   req.Entity,
		Name:     req.Name,
		Criteria: req.Criteria,
	}
	if user := currentUser(c); user != nil {
		s.CreatedBy = user.ID
	}

	if err := h.repo.Create(c.Context(), s); err != nil {
		if errors.Is(err, ErrDuplicateName) {
			return engine.NewAppError("CONFLICT", 409,
				fmt.Sprintf("Saved search %q already exists for %s", req.Name, req.Entity))
		}
		return err
	}
	return c.Status(201).JSON(fiber.Map{"data": s})
}

// List handles GET /api/saved-searches?entity=orders
func (h *Handler) List(c *fiber.Ctx) error {
	searches, err := h.repo.List(c.Context(), c.Query("entity"))
	if err != nil {
		return fmt.Errorf("list saved searches: %w", err)
	}
	return c.JSON(fiber.Map{"data": searches})
}

// Get handles GET /api/saved-searches/:id
func (h *Handler) Get(c *fiber.Ctx) error {
	s, err := h.loadSearch(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": s})
}

// Delete handles DELETE /api/saved-searches/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.repo.Delete(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engine.NotFoundError("saved search", id)
		}
		return err
	}
	return c.SendStatus(204)
}

// Run handles GET /api/saved-searches/:id/run. The stored criteria is
// rehydrated, compiled and executed; paging and sorting come from query
// params so one saved filter serves many views.
func (h *Handler) Run(c *fiber.Ctx) error {
	s, err := h.loadSearch(c)
	if err != nil {
		return err
	}

	entity := h.registry.GetEntity(s.Entity)
	if entity == nil {
		return engine.UnknownEntityError(s.Entity)
	}

	plan, err := engine.ParseQueryParams(c, entity)
	if err != nil {
		return err
	}
	if s.Criteria != nil {
		if err := s.Criteria.Validate(engine.Root(entity)); err != nil {
			// Entity metadata may have changed since the search was saved.
			return engine.InvalidFilterError(fmt.Sprintf("saved search is stale: %v", err))
		}
		plan.Filter = spec.Where(plan.Filter).And(s.Criteria.Spec())
	}
	if scope := engine.ReadScope(currentUser(c), entity); scope != nil {
		plan.Filter = spec.Where(scope).And(plan.Filter)
	}

	qr := engine.BuildSelectSQL(plan, h.store.Dialect)
	rows, err := store.QueryRows(c.Context(), h.store.DB, qr.SQL, qr.Params...)
	if err != nil {
		return fmt.Errorf("run saved search %s: %w", s.ID, err)
	}

	cr := engine.BuildCountSQL(plan, h.store.Dialect)
	countRow, err := store.QueryRow(c.Context(), h.store.DB, cr.SQL, cr.Params...)
	if err != nil {
		return fmt.Errorf("count saved search %s: %w", s.ID, err)
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
			"search":   s.Name,
			"page":     plan.Page,
			"per_page": plan.PerPage,
			"total":    countRow["count"],
		},
	})
}

// Match handles POST /api/saved-searches/:id/match: evaluates one record
// against the stored criteria in memory, without touching the entity table.
func (h *Handler) Match(c *fiber.Ctx) error {
	s, err := h.loadSearch(c)
	if err != nil {
		return err
	}

	var record map[string]any
	if err := c.BodyParser(&record); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid record body")
	}

	matcher, err := engine.CompileMatcher(s.Criteria)
	if err != nil {
		return engine.InvalidFilterError(err.Error())
	}
	matched, err := matcher.Match(record)
	if err != nil {
		return engine.InvalidFilterError(err.Error())
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"matched": matched}})
}

func (h *Handler) loadSearch(c *fiber.Ctx) (*SavedSearch, error) {
	id := c.Params("id")
	s, err := h.repo.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, engine.NotFoundError("saved search", id)
		}
		return nil, fmt.Errorf("load saved search %s: %w", id, err)
	}
	return s, nil
}

func currentUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}
