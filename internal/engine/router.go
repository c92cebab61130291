package engine

import "github.com/gofiber/fiber/v2"

// RegisterRoutes wires the dynamic entity endpoints. All routes require
// authentication; mutations additionally require the admin role.
func RegisterRoutes(app *fiber.App, h *Handler, authMW fiber.Handler, adminMW fiber.Handler) {
	api := app.Group("/api", authMW)

	api.Get("/:entity", h.List)
	api.Post("/:entity/query", h.Query)
	api.Get("/:entity/:id", h.GetByID)

	api.Post("/:entity", adminMW, h.Create)
	api.Patch("/:entity/:id", adminMW, h.Update)
	api.Delete("/:entity/:id", adminMW, h.Delete)
}
