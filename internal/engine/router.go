package engine

import "github.com/gofiber/fiber/v2"

// RegisterSchemaRoutes mounts the schema-definition API. Callers pass the
// middleware chain (auth, admin) so this package stays free of auth imports.
func RegisterSchemaRoutes(app *fiber.App, h *SchemaHandler, mw ...fiber.Handler) {
	schema := app.Group("/api/_schema", mw...)

	schema.Get("/entities", h.ListEntities)
	schema.Put("/entities/:name", h.UpsertEntity)
	schema.Delete("/entities/:name", h.DeleteEntity)
	schema.Put("/relations/:source/:name", h.UpsertRelation)
	schema.Delete("/relations/:source/:name", h.DeleteRelation)
}

// RegisterDynamicRoutes mounts the per-entity CRUD API. Must be registered
// after the schema routes so "/_schema" is not captured by ":entity".
func RegisterDynamicRoutes(app *fiber.App, h *Handler, mw ...fiber.Handler) {
	api := app.Group("/api", mw...)

	api.Get("/:entity", h.List)
	api.Get("/:entity/:id", h.GetByID)
	api.Post("/:entity", h.Create)
	api.Put("/:entity/:id", h.Update)
	api.Delete("/:entity/:id", h.Delete)
}
