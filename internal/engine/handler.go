package engine

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/questpie/questpie-cms-sub013/internal/config"
	"github.com/questpie/questpie-cms-sub013/internal/metadata"
	"github.com/questpie/questpie-cms-sub013/internal/query"
	"github.com/questpie/questpie-cms-sub013/internal/store"
)

type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	types    *query.TypeRegistry
	locale   config.LocaleConfig
	strict   bool
}

func NewHandler(s *store.Store, reg *metadata.Registry, types *query.TypeRegistry, cfg *config.Config) *Handler {
	return &Handler{
		store:    s,
		registry: reg,
		types:    types,
		locale:   cfg.Locale,
		strict:   cfg.Filters.Strict,
	}
}

// List handles GET /api/:entity
func (h *Handler) List(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	plan, err := ParseQueryParams(c, entity, h.registry, h.strict, h.locale)
	if err != nil {
		return err
	}

	ev := h.evalContext(c, plan.Locale, nil, nil)
	access := ExecuteAccessRule(entity.Access.Read, ev, entity, h.registry, "read")
	if !access.Allowed {
		return ForbiddenError("Not allowed to read " + entity.Name)
	}
	plan.Where = MergeWhereWithAccess(plan.Where, access)

	qr, err := BuildSelectSQL(plan, h.store.Dialect, h.types, h.registry, h.strict)
	if err != nil {
		return err
	}
	rows, err := store.QueryRows(c.Context(), h.store.DB, qr.SQL, qr.Params...)
	if err != nil {
		return listError(entity, err)
	}

	cr, err := BuildCountSQL(plan, h.store.Dialect, h.types, h.registry, h.strict)
	if err != nil {
		return err
	}
	countRow, err := store.QueryRow(c.Context(), h.store.DB, cr.SQL, cr.Params...)
	if err != nil {
		return listError(entity, err)
	}

	if h.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, boolFields(entity))
	}
	ApplyReadAccess(entity, rows, ev)

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
	locale := c.Query("locale", h.locale.Default)

	ev := h.evalContext(c, locale, nil, nil)
	access := ExecuteAccessRule(entity.Access.Read, ev, entity, h.registry, "read")
	if !access.Allowed {
		return ForbiddenError("Not allowed to read " + entity.Name)
	}

	row, err := FetchByID(c.Context(), h.store.DB, h.store.Dialect, h.types, h.registry, entity, id, access.Where, h.strict)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(entity.Name, id)
		}
		return err
	}

	rows := []map[string]any{row}
	if h.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, boolFields(entity))
	}
	ApplyReadAccess(entity, rows, ev)

	return c.JSON(fiber.Map{"data": rows[0]})
}

// Create handles POST /api/:entity
func (h *Handler) Create(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	locale := c.Query("locale", h.locale.Default)
	ev := h.evalContext(c, locale, nil, body)

	access := ExecuteAccessRule(entity.Access.Create, ev, entity, h.registry, "create")
	if !access.Allowed {
		return ForbiddenError("Not allowed to create " + entity.Name)
	}
	if appErr := CheckWriteAccess(entity, body, ev); appErr != nil {
		return appErr
	}

	plan, validationErrs := PlanWrite(entity, h.types, body, "")
	if len(validationErrs) > 0 {
		return ValidationError(validationErrs)
	}

	record, err := ExecuteWritePlan(c.Context(), h.store, plan, locale)
	if err != nil {
		return err
	}
	return c.Status(201).JSON(fiber.Map{"data": record})
}

// Update handles PUT /api/:entity/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	id := c.Params("id")
	locale := c.Query("locale", h.locale.Default)

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	// The rule is evaluated against the current row state, so the row is
	// fetched first; a conditional result further narrows which rows the
	// caller may touch, and a non-matching row reads as absent.
	current, err := FetchByID(c.Context(), h.store.DB, h.store.Dialect, h.types, h.registry, entity, id, nil, h.strict)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(entity.Name, id)
		}
		return err
	}

	ev := h.evalContext(c, locale, current, body)
	access := ExecuteAccessRule(entity.Access.Update, ev, entity, h.registry, "update")
	if !access.Allowed {
		return ForbiddenError("Not allowed to update " + entity.Name)
	}
	if !access.Where.Empty() {
		if _, err := FetchByID(c.Context(), h.store.DB, h.store.Dialect, h.types, h.registry, entity, id, access.Where, h.strict); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return NotFoundError(entity.Name, id)
			}
			return err
		}
	}

	if appErr := CheckWriteAccess(entity, body, ev); appErr != nil {
		return appErr
	}

	plan, validationErrs := PlanWrite(entity, h.types, body, id)
	if len(validationErrs) > 0 {
		return ValidationError(validationErrs)
	}

	record, err := ExecuteWritePlan(c.Context(), h.store, plan, locale)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(entity.Name, id)
		}
		return err
	}
	return c.JSON(fiber.Map{"data": record})
}

// Delete handles DELETE /api/:entity/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	id := c.Params("id")

	current, err := FetchByID(c.Context(), h.store.DB, h.store.Dialect, h.types, h.registry, entity, id, nil, h.strict)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(entity.Name, id)
		}
		return err
	}

	ev := h.evalContext(c, h.locale.Default, current, nil)
	access := ExecuteAccessRule(entity.Access.Delete, ev, entity, h.registry, "delete")
	if !access.Allowed {
		return ForbiddenError("Not allowed to delete " + entity.Name)
	}
	if !access.Where.Empty() {
		if _, err := FetchByID(c.Context(), h.store.DB, h.store.Dialect, h.types, h.registry, entity, id, access.Where, h.strict); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return NotFoundError(entity.Name, id)
			}
			return err
		}
	}

	if err := ExecuteDelete(c.Context(), h.store, entity, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(entity.Name, id)
		}
		return err
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

func (h *Handler) evalContext(c *fiber.Ctx, locale string, row, input map[string]any) *metadata.EvalContext {
	return &metadata.EvalContext{
		Ctx:    c.Context(),
		DB:     h.store.DB,
		User:   getUser(c),
		Locale: locale,
		Row:    row,
		Input:  input,
	}
}

func getUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}

func boolFields(entity *metadata.Entity) []string {
	var fields []string
	for _, f := range entity.Fields {
		if f.Type == query.KindCheckbox {
			fields = append(fields, f.Name)
		}
	}
	return fields
}

func listError(entity *metadata.Entity, err error) error {
	log.Printf("ERROR: query %s: %v", entity.Name, err)
	return &AppError{
		Code:    "QUERY_FAILED",
		Status:  500,
		Message: "Failed to query " + entity.Name,
	}
}
