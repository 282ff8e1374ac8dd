package engine

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/questpie/questpie-cms-sub013/internal/metadata"
	"github.com/questpie/questpie-cms-sub013/internal/query"
	"github.com/questpie/questpie-cms-sub013/internal/store"
)

// SchemaHandler manages the entity and relation definitions stored in the
// system tables. Every mutation provisions storage and reloads the registry,
// so the change is queryable immediately.
type SchemaHandler struct {
	store    *store.Store
	registry *metadata.Registry
	types    *query.TypeRegistry
}

func NewSchemaHandler(s *store.Store, reg *metadata.Registry, types *query.TypeRegistry) *SchemaHandler {
	return &SchemaHandler{store: s, registry: reg, types: types}
}

// ListEntities handles GET /api/_schema/entities
func (h *SchemaHandler) ListEntities(c *fiber.Ctx) error {
	entities := h.registry.AllEntities()
	out := make([]fiber.Map, 0, len(entities))
	for _, e := range entities {
		out = append(out, fiber.Map{
			"name":      e.Name,
			"table":     e.Table,
			"localized": e.Localized,
			"fields":    e.FieldNames(),
			"relations": relationNames(h.registry.RelationsForSource(e.Name)),
		})
	}
	return c.JSON(fiber.Map{"data": out})
}

// UpsertEntity handles PUT /api/_schema/entities/:name
func (h *SchemaHandler) UpsertEntity(c *fiber.Ctx) error {
	name := c.Params("name")

	var entity metadata.Entity
	if err := c.BodyParser(&entity); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid entity definition")
	}
	entity.Name = name
	if appErr := validateEntityDef(&entity, h.types); appErr != nil {
		return appErr
	}

	def, err := json.Marshal(&entity)
	if err != nil {
		return fmt.Errorf("marshal entity %s: %w", name, err)
	}

	pb := h.store.Dialect.NewParamBuilder()
	sql := fmt.Sprintf(
		"INSERT INTO _entities (name, table_name, definition) VALUES (%s, %s, %s) ON CONFLICT (name) DO UPDATE SET table_name = excluded.table_name, definition = excluded.definition, updated_at = "+h.store.Dialect.NowExpr(),
		pb.Add(name), pb.Add(entity.Table), pb.Add(string(def)))
	if _, err := h.store.DB.ExecContext(c.Context(), sql, pb.Params()...); err != nil {
		return fmt.Errorf("save entity %s: %w", name, err)
	}

	if _, err := h.store.DB.ExecContext(c.Context(), BuildCreateTableSQL(h.store.Dialect, h.types, &entity)); err != nil {
		return fmt.Errorf("provision table for %s: %w", name, err)
	}
	if ddl := BuildLocaleTableSQL(h.store.Dialect, h.types, &entity); ddl != "" {
		if _, err := h.store.DB.ExecContext(c.Context(), ddl); err != nil {
			return fmt.Errorf("provision locale table for %s: %w", name, err)
		}
	}

	if err := metadata.Reload(c.Context(), h.store.DB, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return c.JSON(fiber.Map{"data": entity})
}

// DeleteEntity handles DELETE /api/_schema/entities/:name. The definition is
// removed but the table is left in place; dropping data is a migration
// decision, not an API call.
func (h *SchemaHandler) DeleteEntity(c *fiber.Ctx) error {
	name := c.Params("name")

	pb := h.store.Dialect.NewParamBuilder()
	n, err := store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf("DELETE FROM _entities WHERE name = %s", pb.Add(name)), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete entity %s: %w", name, err)
	}
	if n == 0 {
		return UnknownEntityError(name)
	}

	if err := metadata.Reload(c.Context(), h.store.DB, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return c.SendStatus(204)
}

// UpsertRelation handles PUT /api/_schema/relations/:source/:name
func (h *SchemaHandler) UpsertRelation(c *fiber.Ctx) error {
	source := c.Params("source")
	name := c.Params("name")

	if h.registry.GetEntity(source) == nil {
		return UnknownEntityError(source)
	}

	var rel metadata.Relation
	if err := c.BodyParser(&rel); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid relation definition")
	}
	rel.Name = name
	rel.Source = source
	if appErr := validateRelationDef(&rel, h.registry); appErr != nil {
		return appErr
	}

	def, err := json.Marshal(&rel)
	if err != nil {
		return fmt.Errorf("marshal relation %s.%s: %w", source, name, err)
	}

	pb := h.store.Dialect.NewParamBuilder()
	sql := fmt.Sprintf(
		"INSERT INTO _relations (source, name, target, definition) VALUES (%s, %s, %s, %s) ON CONFLICT (source, name) DO UPDATE SET target = excluded.target, definition = excluded.definition, updated_at = "+h.store.Dialect.NowExpr(),
		pb.Add(source), pb.Add(name), pb.Add(rel.Target), pb.Add(string(def)))
	if _, err := h.store.DB.ExecContext(c.Context(), sql, pb.Params()...); err != nil {
		return fmt.Errorf("save relation %s.%s: %w", source, name, err)
	}

	if err := metadata.Reload(c.Context(), h.store.DB, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return c.JSON(fiber.Map{"data": rel})
}

// DeleteRelation handles DELETE /api/_schema/relations/:source/:name
func (h *SchemaHandler) DeleteRelation(c *fiber.Ctx) error {
	source := c.Params("source")
	name := c.Params("name")

	pb := h.store.Dialect.NewParamBuilder()
	n, err := store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf("DELETE FROM _relations WHERE source = %s AND name = %s", pb.Add(source), pb.Add(name)),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete relation %s.%s: %w", source, name, err)
	}
	if n == 0 {
		return NotFoundError("relation", source+"."+name)
	}

	if err := metadata.Reload(c.Context(), h.store.DB, h.registry); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return c.SendStatus(204)
}

func validateEntityDef(entity *metadata.Entity, types *query.TypeRegistry) *AppError {
	var errs []ErrorDetail
	if entity.Table == "" {
		errs = append(errs, ErrorDetail{Field: "table", Rule: "required", Message: "table is required"})
	}
	if entity.PrimaryKey.Field == "" {
		errs = append(errs, ErrorDetail{Field: "primary_key", Rule: "required", Message: "primary key field is required"})
	}
	for _, f := range entity.Fields {
		if f.Name == "" {
			errs = append(errs, ErrorDetail{Field: "fields", Rule: "required", Message: "field name is required"})
			continue
		}
		if _, err := types.Resolve(f.Type); err != nil {
			errs = append(errs, ErrorDetail{Field: f.Name, Rule: "type", Message: err.Error()})
		}
		if f.Localized && !entity.Localized {
			errs = append(errs, ErrorDetail{Field: f.Name, Rule: "localized", Message: "entity does not declare localization"})
		}
		if len(f.Path) > 0 && !store.SafeJSONPath(f.Path) {
			errs = append(errs, ErrorDetail{Field: f.Name, Rule: "path", Message: "path segments may only contain letters, digits and underscores"})
		}
	}
	if len(errs) > 0 {
		return ValidationError(errs)
	}
	return nil
}

func validateRelationDef(rel *metadata.Relation, reg *metadata.Registry) *AppError {
	var errs []ErrorDetail
	switch rel.Type {
	case metadata.RelationBelongsTo:
		if len(rel.SourceFields) == 0 || len(rel.SourceFields) != len(rel.TargetFields) {
			errs = append(errs, ErrorDetail{Field: "source_fields", Rule: "join", Message: "source and target fields must pair positionally"})
		}
	case metadata.RelationHasMany:
		if rel.Reverse == "" {
			errs = append(errs, ErrorDetail{Field: "reverse", Rule: "required", Message: "reverse relation name is required"})
		}
	case metadata.RelationManyToMany:
		if rel.Through == "" || rel.SourceJoinField == "" || rel.TargetJoinField == "" {
			errs = append(errs, ErrorDetail{Field: "through", Rule: "required", Message: "through table and join fields are required"})
		}
	case metadata.RelationMorphTo:
		if len(rel.TypeMap) == 0 {
			errs = append(errs, ErrorDetail{Field: "type_map", Rule: "required", Message: "type map is required"})
		}
	default:
		errs = append(errs, ErrorDetail{Field: "type", Rule: "enum", Message: fmt.Sprintf("unknown relation type %q", rel.Type)})
	}
	if rel.Type != metadata.RelationMorphTo && rel.Target != "" && reg.GetEntity(rel.Target) == nil {
		errs = append(errs, ErrorDetail{Field: "target", Rule: "exists", Message: fmt.Sprintf("unknown target entity %q", rel.Target)})
	}
	if len(errs) > 0 {
		return ValidationError(errs)
	}
	return nil
}

func relationNames(rels []*metadata.Relation) []string {
	names := make([]string, len(rels))
	for i, r := range rels {
		names[i] = r.Name
	}
	return names
}
