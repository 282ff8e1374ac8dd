package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/questpie/questpie-cms-sub013/internal/config"
	"github.com/questpie/questpie-cms-sub013/internal/metadata"
	"github.com/questpie/questpie-cms-sub013/internal/query"
	"github.com/questpie/questpie-cms-sub013/internal/store"
)

// Locale-table join aliases. The compiler only sees these through Options;
// the joins themselves are planned here.
const (
	localeAlias   = "loc"
	fallbackAlias = "fb"
)

type QueryPlan struct {
	Entity  *metadata.Entity
	Where   *query.Where
	Sorts   []OrderClause
	Page    int
	PerPage int

	Locale   string
	Fallback string
	Localize bool
}

type OrderClause struct {
	Field string
	Dir   string // ASC or DESC
}

type QueryResult struct {
	SQL    string
	Params []any
}

// ParseQueryParams parses Fiber query parameters into a QueryPlan. The
// filter arrives as a JSON document in the "where" parameter and is parsed
// against the entity schema before any SQL is built.
func ParseQueryParams(c *fiber.Ctx, entity *metadata.Entity, reg *metadata.Registry, strict bool, loc config.LocaleConfig) (*QueryPlan, error) {
	plan := &QueryPlan{
		Entity:  entity,
		Page:    1,
		PerPage: 25,
	}

	if raw := c.Query("where"); raw != "" {
		var filter map[string]any
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			return nil, InvalidFilterError("where must be a JSON object")
		}
		w, err := query.Parse(filter, entity, reg, strict)
		if err != nil {
			return nil, InvalidFilterError(err.Error())
		}
		plan.Where = w
	}

	// Parse sort: sort=-created_at,name
	if sortParam := c.Query("sort"); sortParam != "" {
		for _, part := range strings.Split(sortParam, ",") {
			part = strings.TrimSpace(part)
			dir := "ASC"
			field := part
			if strings.HasPrefix(part, "-") {
				dir = "DESC"
				field = part[1:]
			}
			if !entity.HasField(field) {
				return nil, &AppError{
					Code:    "UNKNOWN_FIELD",
					Status:  400,
					Message: fmt.Sprintf("Unknown sort field: %s", field),
				}
			}
			plan.Sorts = append(plan.Sorts, OrderClause{Field: field, Dir: dir})
		}
	}

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			plan.Page = v
		}
	}
	if pp := c.Query("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 {
			plan.PerPage = v
			if plan.PerPage > 100 {
				plan.PerPage = 100
			}
		}
	}

	plan.Locale = c.Query("locale", loc.Default)
	if loc.FallbackEnabled && loc.Fallback != "" && loc.Fallback != plan.Locale {
		plan.Fallback = loc.Fallback
	}
	plan.Localize = entity.Localized && plan.Locale != ""

	return plan, nil
}

// pkColumn resolves the primary key's storage column.
func pkColumn(entity *metadata.Entity) string {
	if f := entity.GetField(entity.PrimaryKey.Field); f != nil {
		return f.ColumnName()
	}
	return entity.PrimaryKey.Field
}

// planOptions builds the compile options for a plan, adding the locale-table
// join params first so placeholder numbering matches the final SQL.
func planOptions(plan *QueryPlan, d store.Dialect, types *query.TypeRegistry, reg *metadata.Registry, strict bool) (query.Options, string) {
	pb := d.NewParamBuilder()
	opts := query.Options{
		Entity:   plan.Entity,
		Registry: reg,
		Types:    types,
		Dialect:  d,
		Params:   pb,
		Table:    plan.Entity.Table,
		Strict:   strict,
	}

	var joins strings.Builder
	if plan.Localize {
		lt := plan.Entity.LocaleTable()
		pk := pkColumn(plan.Entity)
		fmt.Fprintf(&joins, " LEFT JOIN %s AS %s ON %s.parent_id = %s.%s AND %s.locale = %s",
			lt, localeAlias, localeAlias, plan.Entity.Table, pk, localeAlias, pb.Add(plan.Locale))
		opts.Localize = true
		opts.LocaleTable = localeAlias

		if plan.Fallback != "" {
			fmt.Fprintf(&joins, " LEFT JOIN %s AS %s ON %s.parent_id = %s.%s AND %s.locale = %s",
				lt, fallbackAlias, fallbackAlias, plan.Entity.Table, pk, fallbackAlias, pb.Add(plan.Fallback))
			opts.FallbackTable = fallbackAlias
		}
	}

	return opts, joins.String()
}

// BuildSelectSQL builds a parameterized SELECT from the plan. Every field is
// selected through its resolved reference, so localized fields come back
// already coalesced to the requested locale.
func BuildSelectSQL(plan *QueryPlan, d store.Dialect, types *query.TypeRegistry, reg *metadata.Registry, strict bool) (QueryResult, error) {
	entity := plan.Entity
	opts, joins := planOptions(plan, d, types, reg, strict)

	cols := make([]string, 0, len(entity.Fields)+1)
	for i := range entity.Fields {
		f := &entity.Fields[i]
		ref := query.FieldReference(f, &opts)
		if ref == "" {
			continue
		}
		cols = append(cols, ref+" AS "+f.Name)
	}
	if entity.SoftDelete && entity.GetField("deleted_at") == nil {
		cols = append(cols, entity.Table+".deleted_at AS deleted_at")
	}

	where, err := buildWhere(plan, opts)
	if err != nil {
		return QueryResult{}, err
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(cols, ", "), entity.Table, joins)
	if where != "" {
		sql += " WHERE " + where
	}

	if len(plan.Sorts) > 0 {
		orderParts := make([]string, 0, len(plan.Sorts))
		for _, s := range plan.Sorts {
			f := entity.GetField(s.Field)
			if f == nil {
				continue
			}
			ref := query.FieldReference(f, &opts)
			if ref == "" {
				continue
			}
			orderParts = append(orderParts, ref+" "+s.Dir)
		}
		if len(orderParts) > 0 {
			sql += " ORDER BY " + strings.Join(orderParts, ", ")
		}
	}

	limit := opts.Params.Add(plan.PerPage)
	offset := opts.Params.Add((plan.Page - 1) * plan.PerPage)
	sql += fmt.Sprintf(" LIMIT %s OFFSET %s", limit, offset)

	return QueryResult{SQL: sql, Params: opts.Params.Params()}, nil
}

// BuildCountSQL builds a COUNT query with the same filter as the select.
func BuildCountSQL(plan *QueryPlan, d store.Dialect, types *query.TypeRegistry, reg *metadata.Registry, strict bool) (QueryResult, error) {
	opts, joins := planOptions(plan, d, types, reg, strict)

	where, err := buildWhere(plan, opts)
	if err != nil {
		return QueryResult{}, err
	}

	sql := fmt.Sprintf("SELECT COUNT(*) AS count FROM %s%s", plan.Entity.Table, joins)
	if where != "" {
		sql += " WHERE " + where
	}
	return QueryResult{SQL: sql, Params: opts.Params.Params()}, nil
}

func buildWhere(plan *QueryPlan, opts query.Options) (string, error) {
	var parts []string
	if plan.Entity.SoftDelete {
		parts = append(parts, plan.Entity.Table+".deleted_at IS NULL")
	}

	pred, err := query.Compile(plan.Where, opts)
	if err != nil {
		return "", InvalidFilterError(err.Error())
	}
	if pred != "" {
		parts = append(parts, pred)
	}
	return strings.Join(parts, " AND "), nil
}

// FetchByID loads a single raw record by primary key, conjoining the access
// restriction into the lookup so a row outside the caller's visibility reads
// as absent rather than forbidden.
func FetchByID(ctx context.Context, q store.Querier, d store.Dialect, types *query.TypeRegistry, reg *metadata.Registry, entity *metadata.Entity, id string, accessWhere *query.Where, strict bool) (map[string]any, error) {
	pb := d.NewParamBuilder()
	opts := query.Options{
		Entity:   entity,
		Registry: reg,
		Types:    types,
		Dialect:  d,
		Params:   pb,
		Table:    entity.Table,
		Strict:   strict,
	}

	parts := []string{fmt.Sprintf("%s.%s = %s", entity.Table, pkColumn(entity), pb.Add(id))}
	if entity.SoftDelete {
		parts = append(parts, entity.Table+".deleted_at IS NULL")
	}
	if !accessWhere.Empty() {
		pred, err := query.Compile(accessWhere, opts)
		if err != nil {
			return nil, err
		}
		if pred != "" {
			parts = append(parts, pred)
		}
	}

	sql := fmt.Sprintf("SELECT %s.* FROM %s WHERE %s LIMIT 1",
		entity.Table, entity.Table, strings.Join(parts, " AND "))
	return store.QueryRow(ctx, q, sql, pb.Params()...)
}
