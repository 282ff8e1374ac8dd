package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/questpie/questpie-cms-sub013/internal/metadata"
	"github.com/questpie/questpie-cms-sub013/internal/query"
	"github.com/questpie/questpie-cms-sub013/internal/store"
)

// WritePlan is a validated, column-resolved write. Localized field values are
// split out because they land in the entity's locale table, not the base row.
type WritePlan struct {
	Entity    *metadata.Entity
	ID        string // empty on create with a generated key
	IsCreate  bool
	Values    map[string]any // base-table column -> value
	Localized map[string]any // locale-table column -> value
	ArrayCols map[string]bool
}

// PlanWrite validates the payload against the entity schema and splits it
// into base-table and locale-table values. Unknown keys are rejected: writes
// are strict even when filter parsing is lenient, since silently dropping a
// field on write loses data.
func PlanWrite(entity *metadata.Entity, types *query.TypeRegistry, body map[string]any, id string) (*WritePlan, []ErrorDetail) {
	plan := &WritePlan{
		Entity:    entity,
		ID:        id,
		IsCreate:  id == "",
		Values:    make(map[string]any),
		Localized: make(map[string]any),
		ArrayCols: make(map[string]bool),
	}

	var errs []ErrorDetail
	writable := make(map[string]*metadata.Field, len(entity.Fields))
	for _, f := range entity.WritableFields() {
		field := f
		writable[f.Name] = &field
	}

	for key := range body {
		if _, ok := writable[key]; !ok {
			errs = append(errs, ErrorDetail{Field: key, Rule: "unknown", Message: "unknown field"})
		}
	}

	for name, f := range writable {
		val, present := body[name]
		if !present {
			if plan.IsCreate && f.Required {
				errs = append(errs, ErrorDetail{Field: name, Rule: "required", Message: "field is required"})
			}
			continue
		}
		if val == nil && f.Required {
			errs = append(errs, ErrorDetail{Field: name, Rule: "required", Message: "field is required"})
			continue
		}

		if ft, err := types.Resolve(f.Type); err == nil && ft.Validate != nil {
			if err := ft.Validate(f, val); err != nil {
				errs = append(errs, ErrorDetail{Field: name, Rule: "type", Message: err.Error()})
				continue
			}
		}

		col := f.ColumnName()
		if f.Type == query.KindArray {
			plan.ArrayCols[col] = true
		}
		if f.Localized {
			plan.Localized[col] = val
		} else {
			plan.Values[col] = val
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return plan, nil
}

// ExecuteWritePlan applies the plan inside one transaction: the base-table
// insert or update plus the locale-table upsert for the request locale.
func ExecuteWritePlan(ctx context.Context, s *store.Store, plan *WritePlan, locale string) (map[string]any, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	entity := plan.Entity
	d := s.Dialect

	id := plan.ID
	if plan.IsCreate {
		id, err = executeInsert(ctx, tx, d, plan)
	} else {
		err = executeUpdate(ctx, tx, d, plan)
	}
	if err != nil {
		return nil, err
	}

	if entity.Localized && len(plan.Localized) > 0 {
		if locale == "" {
			return nil, fmt.Errorf("write to localized fields of %s without a locale", entity.Name)
		}
		if err := upsertLocaleRow(ctx, tx, d, entity, id, locale, plan.Localized, plan.ArrayCols); err != nil {
			return nil, err
		}
	}

	pb := d.NewParamBuilder()
	row, err := store.QueryRow(ctx, tx,
		fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", entity.Table, pkColumn(entity), pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("reload %s/%s: %w", entity.Name, id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return row, nil
}

func executeInsert(ctx context.Context, q store.Querier, d store.Dialect, plan *WritePlan) (string, error) {
	entity := plan.Entity
	pb := d.NewParamBuilder()

	cols := make([]string, 0, len(plan.Values)+3)
	vals := make([]string, 0, len(plan.Values)+3)

	id := plan.ID
	if entity.PrimaryKey.Generated && entity.PrimaryKey.Type == "uuid" {
		id = uuid.New().String()
		cols = append(cols, pkColumn(entity))
		vals = append(vals, pb.Add(id))
	}

	for col, val := range plan.Values {
		cols = append(cols, col)
		vals = append(vals, pb.Add(encodeValue(d, col, val, plan.ArrayCols)))
	}
	if entity.Timestamps {
		cols = append(cols, "created_at", "updated_at")
		vals = append(vals, d.NowExpr(), d.NowExpr())
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		entity.Table, strings.Join(cols, ", "), strings.Join(vals, ", "))
	if _, err := q.ExecContext(ctx, sql, pb.Params()...); err != nil {
		return "", writeError(d, entity, err)
	}
	if id == "" {
		// client-supplied primary key
		if v, ok := plan.Values[pkColumn(entity)]; ok {
			id = fmt.Sprint(v)
		}
	}
	return id, nil
}

func executeUpdate(ctx context.Context, q store.Querier, d store.Dialect, plan *WritePlan) error {
	entity := plan.Entity
	if len(plan.Values) == 0 && !entity.Timestamps {
		return nil
	}

	pb := d.NewParamBuilder()
	sets := make([]string, 0, len(plan.Values)+1)
	for col, val := range plan.Values {
		sets = append(sets, fmt.Sprintf("%s = %s", col, pb.Add(encodeValue(d, col, val, plan.ArrayCols))))
	}
	if entity.Timestamps {
		sets = append(sets, "updated_at = "+d.NowExpr())
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		entity.Table, strings.Join(sets, ", "), pkColumn(entity), pb.Add(plan.ID))
	n, err := store.Exec(ctx, q, sql, pb.Params()...)
	if err != nil {
		return writeError(d, entity, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// upsertLocaleRow replaces the locale row wholesale with the merge of its
// current values and the incoming ones. Delete plus insert sidesteps
// dialect-specific upsert differences inside the shared transaction.
func upsertLocaleRow(ctx context.Context, q store.Querier, d store.Dialect, entity *metadata.Entity, id, locale string, values map[string]any, arrayCols map[string]bool) error {
	table := entity.LocaleTable()
	pb := d.NewParamBuilder()

	existing, err := store.QueryRow(ctx, q,
		fmt.Sprintf("SELECT * FROM %s WHERE parent_id = %s AND locale = %s", table, pb.Add(id), pb.Add(locale)),
		pb.Params()...)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load locale row: %w", err)
	}

	merged := make(map[string]any)
	for _, f := range entity.LocalizedFields() {
		col := f.ColumnName()
		if existing != nil {
			if v, ok := existing[col]; ok {
				merged[col] = v
			}
		}
		if v, ok := values[col]; ok {
			merged[col] = v
		}
	}

	pb = d.NewParamBuilder()
	if _, err := q.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE parent_id = %s AND locale = %s", table, pb.Add(id), pb.Add(locale)),
		pb.Params()...); err != nil {
		return fmt.Errorf("replace locale row: %w", err)
	}

	pb = d.NewParamBuilder()
	cols := []string{"parent_id", "locale"}
	vals := []string{pb.Add(id), pb.Add(locale)}
	for col, val := range merged {
		cols = append(cols, col)
		vals = append(vals, pb.Add(encodeValue(d, col, val, arrayCols)))
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(vals, ", "))
	if _, err := q.ExecContext(ctx, sql, pb.Params()...); err != nil {
		return fmt.Errorf("insert locale row: %w", err)
	}
	return nil
}

// ExecuteDelete removes a record, honoring soft delete when the entity
// declares it.
func ExecuteDelete(ctx context.Context, s *store.Store, entity *metadata.Entity, id string) error {
	d := s.Dialect
	pb := d.NewParamBuilder()

	var sql string
	if entity.SoftDelete {
		sql = fmt.Sprintf("UPDATE %s SET deleted_at = %s WHERE %s = %s AND deleted_at IS NULL",
			entity.Table, d.NowExpr(), pkColumn(entity), pb.Add(id))
	} else {
		sql = fmt.Sprintf("DELETE FROM %s WHERE %s = %s", entity.Table, pkColumn(entity), pb.Add(id))
	}

	n, err := store.Exec(ctx, s.DB, sql, pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", entity.Name, id, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func encodeValue(d store.Dialect, col string, val any, arrayCols map[string]bool) any {
	if val == nil || !arrayCols[col] {
		return val
	}
	switch v := val.(type) {
	case []string:
		return d.ArrayParam(v)
	case []any:
		strs := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				strs = append(strs, s)
			}
		}
		return d.ArrayParam(strs)
	}
	return val
}

func writeError(d store.Dialect, entity *metadata.Entity, err error) error {
	mapped := d.MapError(err)
	if errors.Is(mapped, store.ErrUniqueViolation) {
		return ConflictError(fmt.Sprintf("%s violates a unique constraint", entity.Name))
	}
	return err
}
