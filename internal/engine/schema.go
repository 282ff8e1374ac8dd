package engine

import (
	"fmt"
	"strings"

	"github.com/questpie/questpie-cms-sub013/internal/metadata"
	"github.com/questpie/questpie-cms-sub013/internal/query"
	"github.com/questpie/questpie-cms-sub013/internal/store"
)

// BuildCreateTableSQL synthesizes the base-table DDL for an entity. Field
// column types come from the field-type registry through the dialect, so the
// same definition provisions correctly on either database.
func BuildCreateTableSQL(d store.Dialect, types *query.TypeRegistry, entity *metadata.Entity) string {
	var cols []string
	seen := make(map[string]bool)

	pk := pkColumn(entity)
	cols = append(cols, fmt.Sprintf("%s %s PRIMARY KEY", pk, d.ColumnType(entity.PrimaryKey.Type, 0)))
	seen[pk] = true

	for i := range entity.Fields {
		f := &entity.Fields[i]
		if f.Localized {
			continue
		}
		col := f.ColumnName()
		if seen[col] {
			// embedded fields share one document column
			continue
		}
		seen[col] = true

		sqlType := d.ColumnType(f.Type, f.Precision)
		if f.Embedded() {
			sqlType = d.ColumnType(query.KindJSON, 0)
		} else if ft, err := types.Resolve(f.Type); err == nil {
			sqlType = ft.SQLType(d, f)
		}

		def := col + " " + sqlType
		if f.Required && !f.Nullable {
			def += " NOT NULL"
		}
		if f.Unique {
			def += " UNIQUE"
		}
		cols = append(cols, def)
	}

	if entity.Timestamps {
		ts := d.ColumnType(query.KindDate, 0)
		cols = append(cols, "created_at "+ts, "updated_at "+ts)
	}
	if entity.SoftDelete {
		cols = append(cols, "deleted_at "+d.ColumnType(query.KindDate, 0))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", entity.Table, strings.Join(cols, ",\n  "))
}

// BuildLocaleTableSQL synthesizes the companion locale table holding the
// entity's localized field values, one row per (parent, locale).
func BuildLocaleTableSQL(d store.Dialect, types *query.TypeRegistry, entity *metadata.Entity) string {
	if !entity.Localized {
		return ""
	}

	cols := []string{
		fmt.Sprintf("parent_id %s NOT NULL", d.ColumnType(entity.PrimaryKey.Type, 0)),
		fmt.Sprintf("locale %s NOT NULL", d.ColumnType(query.KindText, 0)),
	}
	seen := make(map[string]bool)
	for _, f := range entity.LocalizedFields() {
		col := f.ColumnName()
		if seen[col] {
			continue
		}
		seen[col] = true

		sqlType := d.ColumnType(f.Type, f.Precision)
		if f.Embedded() {
			sqlType = d.ColumnType(query.KindJSON, 0)
		} else if ft, err := types.Resolve(f.Type); err == nil {
			field := f
			sqlType = ft.SQLType(d, &field)
		}
		cols = append(cols, col+" "+sqlType)
	}
	cols = append(cols, "PRIMARY KEY (parent_id, locale)")

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", entity.LocaleTable(), strings.Join(cols, ",\n  "))
}
