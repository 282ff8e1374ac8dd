package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
// Array-valued fields are stored as JSON text and queried through json_each.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) Placeholder(index int) string {
	return fmt.Sprintf("?%d", index)
}

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) NowExpr() string { return "datetime('now')" }
func (d *SQLiteDialect) NeedsBoolFix() bool { return true }

func (d *SQLiteDialect) ColumnType(fieldType string, precision int) string {
	switch fieldType {
	case "number":
		return "REAL"
	case "checkbox":
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (d *SQLiteDialect) SystemTablesSQL() string {
	return sqliteSystemTablesSQL
}

func (d *SQLiteDialect) TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?1",
		tableName,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLiteDialect) InExpr(ref string, pb ParamBuilder, values []any) string {
	if len(values) == 0 {
		return "1=0" // always false
	}
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s IN (%s)", ref, strings.Join(phs, ", "))
}

func (d *SQLiteDialect) NotInExpr(ref string, pb ParamBuilder, values []any) string {
	if len(values) == 0 {
		return "1=1" // always true
	}
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s NOT IN (%s)", ref, strings.Join(phs, ", "))
}

func (d *SQLiteDialect) ILikeExpr(ref string, pb ParamBuilder, pattern string) string {
	// SQLite LIKE is case-insensitive for ASCII by default
	return fmt.Sprintf("%s LIKE %s", ref, pb.Add(pattern))
}

func (d *SQLiteDialect) NotILikeExpr(ref string, pb ParamBuilder, pattern string) string {
	return fmt.Sprintf("%s NOT LIKE %s", ref, pb.Add(pattern))
}

func (d *SQLiteDialect) JSONPathExpr(ref string, path []string) string {
	if !SafeJSONPath(path) {
		return ""
	}
	return fmt.Sprintf("json_extract(%s, '$.%s')", ref, strings.Join(path, "."))
}

func (d *SQLiteDialect) ArrayOverlapsExpr(ref string, pb ParamBuilder, values []string) string {
	anyValues := make([]any, len(values))
	for i, v := range values {
		anyValues[i] = v
	}
	inner := d.InExpr("value", pb, anyValues)
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE %s)", ref, inner)
}

func (d *SQLiteDialect) ArrayContainsExpr(ref string, pb ParamBuilder, values []string) string {
	if len(values) == 0 {
		return "1=1" // every array contains the empty set
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE value = %s)", ref, pb.Add(v))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

func (d *SQLiteDialect) ArrayContainedExpr(ref string, pb ParamBuilder, values []string) string {
	anyValues := make([]any, len(values))
	for i, v := range values {
		anyValues[i] = v
	}
	inner := d.NotInExpr("value", pb, anyValues)
	return fmt.Sprintf("NOT EXISTS (SELECT 1 FROM json_each(%s) WHERE %s)", ref, inner)
}

func (d *SQLiteDialect) ArrayParam(values []string) any {
	if values == nil {
		return "[]"
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func (d *SQLiteDialect) ScanArray(src any) ([]string, error) {
	if src == nil {
		return []string{}, nil
	}
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return []string{}, nil
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "[]" {
		return []string{}, nil
	}
	var result []string
	if err := json.Unmarshal([]byte(s), &result); err != nil {
		return []string{}, fmt.Errorf("scan array: %w", err)
	}
	return result, nil
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- SQLite DDL ---

const sqliteSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS _entities (
    name        TEXT PRIMARY KEY,
    table_name  TEXT NOT NULL UNIQUE,
    definition  TEXT NOT NULL,
    created_at  TEXT DEFAULT (datetime('now')),
    updated_at  TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS _relations (
    name        TEXT NOT NULL,
    source      TEXT NOT NULL REFERENCES _entities(name) ON DELETE CASCADE,
    target      TEXT NOT NULL,
    definition  TEXT NOT NULL,
    created_at  TEXT DEFAULT (datetime('now')),
    updated_at  TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (source, name)
);
`

// Compile-time check
var _ Dialect = (*SQLiteDialect)(nil)
