package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect abstracts database-specific SQL generation and behavior.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// Placeholder returns the parameter placeholder for the given 1-based index.
	Placeholder(index int) string

	// NewParamBuilder creates a dialect-aware parameter builder.
	NewParamBuilder() ParamBuilder

	// NowExpr returns the SQL expression for the current timestamp.
	NowExpr() string

	// ColumnType maps a field-type tag to the database DDL type.
	ColumnType(fieldType string, precision int) string

	// SystemTablesSQL returns the DDL for the schema system tables.
	SystemTablesSQL() string

	// TableExists checks whether a table exists.
	TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error)

	// InExpr builds a SQL expression for the in operator.
	// PostgreSQL: "ref = ANY($n)" with a single array param.
	// SQLite: "ref IN (?n, ?n+1, ...)" expanding the slice.
	InExpr(ref string, pb ParamBuilder, values []any) string

	// NotInExpr builds a SQL expression for the notIn operator.
	NotInExpr(ref string, pb ParamBuilder, values []any) string

	// ILikeExpr builds a case-insensitive pattern match.
	ILikeExpr(ref string, pb ParamBuilder, pattern string) string

	// NotILikeExpr builds a negated case-insensitive pattern match.
	NotILikeExpr(ref string, pb ParamBuilder, pattern string) string

	// JSONPathExpr builds an expression extracting a text value at the given
	// path inside a JSON document column. Returns "" if the path contains
	// characters that cannot be embedded safely.
	JSONPathExpr(ref string, path []string) string

	// ArrayOverlapsExpr builds "ref has at least one of values".
	ArrayOverlapsExpr(ref string, pb ParamBuilder, values []string) string

	// ArrayContainsExpr builds "ref has all of values".
	ArrayContainsExpr(ref string, pb ParamBuilder, values []string) string

	// ArrayContainedExpr builds "every element of ref is in values".
	ArrayContainedExpr(ref string, pb ParamBuilder, values []string) string

	// ArrayParam encodes a string slice for storage.
	// PostgreSQL: returns the slice as-is (pgx handles TEXT[]).
	// SQLite: JSON-encodes to string.
	ArrayParam(values []string) any

	// ScanArray decodes a TEXT[] (PostgreSQL) or JSON string (SQLite) into []string.
	ScanArray(src any) ([]string, error)

	// MapError inspects a driver error and returns a well-known sentinel error if applicable.
	MapError(err error) error

	// NeedsBoolFix returns true if boolean columns come back as integers (SQLite).
	NeedsBoolFix() bool
}

// ParamBuilder accumulates query parameters and generates dialect-specific placeholders.
type ParamBuilder interface {
	// Add appends a value and returns the placeholder string.
	Add(v any) string

	// Params returns all accumulated parameter values.
	Params() []any

	// Count returns the number of parameters added so far.
	Count() int
}

// NewDialect creates a Dialect for the given driver name ("postgres" or "sqlite").
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	default:
		return &PostgresDialect{}
	}
}

// --- PostgreSQL ParamBuilder ---

type pgParamBuilder struct {
	params []any
	n      int
}

func (p *pgParamBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", p.n)
}

func (p *pgParamBuilder) Params() []any { return p.params }
func (p *pgParamBuilder) Count() int    { return p.n }

// --- SQLite ParamBuilder ---

type sqliteParamBuilder struct {
	params []any
	n      int
}

func (p *sqliteParamBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("?%d", p.n)
}

func (p *sqliteParamBuilder) Params() []any { return p.params }
func (p *sqliteParamBuilder) Count() int    { return p.n }

// SafeJSONPath reports whether every path segment can be embedded in a SQL
// literal without escaping. JSONPathExpr refuses paths this rejects, so
// schema validation should reject them up front.
func SafeJSONPath(path []string) bool {
	if len(path) == 0 {
		return false
	}
	for _, seg := range path {
		if seg == "" {
			return false
		}
		for _, c := range seg {
			if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
				return false
			}
		}
	}
	return true
}
