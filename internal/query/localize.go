package query

import (
	"fmt"

	"github.com/questpie/questpie-cms-sub013/internal/metadata"
)

// FieldReference resolves the SQL expression that reads a field's value for
// the current compile. Non-localized fields (or compiles with localization
// off) read the base table column. Localized fields read the joined locale
// table; when a fallback table is also joined the reference becomes a
// COALESCE over both so rows missing a translation fall back instead of
// filtering out.
//
// Embedded fields wrap the chosen column in the dialect's JSON path
// extraction so operators compare the extracted value. When the dialect
// refuses the path the reference is "", and callers must treat the field as
// unresolvable rather than render an operator around nothing.
func FieldReference(f *metadata.Field, opts *Options) string {
	col := f.ColumnName()

	var base string
	switch {
	case !opts.Localize || !f.Localized || opts.LocaleTable == "":
		base = opts.Table + "." + col
	case opts.FallbackTable != "":
		base = fmt.Sprintf("COALESCE(%s.%s, %s.%s)",
			opts.LocaleTable, col, opts.FallbackTable, col)
	default:
		base = opts.LocaleTable + "." + col
	}

	if f.Embedded() {
		return opts.Dialect.JSONPathExpr(base, f.Path)
	}
	return base
}
