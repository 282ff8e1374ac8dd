// Package query compiles declarative filter trees into SQL predicates.
//
// A Where tree arrives either from a client (parsed and validated at the
// boundary by Parse) or from an access rule (ParseAccessWhere). Compile walks
// the tree and emits a single predicate fragment, dispatching field
// conditions through the injected field-type registry, resolving localized
// field references, and turning relation filters into correlated EXISTS
// subqueries. The compiler is pure: all state lives in Options and the
// ParamBuilder it carries.
package query

import (
	"fmt"
	"strings"

	"github.com/questpie/questpie-cms-sub013/internal/metadata"
	"github.com/questpie/questpie-cms-sub013/internal/store"
)

// Options carries everything a single compile call needs. Copies of it flow
// down the tree; relation recursion derives a child Options via forRelation.
type Options struct {
	Entity   *metadata.Entity
	Registry *metadata.Registry
	Types    *TypeRegistry
	Dialect  store.Dialect
	Params   store.ParamBuilder

	// Table qualifies base-column references: the entity's table name at the
	// top level, a generated alias inside relation subqueries.
	Table string

	// LocaleTable and FallbackTable are the aliases of the joined locale
	// tables, empty when the caller did not join them. Localize gates
	// localized-reference resolution for this compile call.
	LocaleTable   string
	FallbackTable string
	Localize      bool

	// Strict makes unresolvable fields, operators and relations compile
	// errors instead of silently contributing no predicate.
	Strict bool

	Eval *metadata.EvalContext

	depth int
}

// forRelation derives the Options for compiling a nested filter against the
// related entity. Locale fallback is always disabled inside correlated
// subqueries so locale-table aliases cannot collide with the outer query;
// this is the single switch point for that behavior.
func (o Options) forRelation(related *metadata.Entity, table string) Options {
	o.Entity = related
	o.Table = table
	o.Localize = false
	o.LocaleTable = ""
	o.FallbackTable = ""
	o.depth++
	return o
}

// relAlias returns the related-table alias for the current nesting depth.
// Sibling subqueries may share an alias; each EXISTS introduces its own scope.
func (o *Options) relAlias() string {
	return fmt.Sprintf("rel_%d", o.depth)
}

// throughAlias returns the join-table alias for the current nesting depth.
func (o *Options) throughAlias() string {
	return fmt.Sprintf("jt_%d", o.depth)
}

// conjoin combines predicate fragments with AND. Empty input yields no
// predicate; a single fragment passes through; compounds are parenthesized
// so they nest safely.
func conjoin(frags []string) string {
	switch len(frags) {
	case 0:
		return ""
	case 1:
		return frags[0]
	}
	return "(" + strings.Join(frags, " AND ") + ")"
}

// disjoin combines predicate fragments with OR.
func disjoin(frags []string) string {
	switch len(frags) {
	case 0:
		return ""
	case 1:
		return frags[0]
	}
	return "(" + strings.Join(frags, " OR ") + ")"
}

// negate wraps a fragment in NOT. An empty fragment stays empty: the
// negation of "no predicate" contributes nothing.
func negate(frag string) string {
	if frag == "" {
		return ""
	}
	return "NOT (" + frag + ")"
}

// softDeleteGuard returns the implicit not-soft-deleted condition for a
// related table, or "" when the entity doesn't use soft deletes.
func softDeleteGuard(e *metadata.Entity, table string) string {
	if e == nil || !e.SoftDelete {
		return ""
	}
	return table + ".deleted_at IS NULL"
}
