package query

import (
	"fmt"
	"sort"

	"github.com/questpie/questpie-cms-sub013/internal/metadata"
)

// compileRelation turns the quantified filters on one relation into
// correlated existence predicates. A quantifier whose join keys cannot be
// resolved contributes nothing in lenient mode: a broken relation declaration
// widens the result set instead of failing every query that touches it.
func compileRelation(node RelationNode, opts Options) (string, error) {
	rel := opts.Registry.RelationFor(opts.Entity.Name, node.Relation)
	if rel == nil {
		if opts.Strict {
			return "", fmt.Errorf("unknown relation %q on %s", node.Relation, opts.Entity.Name)
		}
		return "", nil
	}

	frags := make([]string, 0, len(node.Quants))
	for _, q := range node.Quants {
		var frag string
		var err error
		if rel.IsMorphTo() {
			frag, err = compileMorphQuant(rel, q, opts)
		} else {
			frag, err = compileQuant(rel, q, opts)
		}
		if err != nil {
			return "", err
		}
		if frag != "" {
			frags = append(frags, frag)
		}
	}
	return conjoin(frags), nil
}

func compileQuant(rel *metadata.Relation, q Quant, opts Options) (string, error) {
	target := opts.Registry.GetEntity(rel.Target)
	if target == nil {
		if opts.Strict {
			return "", fmt.Errorf("relation %s: unknown target entity %q", rel.Name, rel.Target)
		}
		return "", nil
	}

	child := opts.forRelation(target, "")
	alias := child.relAlias()
	child.Table = alias

	// The join and soft-delete guards form the subquery's base condition;
	// the nested filter (or its negation, for every) is ANDed on top.
	var from string
	base := make([]string, 0, 4)

	switch rel.Type {
	case metadata.RelationBelongsTo:
		conds, ok := belongsToJoin(rel, opts.Entity, target, opts.Table, alias)
		if !ok {
			if opts.Strict {
				return "", fmt.Errorf("relation %s: join keys cannot be resolved", rel.Name)
			}
			return "", nil
		}
		from = target.Table + " AS " + alias
		base = append(base, conds...)

	case metadata.RelationHasMany:
		reverse := opts.Registry.RelationFor(rel.Target, rel.Reverse)
		if reverse == nil || !reverse.IsBelongsTo() {
			if opts.Strict {
				return "", fmt.Errorf("relation %s: reverse relation %q is missing or not %s", rel.Name, rel.Reverse, metadata.RelationBelongsTo)
			}
			return "", nil
		}
		// The reverse belongs_to points from the related table back at the
		// parent, so its source fields are FK columns on the related table
		// and its target fields live on the parent.
		conds, ok := belongsToJoin(reverse, target, opts.Entity, alias, opts.Table)
		if !ok {
			if opts.Strict {
				return "", fmt.Errorf("relation %s: reverse relation %q has unresolvable join keys", rel.Name, rel.Reverse)
			}
			return "", nil
		}
		from = target.Table + " AS " + alias
		base = append(base, conds...)

	case metadata.RelationManyToMany:
		jt := child.throughAlias()
		sourceKey, okS := columnOf(opts.Entity, rel.SourceKey)
		targetKey, okT := columnOf(target, rel.TargetKey)
		if !okS || !okT || rel.Through == "" || rel.SourceJoinField == "" || rel.TargetJoinField == "" {
			if opts.Strict {
				return "", fmt.Errorf("relation %s: join table configuration cannot be resolved", rel.Name)
			}
			return "", nil
		}
		throughTable := rel.Through
		if te := opts.Registry.GetEntity(rel.Through); te != nil {
			throughTable = te.Table
			if g := softDeleteGuard(te, jt); g != "" {
				base = append(base, g)
			}
		}
		from = fmt.Sprintf("%s AS %s INNER JOIN %s AS %s ON %s.%s = %s.%s",
			throughTable, jt, target.Table, alias,
			jt, rel.TargetJoinField, alias, targetKey)
		base = append(base, fmt.Sprintf("%s.%s = %s.%s", jt, rel.SourceJoinField, opts.Table, sourceKey))

	default:
		if opts.Strict {
			return "", fmt.Errorf("relation %s: unsupported topology %q", rel.Name, rel.Type)
		}
		return "", nil
	}

	if g := softDeleteGuard(target, alias); g != "" {
		base = append(base, g)
	}

	nested, err := Compile(q.Where, child)
	if err != nil {
		return "", err
	}
	return quantify(q.Kind, from, base, nested), nil
}

// quantify assembles the existence predicate for one quantifier kind.
func quantify(kind, from string, base []string, nested string) string {
	switch kind {
	case QuantExists:
		return existsSQL(from, base)
	case QuantNotExists:
		return "NOT " + existsSQL(from, base)
	case QuantIs, QuantSome:
		return existsSQL(from, appendFrag(base, nested))
	case QuantIsNot, QuantNone:
		return "NOT " + existsSQL(from, appendFrag(base, nested))
	case QuantEvery:
		// No counter-example exists. A nested filter that compiled to
		// nothing restricts nothing, so every row passes vacuously.
		if nested == "" {
			return ""
		}
		return "NOT " + existsSQL(from, appendFrag(base, negate(nested)))
	}
	return ""
}

func existsSQL(from string, conds []string) string {
	where := conjoin(conds)
	if where == "" {
		where = "1=1"
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s)", from, where)
}

func appendFrag(conds []string, frag string) []string {
	if frag == "" {
		return conds
	}
	out := make([]string, len(conds), len(conds)+1)
	copy(out, conds)
	return append(out, frag)
}

// belongsToJoin builds the positional equi-join conditions of a belongs_to
// relation: source fields on sourceTable against target fields on
// targetTable. Returns ok=false when the key lists are empty, mismatched, or
// name fields the entities don't have.
func belongsToJoin(rel *metadata.Relation, source, target *metadata.Entity, sourceTable, targetTable string) ([]string, bool) {
	if len(rel.SourceFields) == 0 || len(rel.SourceFields) != len(rel.TargetFields) {
		return nil, false
	}
	conds := make([]string, len(rel.SourceFields))
	for i, sf := range rel.SourceFields {
		sourceCol, okS := columnOf(source, sf)
		targetCol, okT := columnOf(target, rel.TargetFields[i])
		if !okS || !okT {
			return nil, false
		}
		conds[i] = fmt.Sprintf("%s.%s = %s.%s", targetTable, targetCol, sourceTable, sourceCol)
	}
	return conds, true
}

// compileMorphQuant handles the polymorphic topology: the parent row carries
// a discriminator and an id column, and the nested filter was kept raw at
// parse time because its shape depends on which target it is checked against.
// Without a relationTo restriction the predicate is a disjunction over every
// mapped target, in discriminator order for deterministic parameter layout.
func compileMorphQuant(rel *metadata.Relation, q Quant, opts Options) (string, error) {
	idRef := opts.Table + "." + rel.MorphIDColumn()
	typeRef := opts.Table + "." + rel.MorphTypeColumn()

	switch q.Kind {
	case QuantExists:
		return idRef + " IS NOT NULL", nil
	case QuantNotExists:
		return idRef + " IS NULL", nil
	}

	var keys []string
	if q.TypeKey != "" {
		if _, ok := rel.TypeMap[q.TypeKey]; !ok {
			if opts.Strict {
				return "", fmt.Errorf("relation %s: unknown discriminator %q", rel.Name, q.TypeKey)
			}
			return "", nil
		}
		keys = []string{q.TypeKey}
	} else {
		for k := range rel.TypeMap {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}

	branches := make([]string, 0, len(keys))
	for _, key := range keys {
		target := opts.Registry.GetEntity(rel.TypeMap[key])
		if target == nil {
			if opts.Strict {
				return "", fmt.Errorf("relation %s: discriminator %q maps to unknown entity %q", rel.Name, key, rel.TypeMap[key])
			}
			continue
		}
		pkCol, ok := columnOf(target, target.PrimaryKey.Field)
		if !ok {
			if opts.Strict {
				return "", fmt.Errorf("relation %s: target %s has no primary key field", rel.Name, target.Name)
			}
			continue
		}

		sub, err := Parse(q.Raw, target, opts.Registry, opts.Strict)
		if err != nil {
			return "", err
		}

		child := opts.forRelation(target, "")
		alias := child.relAlias()
		child.Table = alias

		base := []string{
			fmt.Sprintf("%s.%s = %s", alias, pkCol, idRef),
			fmt.Sprintf("%s = %s", typeRef, opts.Params.Add(key)),
		}
		if g := softDeleteGuard(target, alias); g != "" {
			base = append(base, g)
		}

		nested, err := Compile(sub, child)
		if err != nil {
			return "", err
		}
		branches = append(branches, existsSQL(target.Table+" AS "+alias, appendFrag(base, nested)))
	}

	frag := disjoin(branches)
	if q.Kind == QuantIsNot {
		return negate(frag), nil
	}
	return frag, nil
}

// columnOf resolves a field name on an entity to its storage column.
func columnOf(e *metadata.Entity, fieldName string) (string, bool) {
	if fieldName == "" {
		return "", false
	}
	f := e.GetField(fieldName)
	if f == nil {
		return "", false
	}
	return f.ColumnName(), true
}
