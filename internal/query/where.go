package query

import (
	"fmt"
	"sort"

	"github.com/questpie/questpie-cms-sub013/internal/metadata"
	"github.com/questpie/questpie-cms-sub013/internal/store"
)

// Where is the parsed filter tree. A Where holds an ordered list of nodes
// that combine by conjunction, mirroring the JSON object whose keys all must
// match. It is request-scoped: built by Parse (or an access rule), consumed
// by one Compile call, then discarded.
type Where struct {
	Nodes []Node
}

// Empty reports whether the tree contributes no conditions at all.
func (w *Where) Empty() bool {
	return w == nil || len(w.Nodes) == 0
}

// Node is one branch of the filter tree.
type Node interface{ node() }

// AndNode combines sub-trees by conjunction.
type AndNode struct{ Wheres []*Where }

// OrNode combines sub-trees by disjunction.
type OrNode struct{ Wheres []*Where }

// NotNode negates a sub-tree.
type NotNode struct{ Where *Where }

// RawNode is the trusted-caller escape hatch: a function handed the table
// reference and parameter builder, returning a predicate directly. Raw nodes
// are never produced by Parse; they exist only for programmatic callers.
type RawNode struct {
	Build func(table string, pb store.ParamBuilder) string
}

// FieldNode holds the conditions applied to a single field.
type FieldNode struct {
	Field string
	Conds []FieldCond
}

// FieldCond is one operator application. Op names the operator in the
// field type's table; Value is the operand.
type FieldCond struct {
	Op    string
	Value any
}

// RelationNode holds the quantified filters applied to a relation.
type RelationNode struct {
	Relation string
	Quants   []Quant
}

// Quantifier kinds. QuantExists/QuantNotExists come from boolean filter
// values (`true`/`false`); the rest from explicit quantifier keys or the
// legacy bare-Where shorthand.
const (
	QuantIs        = "is"
	QuantIsNot     = "isNot"
	QuantSome      = "some"
	QuantNone      = "none"
	QuantEvery     = "every"
	QuantExists    = "exists"
	QuantNotExists = "notExists"
)

// Quant is one quantified nested filter. For morph_to relations the nested
// filter cannot be parsed until a concrete target entity is chosen, so it is
// kept raw (Raw, optionally restricted by TypeKey from a relationTo key) and
// parsed per discriminator branch at compile time.
type Quant struct {
	Kind    string
	Where   *Where
	Raw     map[string]any
	TypeKey string
}

func (AndNode) node()      {}
func (OrNode) node()       {}
func (NotNode) node()      {}
func (RawNode) node()      {}
func (FieldNode) node()    {}
func (RelationNode) node() {}

// --- programmatic constructors (used by the access merger and tests) ---

// FieldEq builds a single-field shorthand-equality filter.
func FieldEq(field string, v any) *Where {
	return &Where{Nodes: []Node{
		FieldNode{Field: field, Conds: []FieldCond{{Op: "eq", Value: v}}},
	}}
}

// All combines filter trees by conjunction, dropping empties.
func All(wheres ...*Where) *Where {
	var kept []*Where
	for _, w := range wheres {
		if !w.Empty() {
			kept = append(kept, w)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &Where{Nodes: []Node{AndNode{Wheres: kept}}}
}

// --- boundary parser ---

var quantifierKeys = []string{QuantIs, QuantIsNot, QuantSome, QuantNone, QuantEvery}

// Parse validates a raw JSON filter object against the entity schema and
// builds the typed tree. Structural malformations (AND without an array, NOT
// without an object) are always errors; unknown field/relation names are
// errors only in strict mode and are dropped otherwise, preserving saved
// filters that reference since-removed fields.
func Parse(raw map[string]any, entity *metadata.Entity, reg *metadata.Registry, strict bool) (*Where, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	w := &Where{}
	for _, key := range sortedKeys(raw) {
		value := raw[key]
		switch key {
		case "AND", "OR":
			items, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("%s expects an array of filters", key)
			}
			var wheres []*Where
			for i, item := range items {
				obj, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%s[%d] is not a filter object", key, i)
				}
				sub, err := Parse(obj, entity, reg, strict)
				if err != nil {
					return nil, err
				}
				if !sub.Empty() {
					wheres = append(wheres, sub)
				}
			}
			if len(wheres) == 0 {
				continue
			}
			if key == "AND" {
				w.Nodes = append(w.Nodes, AndNode{Wheres: wheres})
			} else {
				w.Nodes = append(w.Nodes, OrNode{Wheres: wheres})
			}

		case "NOT":
			obj, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("NOT expects a filter object")
			}
			sub, err := Parse(obj, entity, reg, strict)
			if err != nil {
				return nil, err
			}
			if !sub.Empty() {
				w.Nodes = append(w.Nodes, NotNode{Where: sub})
			}

		default:
			var rel *metadata.Relation
			if reg != nil {
				rel = reg.RelationFor(entity.Name, key)
			}
			if rel != nil {
				node, err := parseRelationValue(rel, value, reg, strict)
				if err != nil {
					return nil, err
				}
				if node != nil {
					w.Nodes = append(w.Nodes, *node)
				}
				continue
			}

			if field := entity.GetField(key); field != nil {
				node, err := parseFieldValue(field, value)
				if err != nil {
					return nil, err
				}
				if node != nil {
					w.Nodes = append(w.Nodes, *node)
				}
				continue
			}

			if strict {
				return nil, fmt.Errorf("unknown filter key %q on %s", key, entity.Name)
			}
			// lenient: the key is ignored, widening the result set
		}
	}
	return w, nil
}

func parseFieldValue(field *metadata.Field, value any) (*FieldNode, error) {
	node := &FieldNode{Field: field.Name}

	obj, isObject := value.(map[string]any)
	if !isObject {
		// scalar shorthand equality; null compiles to IS NULL
		node.Conds = append(node.Conds, FieldCond{Op: "eq", Value: value})
		return node, nil
	}

	for _, op := range sortedKeys(obj) {
		node.Conds = append(node.Conds, FieldCond{Op: op, Value: obj[op]})
	}
	if len(node.Conds) == 0 {
		return nil, nil
	}
	return node, nil
}

func parseRelationValue(rel *metadata.Relation, value any, reg *metadata.Registry, strict bool) (*RelationNode, error) {
	node := &RelationNode{Relation: rel.Name}

	switch v := value.(type) {
	case bool:
		if v {
			node.Quants = append(node.Quants, Quant{Kind: QuantExists})
		} else {
			node.Quants = append(node.Quants, Quant{Kind: QuantNotExists})
		}
		return node, nil

	case map[string]any:
		if !hasQuantifierKey(v) {
			// legacy bare-Where shorthand: is for to-one, some for to-many
			kind := QuantSome
			if rel.ToOne() {
				kind = QuantIs
			}
			q, err := parseQuant(rel, kind, v, reg, strict)
			if err != nil {
				return nil, err
			}
			if q != nil {
				node.Quants = append(node.Quants, *q)
			}
		} else {
			for _, kind := range quantifierKeys {
				nested, present := v[kind]
				if !present {
					continue
				}
				obj, ok := nested.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("relation %s: %s expects a filter object", rel.Name, kind)
				}
				q, err := parseQuant(rel, kind, obj, reg, strict)
				if err != nil {
					return nil, err
				}
				if q != nil {
					node.Quants = append(node.Quants, *q)
				}
			}
		}
		if len(node.Quants) == 0 {
			return nil, nil
		}
		return node, nil
	}

	if strict {
		return nil, fmt.Errorf("relation %s: filter must be a boolean or object", rel.Name)
	}
	return nil, nil
}

func parseQuant(rel *metadata.Relation, kind string, nested map[string]any, reg *metadata.Registry, strict bool) (*Quant, error) {
	toOneKind := kind == QuantIs || kind == QuantIsNot
	if toOneKind != rel.ToOne() {
		if strict {
			return nil, fmt.Errorf("relation %s: quantifier %s does not apply to %s relations", rel.Name, kind, rel.Type)
		}
		return nil, nil
	}

	if rel.IsMorphTo() {
		q := Quant{Kind: kind, Raw: nested}
		if tk, ok := nested["relationTo"].(string); ok {
			q.TypeKey = tk
			rest := make(map[string]any, len(nested)-1)
			for k, v := range nested {
				if k != "relationTo" {
					rest[k] = v
				}
			}
			q.Raw = rest
		}
		return &q, nil
	}

	target := reg.GetEntity(rel.Target)
	if target == nil {
		if strict {
			return nil, fmt.Errorf("relation %s: unknown target entity %q", rel.Name, rel.Target)
		}
		return nil, nil
	}
	sub, err := Parse(nested, target, reg, strict)
	if err != nil {
		return nil, err
	}
	return &Quant{Kind: kind, Where: sub}, nil
}

func hasQuantifierKey(obj map[string]any) bool {
	for _, k := range quantifierKeys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

// ParseAccessWhere validates the restricted filter an access rule may
// return: field equality plus AND/OR/NOT composition. Relations, raw
// predicates and non-equality operators are rejected loudly. Access rules
// are trusted code, so a malformed result is a bug, not bad user input.
func ParseAccessWhere(raw map[string]any, entity *metadata.Entity, reg *metadata.Registry) (*Where, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	w := &Where{}
	for _, key := range sortedKeys(raw) {
		value := raw[key]
		switch key {
		case "AND", "OR":
			items, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("access filter: %s expects an array", key)
			}
			var wheres []*Where
			for i, item := range items {
				obj, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("access filter: %s[%d] is not an object", key, i)
				}
				sub, err := ParseAccessWhere(obj, entity, reg)
				if err != nil {
					return nil, err
				}
				if !sub.Empty() {
					wheres = append(wheres, sub)
				}
			}
			if len(wheres) == 0 {
				continue
			}
			if key == "AND" {
				w.Nodes = append(w.Nodes, AndNode{Wheres: wheres})
			} else {
				w.Nodes = append(w.Nodes, OrNode{Wheres: wheres})
			}

		case "NOT":
			obj, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("access filter: NOT expects an object")
			}
			sub, err := ParseAccessWhere(obj, entity, reg)
			if err != nil {
				return nil, err
			}
			if !sub.Empty() {
				w.Nodes = append(w.Nodes, NotNode{Where: sub})
			}

		default:
			if reg != nil && reg.RelationFor(entity.Name, key) != nil {
				return nil, fmt.Errorf("access filter: relation filters are not allowed (key %q)", key)
			}
			field := entity.GetField(key)
			if field == nil {
				return nil, fmt.Errorf("access filter: unknown field %q on %s", key, entity.Name)
			}
			if obj, isObject := value.(map[string]any); isObject {
				for op := range obj {
					if op != "eq" {
						return nil, fmt.Errorf("access filter: operator %q not allowed on %q", op, key)
					}
				}
				value = obj["eq"]
			}
			w.Nodes = append(w.Nodes, FieldNode{
				Field: field.Name,
				Conds: []FieldCond{{Op: "eq", Value: value}},
			})
		}
	}
	return w, nil
}

// sortedKeys makes tree construction (and therefore parameter order)
// deterministic regardless of Go's map iteration order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
