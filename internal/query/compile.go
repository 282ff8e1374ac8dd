package query

import (
	"fmt"

	"github.com/questpie/questpie-cms-sub013/internal/metadata"
)

// Compile turns a filter tree into a single SQL predicate fragment, with
// parameters accumulated on opts.Params. An empty tree (or one whose every
// condition resolved to nothing) compiles to "", meaning no restriction.
//
// In lenient mode conditions that cannot be resolved (unknown field, unknown
// operator, operand of the wrong shape) contribute no predicate, so a stale
// saved filter widens rather than errors. Strict mode turns each of those
// into a compile error.
func Compile(w *Where, opts Options) (string, error) {
	if w.Empty() {
		return "", nil
	}

	frags := make([]string, 0, len(w.Nodes))
	for _, node := range w.Nodes {
		frag, err := compileNode(node, opts)
		if err != nil {
			return "", err
		}
		if frag != "" {
			frags = append(frags, frag)
		}
	}
	return conjoin(frags), nil
}

func compileNode(node Node, opts Options) (string, error) {
	switch n := node.(type) {
	case AndNode:
		frags, err := compileBranches(n.Wheres, opts)
		if err != nil {
			return "", err
		}
		return conjoin(frags), nil

	case OrNode:
		frags, err := compileBranches(n.Wheres, opts)
		if err != nil {
			return "", err
		}
		return disjoin(frags), nil

	case NotNode:
		frag, err := Compile(n.Where, opts)
		if err != nil {
			return "", err
		}
		return negate(frag), nil

	case RawNode:
		if n.Build == nil {
			return "", nil
		}
		return n.Build(opts.Table, opts.Params), nil

	case FieldNode:
		return compileField(n, opts)

	case RelationNode:
		return compileRelation(n, opts)
	}
	return "", fmt.Errorf("unknown filter node %T", node)
}

func compileBranches(wheres []*Where, opts Options) ([]string, error) {
	frags := make([]string, 0, len(wheres))
	for _, w := range wheres {
		frag, err := Compile(w, opts)
		if err != nil {
			return nil, err
		}
		if frag != "" {
			frags = append(frags, frag)
		}
	}
	return frags, nil
}

func compileField(node FieldNode, opts Options) (string, error) {
	field := opts.Entity.GetField(node.Field)
	if field == nil {
		if opts.Strict {
			return "", fmt.Errorf("unknown field %q on %s", node.Field, opts.Entity.Name)
		}
		return "", nil
	}

	ft, err := opts.Types.Resolve(field.Type)
	if err != nil {
		if opts.Strict {
			return "", fmt.Errorf("field %s: %w", field.Name, err)
		}
		return "", nil
	}

	ops := ft.Ops(field)
	if ops == nil {
		if opts.Strict {
			return "", fmt.Errorf("field %s: type %s is not filterable in this storage shape", field.Name, field.Type)
		}
		return "", nil
	}

	ref := FieldReference(field, &opts)
	if ref == "" {
		if opts.Strict {
			return "", fmt.Errorf("field %s: column reference cannot be built", field.Name)
		}
		return "", nil
	}
	frags := make([]string, 0, len(node.Conds))
	for _, cond := range node.Conds {
		fn, known := ops[cond.Op]
		if !known {
			if opts.Strict {
				return "", fmt.Errorf("field %s: operator %q not supported for type %s", field.Name, cond.Op, field.Type)
			}
			continue
		}
		frag, ok := fn(ref, cond.Value, &opts)
		if !ok {
			if opts.Strict {
				return "", fmt.Errorf("field %s: operand for %q has the wrong shape", field.Name, cond.Op)
			}
			continue
		}
		if frag != "" {
			frags = append(frags, frag)
		}
	}
	return conjoin(frags), nil
}

// CompileFor is the common entry point for callers that start from a raw
// JSON filter: parse against the entity, then compile. Parsing honors the
// same strictness as compilation.
func CompileFor(raw map[string]any, entity *metadata.Entity, opts Options) (string, error) {
	w, err := Parse(raw, entity, opts.Registry, opts.Strict)
	if err != nil {
		return "", err
	}
	opts.Entity = entity
	return Compile(w, opts)
}
