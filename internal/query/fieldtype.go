package query

import (
	"fmt"
	"time"

	"github.com/questpie/questpie-cms-sub013/internal/metadata"
	"github.com/questpie/questpie-cms-sub013/internal/store"
)

// Field-kind tags. The set is closed: every field type an entity may declare
// is registered here, each carrying its operator tables as data.
const (
	KindText     = "text"
	KindTextarea = "textarea"
	KindEmail    = "email"
	KindCode     = "code"
	KindSelect   = "select"
	KindNumber   = "number"
	KindCheckbox = "checkbox"
	KindDate     = "date"
	KindUUID     = "uuid"
	KindJSON     = "json"
	KindArray    = "array"
)

// OperatorFunc builds one predicate fragment for a resolved field reference.
// It must be pure given its inputs; parameters are added through
// opts.Params. Returning ok=false means the operand shape (or dialect
// support) doesn't fit and the condition contributes no predicate.
type OperatorFunc func(ref string, value any, opts *Options) (string, bool)

// FieldType is one entry in the type registry: storage synthesis, input
// validation, and the closed operator tables for a field kind. ColumnOps
// apply to fields stored in their own column; PathOps apply when the value
// is embedded in a JSON document column at a known path (the reference is
// then already the extraction expression).
type FieldType struct {
	Kind      string
	Label     string
	ColumnOps map[string]OperatorFunc
	PathOps   map[string]OperatorFunc
	Validate  func(f *metadata.Field, v any) error
}

// SQLType synthesizes the storage column type for this kind.
func (t *FieldType) SQLType(d store.Dialect, f *metadata.Field) string {
	return d.ColumnType(t.Kind, f.Precision)
}

// Ops returns the operator table appropriate for the field's storage shape.
func (t *FieldType) Ops(f *metadata.Field) map[string]OperatorFunc {
	if f.Embedded() {
		return t.PathOps
	}
	return t.ColumnOps
}

// TypeRegistry maps field-kind tags to implementations. It is populated once
// at startup and treated as read-only afterwards; concurrent readers need no
// synchronization. Inject it via Options rather than reaching for a global.
type TypeRegistry struct {
	types map[string]*FieldType
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]*FieldType)}
}

// Register adds a field type. Registering the same tag twice is a
// programming error and panics.
func (r *TypeRegistry) Register(t *FieldType) {
	if _, exists := r.types[t.Kind]; exists {
		panic(fmt.Sprintf("query: field type %q registered twice", t.Kind))
	}
	r.types[t.Kind] = t
}

// Resolve returns the implementation for a field-kind tag.
func (r *TypeRegistry) Resolve(kind string) (*FieldType, error) {
	t, ok := r.types[kind]
	if !ok {
		return nil, fmt.Errorf("unknown field type %q", kind)
	}
	return t, nil
}

// Kinds returns the registered kind tags.
func (r *TypeRegistry) Kinds() []string {
	kinds := make([]string, 0, len(r.types))
	for k := range r.types {
		kinds = append(kinds, k)
	}
	return kinds
}

// DefaultTypes builds the registry of built-in field kinds. Called once at
// bootstrap; the result is shared by all compiles for the process lifetime.
func DefaultTypes() *TypeRegistry {
	r := NewTypeRegistry()

	textOps := map[string]OperatorFunc{
		"eq":         opEq,
		"ne":         opNe,
		"like":       opLike,
		"notLike":    opNotLike,
		"ilike":      opILike,
		"notIlike":   opNotILike,
		"contains":   opContains,
		"startsWith": opStartsWith,
		"endsWith":   opEndsWith,
		"in":         opIn,
		"notIn":      opNotIn,
		"isNull":     opIsNull,
		"isNotNull":  opIsNotNull,
	}

	numberOps := map[string]OperatorFunc{
		"eq":        opEq,
		"ne":        opNe,
		"gt":        opGt,
		"gte":       opGte,
		"lt":        opLt,
		"lte":       opLte,
		"between":   opBetween,
		"in":        opIn,
		"notIn":     opNotIn,
		"isNull":    opIsNull,
		"isNotNull": opIsNotNull,
	}

	checkboxOps := map[string]OperatorFunc{
		"eq":        opEq,
		"ne":        opNe,
		"isNull":    opIsNull,
		"isNotNull": opIsNotNull,
	}

	dateOps := map[string]OperatorFunc{
		"eq":        opEq,
		"ne":        opNe,
		"gt":        opGt,
		"gte":       opGte,
		"lt":        opLt,
		"lte":       opLte,
		"between":   opBetween,
		"isNull":    opIsNull,
		"isNotNull": opIsNotNull,
	}

	uuidOps := map[string]OperatorFunc{
		"eq":        opEq,
		"ne":        opNe,
		"in":        opIn,
		"notIn":     opNotIn,
		"isNull":    opIsNull,
		"isNotNull": opIsNotNull,
	}

	arrayOps := map[string]OperatorFunc{
		"arrayOverlaps":  opArrayOverlaps,
		"arrayContains":  opArrayContains,
		"arrayContained": opArrayContained,
		"isNull":         opIsNull,
		"isNotNull":      opIsNotNull,
	}

	jsonColumnOps := map[string]OperatorFunc{
		"isNull":    opIsNull,
		"isNotNull": opIsNotNull,
	}
	// Comparisons against a JSON document only make sense at a path.
	jsonPathOps := textOps

	for _, kind := range []string{KindText, KindTextarea, KindEmail, KindCode} {
		r.Register(&FieldType{
			Kind:      kind,
			Label:     kind,
			ColumnOps: textOps,
			PathOps:   textOps,
			Validate:  validateText,
		})
	}
	r.Register(&FieldType{
		Kind:      KindSelect,
		Label:     "select",
		ColumnOps: textOps,
		PathOps:   textOps,
		Validate:  validateSelect,
	})
	r.Register(&FieldType{
		Kind:      KindNumber,
		Label:     "number",
		ColumnOps: numberOps,
		PathOps:   numberOps,
		Validate:  validateNumber,
	})
	r.Register(&FieldType{
		Kind:      KindCheckbox,
		Label:     "checkbox",
		ColumnOps: checkboxOps,
		PathOps:   checkboxOps,
		Validate:  validateCheckbox,
	})
	r.Register(&FieldType{
		Kind:      KindDate,
		Label:     "date",
		ColumnOps: dateOps,
		PathOps:   dateOps,
		Validate:  validateDate,
	})
	r.Register(&FieldType{
		Kind:      KindUUID,
		Label:     "uuid",
		ColumnOps: uuidOps,
		PathOps:   uuidOps,
		Validate:  validateText,
	})
	r.Register(&FieldType{
		Kind:      KindJSON,
		Label:     "json",
		ColumnOps: jsonColumnOps,
		PathOps:   jsonPathOps,
		Validate:  nil,
	})
	r.Register(&FieldType{
		Kind:      KindArray,
		Label:     "array",
		ColumnOps: arrayOps,
		PathOps:   nil, // arrays embedded in documents are not queryable
		Validate:  validateArray,
	})

	return r
}

// --- operator implementations ---

func opEq(ref string, v any, o *Options) (string, bool) {
	if v == nil {
		return ref + " IS NULL", true
	}
	return fmt.Sprintf("%s = %s", ref, o.Params.Add(v)), true
}

func opNe(ref string, v any, o *Options) (string, bool) {
	if v == nil {
		return ref + " IS NOT NULL", true
	}
	return fmt.Sprintf("%s != %s", ref, o.Params.Add(v)), true
}

func opGt(ref string, v any, o *Options) (string, bool) {
	if v == nil {
		return "", false
	}
	return fmt.Sprintf("%s > %s", ref, o.Params.Add(v)), true
}

func opGte(ref string, v any, o *Options) (string, bool) {
	if v == nil {
		return "", false
	}
	return fmt.Sprintf("%s >= %s", ref, o.Params.Add(v)), true
}

func opLt(ref string, v any, o *Options) (string, bool) {
	if v == nil {
		return "", false
	}
	return fmt.Sprintf("%s < %s", ref, o.Params.Add(v)), true
}

func opLte(ref string, v any, o *Options) (string, bool) {
	if v == nil {
		return "", false
	}
	return fmt.Sprintf("%s <= %s", ref, o.Params.Add(v)), true
}

func opBetween(ref string, v any, o *Options) (string, bool) {
	bounds, ok := toSlice(v)
	if !ok || len(bounds) != 2 {
		return "", false
	}
	return fmt.Sprintf("%s BETWEEN %s AND %s", ref, o.Params.Add(bounds[0]), o.Params.Add(bounds[1])), true
}

func opIn(ref string, v any, o *Options) (string, bool) {
	values, ok := toSlice(v)
	if !ok {
		return "", false
	}
	return o.Dialect.InExpr(ref, o.Params, values), true
}

func opNotIn(ref string, v any, o *Options) (string, bool) {
	values, ok := toSlice(v)
	if !ok {
		return "", false
	}
	return o.Dialect.NotInExpr(ref, o.Params, values), true
}

func opLike(ref string, v any, o *Options) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s LIKE %s", ref, o.Params.Add(s)), true
}

func opNotLike(ref string, v any, o *Options) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s NOT LIKE %s", ref, o.Params.Add(s)), true
}

func opILike(ref string, v any, o *Options) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return o.Dialect.ILikeExpr(ref, o.Params, s), true
}

func opNotILike(ref string, v any, o *Options) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return o.Dialect.NotILikeExpr(ref, o.Params, s), true
}

func opContains(ref string, v any, o *Options) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return o.Dialect.ILikeExpr(ref, o.Params, "%"+s+"%"), true
}

func opStartsWith(ref string, v any, o *Options) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return o.Dialect.ILikeExpr(ref, o.Params, s+"%"), true
}

func opEndsWith(ref string, v any, o *Options) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return o.Dialect.ILikeExpr(ref, o.Params, "%"+s), true
}

// opIsNull follows the exists-style contract: a truthy operand asserts the
// stated condition, a falsy one asserts its inverse.
func opIsNull(ref string, v any, o *Options) (string, bool) {
	if truthy(v) {
		return ref + " IS NULL", true
	}
	return ref + " IS NOT NULL", true
}

func opIsNotNull(ref string, v any, o *Options) (string, bool) {
	if truthy(v) {
		return ref + " IS NOT NULL", true
	}
	return ref + " IS NULL", true
}

func opArrayOverlaps(ref string, v any, o *Options) (string, bool) {
	values, ok := toStringSlice(v)
	if !ok {
		return "", false
	}
	expr := o.Dialect.ArrayOverlapsExpr(ref, o.Params, values)
	return expr, expr != ""
}

func opArrayContains(ref string, v any, o *Options) (string, bool) {
	values, ok := toStringSlice(v)
	if !ok {
		return "", false
	}
	expr := o.Dialect.ArrayContainsExpr(ref, o.Params, values)
	return expr, expr != ""
}

func opArrayContained(ref string, v any, o *Options) (string, bool) {
	values, ok := toStringSlice(v)
	if !ok {
		return "", false
	}
	expr := o.Dialect.ArrayContainedExpr(ref, o.Params, values)
	return expr, expr != ""
}

// --- operand coercion ---

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}

func toStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, len(s))
		for i, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out[i] = str
		}
		return out, true
	}
	return nil, false
}

func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return true // bare isNull/isNotNull asserts the stated condition
	case bool:
		return b
	case string:
		return b == "true" || b == "1"
	case float64:
		return b != 0
	case int:
		return b != 0
	}
	return true
}

// --- validation ---

func validateText(f *metadata.Field, v any) error {
	if v == nil {
		return nil
	}
	if _, ok := v.(string); !ok {
		return fmt.Errorf("field %s expects a string", f.Name)
	}
	return nil
}

func validateSelect(f *metadata.Field, v any) error {
	if v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("field %s expects a string", f.Name)
	}
	if len(f.Enum) == 0 {
		return nil
	}
	for _, opt := range f.Enum {
		if opt == s {
			return nil
		}
	}
	return fmt.Errorf("field %s: %q is not a valid option", f.Name, s)
}

func validateNumber(f *metadata.Field, v any) error {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case float64, float32, int, int64, int32:
		return nil
	}
	return fmt.Errorf("field %s expects a number", f.Name)
}

func validateCheckbox(f *metadata.Field, v any) error {
	if v == nil {
		return nil
	}
	if _, ok := v.(bool); !ok {
		return fmt.Errorf("field %s expects a boolean", f.Name)
	}
	return nil
}

func validateDate(f *metadata.Field, v any) error {
	if v == nil {
		return nil
	}
	switch d := v.(type) {
	case time.Time:
		return nil
	case string:
		if _, err := time.Parse(time.RFC3339, d); err == nil {
			return nil
		}
		if _, err := time.Parse("2006-01-02", d); err == nil {
			return nil
		}
		return fmt.Errorf("field %s: invalid date %q", f.Name, d)
	}
	return fmt.Errorf("field %s expects a date", f.Name)
}

func validateArray(f *metadata.Field, v any) error {
	if v == nil {
		return nil
	}
	if _, ok := toStringSlice(v); !ok {
		return fmt.Errorf("field %s expects an array of strings", f.Name)
	}
	return nil
}
