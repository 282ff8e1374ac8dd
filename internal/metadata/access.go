package metadata

// AccessRule decides whether an operation is allowed, either outright or
// subject to a row filter. Exactly one of the three forms is used:
//
//   - Allow: a static boolean.
//   - Expression: an expr-lang expression evaluated against the request
//     context. A boolean result allows or denies; a map result is parsed as
//     a restricted filter (equality + AND/OR/NOT) that is conjoined with the
//     caller's filter.
//   - Func: a programmatic rule with the same result contract, for schemas
//     registered from Go code.
//
// A nil *AccessRule means unrestricted access. Rules are evaluated fresh on
// every request; only the compiled expression program is cached.
type AccessRule struct {
	Allow      *bool                           `json:"allow,omitempty"`
	Expression string                          `json:"expression,omitempty"`
	Func       func(*EvalContext) (any, error) `json:"-"`
}

// EntityAccess holds the collection-level rules, one per operation.
type EntityAccess struct {
	Read   *AccessRule `json:"read,omitempty"`
	Create *AccessRule `json:"create,omitempty"`
	Update *AccessRule `json:"update,omitempty"`
	Delete *AccessRule `json:"delete,omitempty"`
}

// FieldAccess holds field-level rules. Read denials redact the field from
// responses; write denials abort the whole write. Field rules may only
// return booleans; a conditional result counts as a denial.
type FieldAccess struct {
	Read  *AccessRule `json:"read,omitempty"`
	Write *AccessRule `json:"write,omitempty"`
}

// ForOperation returns the collection-level rule for the given operation.
func (a EntityAccess) ForOperation(op string) *AccessRule {
	switch op {
	case "read":
		return a.Read
	case "create":
		return a.Create
	case "update":
		return a.Update
	case "delete":
		return a.Delete
	}
	return nil
}
