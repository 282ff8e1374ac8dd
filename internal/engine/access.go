package engine

import (
	"log"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/questpie/questpie-cms-sub013/internal/metadata"
	"github.com/questpie/questpie-cms-sub013/internal/query"
)

// AccessResult is the outcome of evaluating a collection-level access rule:
// either a flat verdict, or an allowance restricted by a row filter that
// must be conjoined with whatever filter the caller brought.
type AccessResult struct {
	Allowed bool
	Where   *query.Where
}

// Allowed is the unrestricted result for absent rules.
var accessAllowed = AccessResult{Allowed: true}
var accessDenied = AccessResult{Allowed: false}

// exprCache holds compiled access-rule expressions keyed by source text.
// Rules themselves are evaluated fresh per request; only compilation is
// cached, since rules may read request state through the environment.
var exprCache sync.Map

// ExecuteAccessRule evaluates a collection-level rule. A nil rule allows
// unrestricted access. Any evaluation failure (bad expression, panicking
// func, malformed conditional filter) denies: access errors fail closed,
// at every call site, so a broken rule can never widen visibility.
func ExecuteAccessRule(rule *metadata.AccessRule, ev *metadata.EvalContext, entity *metadata.Entity, reg *metadata.Registry, action string) AccessResult {
	if rule == nil {
		return accessAllowed
	}
	if rule.Allow != nil {
		return AccessResult{Allowed: *rule.Allow}
	}

	result, err := runRule(rule, ev, action)
	if err != nil {
		log.Printf("WARN: access rule for %s.%s failed, denying: %v", entity.Name, action, err)
		return accessDenied
	}

	switch v := result.(type) {
	case bool:
		return AccessResult{Allowed: v}
	case map[string]any:
		w, err := query.ParseAccessWhere(v, entity, reg)
		if err != nil {
			log.Printf("WARN: access rule for %s.%s returned invalid filter, denying: %v", entity.Name, action, err)
			return accessDenied
		}
		return AccessResult{Allowed: true, Where: w}
	case *query.Where:
		return AccessResult{Allowed: true, Where: v}
	case nil:
		return accessDenied
	}
	log.Printf("WARN: access rule for %s.%s returned %T, denying", entity.Name, action, result)
	return accessDenied
}

// ExecuteFieldRule evaluates a field-level rule, which may only answer yes
// or no. A conditional (filter) result makes no sense per field and counts
// as a denial, as does any evaluation failure.
func ExecuteFieldRule(rule *metadata.AccessRule, ev *metadata.EvalContext, action string) bool {
	if rule == nil {
		return true
	}
	if rule.Allow != nil {
		return *rule.Allow
	}
	result, err := runRule(rule, ev, action)
	if err != nil {
		return false
	}
	allowed, ok := result.(bool)
	return ok && allowed
}

func runRule(rule *metadata.AccessRule, ev *metadata.EvalContext, action string) (any, error) {
	if rule.Func != nil {
		return rule.Func(ev)
	}

	program, err := compiledProgram(rule.Expression)
	if err != nil {
		return nil, err
	}

	env := map[string]any{
		"user":   ev.UserMap(),
		"row":    ev.Row,
		"input":  ev.Input,
		"locale": ev.Locale,
		"action": action,
	}
	return expr.Run(program, env)
}

func compiledProgram(source string) (*vm.Program, error) {
	if cached, ok := exprCache.Load(source); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(source)
	if err != nil {
		return nil, err
	}
	exprCache.Store(source, program)
	return program, nil
}

// MergeWhereWithAccess conjoins the caller's filter with the restriction an
// access rule imposed. It must never see a denial: the caller raises the
// forbidden error before any filter work happens, so reaching the merger
// with Allowed=false is a programming error and panics.
func MergeWhereWithAccess(userWhere *query.Where, access AccessResult) *query.Where {
	if !access.Allowed {
		panic("engine: MergeWhereWithAccess called with a denied access result")
	}
	if access.Where.Empty() {
		return userWhere
	}
	return query.All(userWhere, access.Where)
}

// ApplyReadAccess redacts fields the user may not read from each row.
// Denial is silent: the field is absent from the response, not an error.
func ApplyReadAccess(entity *metadata.Entity, rows []map[string]any, ev *metadata.EvalContext) {
	var guarded []metadata.Field
	for _, f := range entity.Fields {
		if f.Access.Read != nil {
			guarded = append(guarded, f)
		}
	}
	if len(guarded) == 0 {
		return
	}

	for _, row := range rows {
		rowEv := *ev
		rowEv.Row = row
		for _, f := range guarded {
			if !ExecuteFieldRule(f.Access.Read, &rowEv, "read") {
				delete(row, f.Name)
			}
		}
	}
}

// CheckWriteAccess enforces field-level write rules over the incoming
// payload. The first denied field aborts the whole write.
func CheckWriteAccess(entity *metadata.Entity, input map[string]any, ev *metadata.EvalContext) *AppError {
	for _, f := range entity.Fields {
		if f.Access.Write == nil {
			continue
		}
		if _, present := input[f.Name]; !present {
			continue
		}
		if !ExecuteFieldRule(f.Access.Write, ev, "write") {
			return FieldForbiddenError(f.Name)
		}
	}
	return nil
}
