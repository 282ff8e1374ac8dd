package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/questpie/questpie-cms-sub013/internal/metadata"
	"github.com/questpie/questpie-cms-sub013/internal/query"
	"github.com/questpie/questpie-cms-sub013/internal/store"
)

func accessTestRegistry() (*metadata.Registry, *metadata.Entity) {
	posts := &metadata.Entity{
		Name:       "posts",
		Table:      "posts",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		Fields: []metadata.Field{
			{Name: "id", Type: "uuid"},
			{Name: "status", Type: "select", Enum: []string{"draft", "published"}},
			{Name: "ownerId", Type: "text", Column: "owner_id"},
			{Name: "secret", Type: "text"},
		},
	}
	reg := metadata.NewRegistry()
	reg.Load([]*metadata.Entity{posts}, nil)
	return reg, posts
}

func evalFor(userID string, roles ...string) *metadata.EvalContext {
	var user *metadata.UserContext
	if userID != "" {
		user = &metadata.UserContext{ID: userID, Roles: roles}
	}
	return &metadata.EvalContext{User: user, Locale: "en"}
}

func TestExecuteAccessRuleNilAllowsUnrestricted(t *testing.T) {
	reg, posts := accessTestRegistry()
	res := ExecuteAccessRule(nil, evalFor("u1"), posts, reg, "read")
	if !res.Allowed || !res.Where.Empty() {
		t.Fatalf("expected unrestricted allow, got %+v", res)
	}
}

func TestExecuteAccessRuleStaticBoolean(t *testing.T) {
	reg, posts := accessTestRegistry()
	deny := false
	res := ExecuteAccessRule(&metadata.AccessRule{Allow: &deny}, evalFor("u1"), posts, reg, "read")
	if res.Allowed {
		t.Fatal("expected denial")
	}
}

func TestExecuteAccessRuleExpressionBoolean(t *testing.T) {
	reg, posts := accessTestRegistry()
	rule := &metadata.AccessRule{Expression: `"admin" in user.roles`}

	if res := ExecuteAccessRule(rule, evalFor("u1", "admin"), posts, reg, "read"); !res.Allowed {
		t.Fatal("expected allow for admin")
	}
	if res := ExecuteAccessRule(rule, evalFor("u2", "editor"), posts, reg, "read"); res.Allowed {
		t.Fatal("expected denial for non-admin")
	}
	if res := ExecuteAccessRule(rule, evalFor(""), posts, reg, "read"); res.Allowed {
		t.Fatal("expected denial for anonymous")
	}
}

func TestExecuteAccessRuleExpressionConditional(t *testing.T) {
	reg, posts := accessTestRegistry()
	rule := &metadata.AccessRule{Expression: `{"ownerId": user.id}`}

	res := ExecuteAccessRule(rule, evalFor("u1"), posts, reg, "read")
	if !res.Allowed {
		t.Fatal("expected conditional allow")
	}
	if res.Where.Empty() {
		t.Fatal("expected a row filter")
	}
}

func TestExecuteAccessRuleFailsClosed(t *testing.T) {
	reg, posts := accessTestRegistry()

	// broken expression
	res := ExecuteAccessRule(&metadata.AccessRule{Expression: "(("}, evalFor("u1"), posts, reg, "read")
	if res.Allowed {
		t.Fatal("expected denial for uncompilable expression")
	}

	// erroring func
	res = ExecuteAccessRule(&metadata.AccessRule{
		Func: func(*metadata.EvalContext) (any, error) { return nil, errors.New("boom") },
	}, evalFor("u1"), posts, reg, "read")
	if res.Allowed {
		t.Fatal("expected denial for erroring rule")
	}

	// conditional result naming an unknown field
	res = ExecuteAccessRule(&metadata.AccessRule{
		Func: func(*metadata.EvalContext) (any, error) { return map[string]any{"ghost": "x"}, nil },
	}, evalFor("u1"), posts, reg, "read")
	if res.Allowed {
		t.Fatal("expected denial for invalid conditional filter")
	}

	// result of an unusable type
	res = ExecuteAccessRule(&metadata.AccessRule{
		Func: func(*metadata.EvalContext) (any, error) { return 42, nil },
	}, evalFor("u1"), posts, reg, "read")
	if res.Allowed {
		t.Fatal("expected denial for non-boolean non-filter result")
	}
}

func TestMergeWhereWithAccessConjoins(t *testing.T) {
	reg, posts := accessTestRegistry()

	userWhere := query.FieldEq("status", "draft")
	access := AccessResult{Allowed: true, Where: query.FieldEq("ownerId", "u1")}
	merged := MergeWhereWithAccess(userWhere, access)

	d := store.NewDialect("postgres")
	opts := query.Options{
		Entity: posts, Registry: reg, Types: query.DefaultTypes(),
		Dialect: d, Params: d.NewParamBuilder(), Table: posts.Table,
	}
	sql, err := query.Compile(merged, opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if sql != "(posts.status = $1 AND posts.owner_id = $2)" {
		t.Fatalf("unexpected sql: %s", sql)
	}
	params := opts.Params.Params()
	if len(params) != 2 || params[0] != "draft" || params[1] != "u1" {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestMergeWhereWithAccessPanicsOnDenial(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for denied access result")
		}
	}()
	MergeWhereWithAccess(nil, AccessResult{Allowed: false})
}

func TestApplyReadAccessRedactsSilently(t *testing.T) {
	_, posts := accessTestRegistry()
	posts.Fields[3].Access.Read = &metadata.AccessRule{Expression: `"admin" in user.roles`}

	rows := []map[string]any{
		{"id": "p1", "status": "draft", "secret": "s3cr3t"},
		{"id": "p2", "status": "published", "secret": "hidden"},
	}

	ApplyReadAccess(posts, rows, evalFor("u1", "editor"))
	for _, row := range rows {
		if _, present := row["secret"]; present {
			t.Fatal("expected secret redacted for non-admin")
		}
		if _, present := row["status"]; !present {
			t.Fatal("unguarded fields must survive")
		}
	}

	rows = []map[string]any{{"id": "p1", "secret": "s3cr3t"}}
	ApplyReadAccess(posts, rows, evalFor("u1", "admin"))
	if rows[0]["secret"] != "s3cr3t" {
		t.Fatal("expected secret kept for admin")
	}
}

func TestApplyReadAccessCanDependOnRow(t *testing.T) {
	_, posts := accessTestRegistry()
	posts.Fields[3].Access.Read = &metadata.AccessRule{Expression: `row.ownerId == user.id`}

	rows := []map[string]any{
		{"id": "p1", "ownerId": "u1", "secret": "mine"},
		{"id": "p2", "ownerId": "u2", "secret": "theirs"},
	}
	ApplyReadAccess(posts, rows, evalFor("u1"))

	if rows[0]["secret"] != "mine" {
		t.Fatal("owner must keep their own field")
	}
	if _, present := rows[1]["secret"]; present {
		t.Fatal("foreign row must be redacted")
	}
}

func TestCheckWriteAccessAbortsWholeWrite(t *testing.T) {
	_, posts := accessTestRegistry()
	posts.Fields[3].Access.Write = &metadata.AccessRule{Expression: `"admin" in user.roles`}

	input := map[string]any{"status": "draft", "secret": "new"}
	appErr := CheckWriteAccess(posts, input, evalFor("u1", "editor"))
	if appErr == nil {
		t.Fatal("expected write denial")
	}
	if appErr.Code != "FIELD_FORBIDDEN" {
		t.Fatalf("unexpected code: %s", appErr.Code)
	}
	if !strings.Contains(appErr.Message, "secret") {
		t.Fatalf("error must name the field: %s", appErr.Message)
	}

	// untouched fields don't trigger the rule
	if appErr := CheckWriteAccess(posts, map[string]any{"status": "draft"}, evalFor("u1", "editor")); appErr != nil {
		t.Fatalf("expected allow when guarded field absent: %v", appErr)
	}
}

func TestFieldRuleConditionalResultIsDenial(t *testing.T) {
	allowed := ExecuteFieldRule(&metadata.AccessRule{
		Func: func(*metadata.EvalContext) (any, error) { return map[string]any{"ownerId": "u1"}, nil },
	}, evalFor("u1"), "read")
	if allowed {
		t.Fatal("field rules may only answer yes or no; a filter counts as denial")
	}
}
