package query

import (
	"strings"
	"testing"

	"github.com/questpie/questpie-cms-sub013/internal/metadata"
	"github.com/questpie/questpie-cms-sub013/internal/store"
)

// testRegistry builds the blog-shaped schema the compiler tests run against:
// posts with comments (has_many), an author (belongs_to), categories
// (many_to_many), and reactions pointing back at posts or users (morph_to).
func testRegistry() *metadata.Registry {
	posts := &metadata.Entity{
		Name:       "posts",
		Table:      "posts",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		Localized:  true,
		Fields: []metadata.Field{
			{Name: "id", Type: "uuid"},
			{Name: "title", Type: "text", Localized: true},
			{Name: "status", Type: "select", Enum: []string{"draft", "published"}},
			{Name: "views", Type: "number"},
			{Name: "published", Type: "checkbox"},
			{Name: "tags", Type: "array"},
			{Name: "authorId", Type: "uuid", Column: "author_id"},
			{Name: "color", Type: "text", Column: "meta", Path: []string{"color"}},
		},
	}
	comments := &metadata.Entity{
		Name:       "comments",
		Table:      "comments",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		SoftDelete: true,
		Fields: []metadata.Field{
			{Name: "id", Type: "uuid"},
			{Name: "postId", Type: "uuid", Column: "post_id"},
			{Name: "approved", Type: "checkbox"},
			{Name: "body", Type: "text"},
		},
	}
	users := &metadata.Entity{
		Name:       "users",
		Table:      "users",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		Fields: []metadata.Field{
			{Name: "id", Type: "uuid"},
			{Name: "name", Type: "text"},
		},
	}
	categories := &metadata.Entity{
		Name:       "categories",
		Table:      "categories",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		Fields: []metadata.Field{
			{Name: "id", Type: "uuid"},
			{Name: "name", Type: "text"},
		},
	}
	reactions := &metadata.Entity{
		Name:       "reactions",
		Table:      "reactions",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		Fields: []metadata.Field{
			{Name: "id", Type: "uuid"},
			{Name: "kind", Type: "text"},
		},
	}

	relations := []*metadata.Relation{
		{Name: "comments", Type: metadata.RelationHasMany, Source: "posts", Target: "comments", Reverse: "post"},
		{Name: "post", Type: metadata.RelationBelongsTo, Source: "comments", Target: "posts",
			SourceFields: []string{"postId"}, TargetFields: []string{"id"}},
		{Name: "author", Type: metadata.RelationBelongsTo, Source: "posts", Target: "users",
			SourceFields: []string{"authorId"}, TargetFields: []string{"id"}},
		{Name: "categories", Type: metadata.RelationManyToMany, Source: "posts", Target: "categories",
			Through: "post_categories", SourceKey: "id", TargetKey: "id",
			SourceJoinField: "post_id", TargetJoinField: "category_id"},
		{Name: "subject", Type: metadata.RelationMorphTo, Source: "reactions",
			TypeMap: map[string]string{"post": "posts", "user": "users"}},
	}

	reg := metadata.NewRegistry()
	reg.Load([]*metadata.Entity{posts, comments, users, categories, reactions}, relations)
	return reg
}

func pgOptions(entityName string, reg *metadata.Registry) Options {
	d := store.NewDialect("postgres")
	entity := reg.GetEntity(entityName)
	return Options{
		Entity:   entity,
		Registry: reg,
		Types:    DefaultTypes(),
		Dialect:  d,
		Params:   d.NewParamBuilder(),
		Table:    entity.Table,
	}
}

func mustCompile(t *testing.T, raw map[string]any, entityName string, reg *metadata.Registry) (string, []any) {
	t.Helper()
	opts := pgOptions(entityName, reg)
	w, err := Parse(raw, opts.Entity, reg, false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sql, err := Compile(w, opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return sql, opts.Params.Params()
}

func TestCompileScalarEquality(t *testing.T) {
	reg := testRegistry()
	sql, params := mustCompile(t, map[string]any{"status": "draft"}, "posts", reg)

	if sql != "posts.status = $1" {
		t.Fatalf("unexpected sql: %s", sql)
	}
	if len(params) != 1 || params[0] != "draft" {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestCompileScalarEquality_KeyOrderIndependent(t *testing.T) {
	reg := testRegistry()

	// Two maps with the same keys must compile identically regardless of
	// insertion order, since the tree is built over sorted keys.
	a := map[string]any{"status": "draft", "views": float64(5)}
	b := map[string]any{"views": float64(5), "status": "draft"}

	sqlA, paramsA := mustCompile(t, a, "posts", reg)
	sqlB, paramsB := mustCompile(t, b, "posts", reg)

	if sqlA != sqlB {
		t.Fatalf("key order changed the sql: %q vs %q", sqlA, sqlB)
	}
	if sqlA != "(posts.status = $1 AND posts.views = $2)" {
		t.Fatalf("unexpected sql: %s", sqlA)
	}
	if len(paramsA) != 2 || paramsA[0] != paramsB[0] || paramsA[1] != paramsB[1] {
		t.Fatalf("params diverged: %v vs %v", paramsA, paramsB)
	}
}

func TestCompileIdempotent(t *testing.T) {
	reg := testRegistry()
	raw := map[string]any{
		"OR": []any{
			map[string]any{"status": "draft"},
			map[string]any{"comments": map[string]any{"some": map[string]any{"approved": true}}},
		},
	}

	sql1, params1 := mustCompile(t, raw, "posts", reg)
	sql2, params2 := mustCompile(t, raw, "posts", reg)

	if sql1 != sql2 {
		t.Fatalf("compiles diverged:\n%s\n%s", sql1, sql2)
	}
	if len(params1) != len(params2) {
		t.Fatalf("param counts diverged: %d vs %d", len(params1), len(params2))
	}
}

func TestCompileNullEquality(t *testing.T) {
	reg := testRegistry()
	sql, params := mustCompile(t, map[string]any{"status": nil}, "posts", reg)

	if sql != "posts.status IS NULL" {
		t.Fatalf("unexpected sql: %s", sql)
	}
	if len(params) != 0 {
		t.Fatalf("IS NULL must not bind params, got %v", params)
	}
}

func TestCompileOperatorObject(t *testing.T) {
	reg := testRegistry()
	sql, params := mustCompile(t, map[string]any{
		"views": map[string]any{"gte": float64(10), "lt": float64(100)},
	}, "posts", reg)

	if sql != "(posts.views >= $1 AND posts.views < $2)" {
		t.Fatalf("unexpected sql: %s", sql)
	}
	if len(params) != 2 {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestCompileNotAnd_DeMorganShape(t *testing.T) {
	reg := testRegistry()
	sql, _ := mustCompile(t, map[string]any{
		"NOT": map[string]any{
			"AND": []any{
				map[string]any{"status": "draft"},
				map[string]any{"published": true},
			},
		},
	}, "posts", reg)

	if sql != "NOT ((posts.status = $1 AND posts.published = $2))" {
		t.Fatalf("unexpected sql: %s", sql)
	}
}

func TestCompileOr(t *testing.T) {
	reg := testRegistry()
	sql, _ := mustCompile(t, map[string]any{
		"OR": []any{
			map[string]any{"status": "draft"},
			map[string]any{"status": "published"},
		},
	}, "posts", reg)

	if sql != "(posts.status = $1 OR posts.status = $2)" {
		t.Fatalf("unexpected sql: %s", sql)
	}
}

func TestCompileEmptyNotContributesNothing(t *testing.T) {
	reg := testRegistry()
	// The nested filter only names an unknown field, which lenient mode
	// drops; negating nothing must still be nothing.
	sql, _ := mustCompile(t, map[string]any{
		"NOT": map[string]any{"ghost": "x"},
	}, "posts", reg)

	if sql != "" {
		t.Fatalf("expected empty predicate, got %s", sql)
	}
}

func TestCompileEmbeddedFieldUsesJSONPath(t *testing.T) {
	reg := testRegistry()
	sql, params := mustCompile(t, map[string]any{"color": "red"}, "posts", reg)

	if sql != "(posts.meta #>> '{color}') = $1" {
		t.Fatalf("unexpected sql: %s", sql)
	}
	if len(params) != 1 || params[0] != "red" {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestCompileArrayOverlaps(t *testing.T) {
	reg := testRegistry()
	sql, params := mustCompile(t, map[string]any{
		"tags": map[string]any{"arrayOverlaps": []any{"go", "sql"}},
	}, "posts", reg)

	if !strings.Contains(sql, "&&") {
		t.Fatalf("expected pg array overlap operator, got %s", sql)
	}
	if len(params) != 1 {
		t.Fatalf("expected one array param, got %v", params)
	}
}

func TestCompileRawNode(t *testing.T) {
	reg := testRegistry()
	opts := pgOptions("posts", reg)

	w := &Where{Nodes: []Node{
		RawNode{Build: func(table string, pb store.ParamBuilder) string {
			return table + ".views > " + pb.Add(10)
		}},
	}}
	sql, err := Compile(w, opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if sql != "posts.views > $1" {
		t.Fatalf("unexpected sql: %s", sql)
	}
}

func TestCompileStrictUnknownOperator(t *testing.T) {
	reg := testRegistry()
	opts := pgOptions("posts", reg)
	opts.Strict = true

	w := &Where{Nodes: []Node{
		FieldNode{Field: "views", Conds: []FieldCond{{Op: "soundslike", Value: "x"}}},
	}}
	if _, err := Compile(w, opts); err == nil {
		t.Fatal("expected error for unknown operator in strict mode")
	}
}

func TestCompileLenientUnknownOperatorDropped(t *testing.T) {
	reg := testRegistry()
	opts := pgOptions("posts", reg)

	w := &Where{Nodes: []Node{
		FieldNode{Field: "views", Conds: []FieldCond{{Op: "soundslike", Value: "x"}}},
	}}
	sql, err := Compile(w, opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if sql != "" {
		t.Fatalf("expected dropped condition, got %s", sql)
	}
}

func TestAllConjoinsTrees(t *testing.T) {
	merged := All(FieldEq("status", "draft"), FieldEq("authorId", "u1"))

	reg := testRegistry()
	opts := pgOptions("posts", reg)
	sql, err := Compile(merged, opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if sql != "(posts.status = $1 AND posts.author_id = $2)" {
		t.Fatalf("unexpected sql: %s", sql)
	}
	params := opts.Params.Params()
	if len(params) != 2 || params[0] != "draft" || params[1] != "u1" {
		t.Fatalf("unexpected params: %v", params)
	}
}

func TestAllDropsEmptyTrees(t *testing.T) {
	base := FieldEq("status", "draft")
	if merged := All(nil, base, nil); merged != base {
		t.Fatal("expected single non-empty tree to pass through")
	}
	if merged := All(nil, nil); merged != nil {
		t.Fatal("expected nil for all-empty input")
	}
}

func TestCompileEmbeddedPathDialectRefuses(t *testing.T) {
	// A path segment the dialect cannot embed leaves the field without a
	// column reference. The whole condition must drop, not render an
	// operator around an empty reference.
	docs := &metadata.Entity{
		Name:       "docs",
		Table:      "docs",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		Fields: []metadata.Field{
			{Name: "id", Type: "uuid"},
			{Name: "weird", Type: "text", Column: "meta", Path: []string{"bad-seg"}},
		},
	}
	reg := metadata.NewRegistry()
	reg.Load([]*metadata.Entity{docs}, nil)

	sql, params := mustCompile(t, map[string]any{"weird": "x"}, "docs", reg)
	if sql != "" {
		t.Fatalf("unresolvable reference must contribute no predicate: %q", sql)
	}
	if len(params) != 0 {
		t.Fatalf("dropped condition must not bind params: %v", params)
	}

	opts := pgOptions("docs", reg)
	opts.Strict = true
	w, err := Parse(map[string]any{"weird": "x"}, opts.Entity, reg, true)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Compile(w, opts); err == nil {
		t.Fatal("strict mode must reject an unbuildable reference")
	}
}
