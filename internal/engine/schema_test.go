package engine

import (
	"strings"
	"testing"

	"github.com/questpie/questpie-cms-sub013/internal/metadata"
	"github.com/questpie/questpie-cms-sub013/internal/query"
	"github.com/questpie/questpie-cms-sub013/internal/store"
)

func TestBuildCreateTableSQLPostgres(t *testing.T) {
	_, posts := localizedTestEntity()
	d := store.NewDialect("postgres")
	types := query.DefaultTypes()

	ddl := BuildCreateTableSQL(d, types, posts)

	if !strings.HasPrefix(ddl, "CREATE TABLE IF NOT EXISTS posts") {
		t.Fatalf("unexpected ddl: %s", ddl)
	}
	if !strings.Contains(ddl, "id UUID PRIMARY KEY") {
		t.Fatalf("missing primary key: %s", ddl)
	}
	if strings.Contains(ddl, "title") {
		t.Fatalf("localized columns belong to the locale table: %s", ddl)
	}
	for _, col := range []string{"created_at", "updated_at", "deleted_at"} {
		if !strings.Contains(ddl, col) {
			t.Fatalf("missing %s: %s", col, ddl)
		}
	}
}

func TestBuildLocaleTableSQL(t *testing.T) {
	_, posts := localizedTestEntity()
	d := store.NewDialect("postgres")
	types := query.DefaultTypes()

	ddl := BuildLocaleTableSQL(d, types, posts)

	if !strings.HasPrefix(ddl, "CREATE TABLE IF NOT EXISTS posts_i18n") {
		t.Fatalf("unexpected ddl: %s", ddl)
	}
	for _, want := range []string{"parent_id", "locale", "title", "PRIMARY KEY (parent_id, locale)"} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("missing %s: %s", want, ddl)
		}
	}
	if strings.Contains(ddl, "status") {
		t.Fatalf("non-localized columns must stay on the base table: %s", ddl)
	}
}

func TestBuildLocaleTableSQLSkipsNonLocalizedEntities(t *testing.T) {
	_, posts := localizedTestEntity()
	posts.Localized = false
	d := store.NewDialect("sqlite")
	types := query.DefaultTypes()

	if ddl := BuildLocaleTableSQL(d, types, posts); ddl != "" {
		t.Fatalf("expected no ddl, got %s", ddl)
	}
}

func TestValidateEntityDef(t *testing.T) {
	_, posts := localizedTestEntity()
	types := query.DefaultTypes()

	if appErr := validateEntityDef(posts, types); appErr != nil {
		t.Fatalf("valid entity rejected: %v", appErr)
	}

	bad := *posts
	bad.Table = ""
	bad.Fields = append([]metadata.Field{}, posts.Fields...)
	bad.Fields = append(bad.Fields, metadata.Field{Name: "weird", Type: "hologram"})
	bad.Fields = append(bad.Fields, metadata.Field{Name: "nested", Type: "text", Column: "meta", Path: []string{"no-good"}})
	appErr := validateEntityDef(&bad, types)
	if appErr == nil {
		t.Fatal("expected validation errors")
	}
	if len(appErr.Details) != 3 {
		t.Fatalf("expected missing-table, unknown-type and unsafe-path errors, got %v", appErr.Details)
	}
}

func TestValidateRelationDef(t *testing.T) {
	reg, _ := localizedTestEntity()

	ok := &metadata.Relation{
		Name: "author", Type: metadata.RelationBelongsTo, Source: "posts", Target: "posts",
		SourceFields: []string{"id"}, TargetFields: []string{"id"},
	}
	if appErr := validateRelationDef(ok, reg); appErr != nil {
		t.Fatalf("valid relation rejected: %v", appErr)
	}

	mismatched := &metadata.Relation{
		Name: "author", Type: metadata.RelationBelongsTo, Source: "posts", Target: "posts",
		SourceFields: []string{"a", "b"}, TargetFields: []string{"a"},
	}
	if appErr := validateRelationDef(mismatched, reg); appErr == nil {
		t.Fatal("expected error for mismatched join keys")
	}

	unknownTarget := &metadata.Relation{
		Name: "author", Type: metadata.RelationBelongsTo, Source: "posts", Target: "ghosts",
		SourceFields: []string{"id"}, TargetFields: []string{"id"},
	}
	if appErr := validateRelationDef(unknownTarget, reg); appErr == nil {
		t.Fatal("expected error for unknown target")
	}

	morph := &metadata.Relation{Name: "subject", Type: metadata.RelationMorphTo, Source: "posts"}
	if appErr := validateRelationDef(morph, reg); appErr == nil {
		t.Fatal("expected error for morph without type map")
	}
}
