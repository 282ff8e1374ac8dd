package query

import (
	"strings"
	"testing"
)

func TestFieldReferenceLocalizedWithFallback(t *testing.T) {
	reg := testRegistry()
	opts := pgOptions("posts", reg)
	opts.Localize = true
	opts.LocaleTable = "loc"
	opts.FallbackTable = "fb"

	title := opts.Entity.GetField("title")
	if ref := FieldReference(title, &opts); ref != "COALESCE(loc.title, fb.title)" {
		t.Fatalf("unexpected ref: %s", ref)
	}

	// Non-localized fields stay on the base table even with localization on.
	status := opts.Entity.GetField("status")
	if ref := FieldReference(status, &opts); ref != "posts.status" {
		t.Fatalf("unexpected ref: %s", ref)
	}
}

func TestFieldReferenceLocalizedWithoutFallback(t *testing.T) {
	reg := testRegistry()
	opts := pgOptions("posts", reg)
	opts.Localize = true
	opts.LocaleTable = "loc"

	title := opts.Entity.GetField("title")
	if ref := FieldReference(title, &opts); ref != "loc.title" {
		t.Fatalf("unexpected ref: %s", ref)
	}
}

func TestFieldReferenceLocalizationDisabled(t *testing.T) {
	reg := testRegistry()
	opts := pgOptions("posts", reg)

	title := opts.Entity.GetField("title")
	if ref := FieldReference(title, &opts); ref != "posts.title" {
		t.Fatalf("unexpected ref: %s", ref)
	}
}

func TestCompileLocalizedFieldFilter(t *testing.T) {
	reg := testRegistry()
	opts := pgOptions("posts", reg)
	opts.Localize = true
	opts.LocaleTable = "loc"
	opts.FallbackTable = "fb"

	w, err := Parse(map[string]any{"title": "hello"}, opts.Entity, reg, false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sql, err := Compile(w, opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if sql != "COALESCE(loc.title, fb.title) = $1" {
		t.Fatalf("unexpected sql: %s", sql)
	}
}

func TestLocalizationDisabledInsideRelationSubqueries(t *testing.T) {
	reg := testRegistry()
	opts := pgOptions("comments", reg)
	opts.Localize = true
	opts.LocaleTable = "loc"
	opts.FallbackTable = "fb"

	// posts.title is localized, but inside the correlated subquery the
	// reference must fall back to the aliased base column: no locale joins
	// exist in that scope.
	w, err := Parse(map[string]any{
		"post": map[string]any{"is": map[string]any{"title": "hello"}},
	}, opts.Entity, reg, false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sql, err := Compile(w, opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(sql, "rel_1.title = $1") {
		t.Fatalf("expected base-column reference in subquery: %s", sql)
	}
	if strings.Contains(sql, "COALESCE") || strings.Contains(sql, "loc.") {
		t.Fatalf("locale references leaked into subquery: %s", sql)
	}
}
