package query

import (
	"database/sql"
	"reflect"
	"testing"

	"github.com/questpie/questpie-cms-sub013/internal/store"
)

// openFixtureDB seeds an in-memory database shaped like testRegistry's blog
// schema. The comment spread is the interesting part: p1's comments all say
// "nice", p2 is mixed, p3 has only "spam" plus one soft-deleted "nice", and
// p4 has no comments at all.
func openFixtureDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE posts (id TEXT PRIMARY KEY, title TEXT, status TEXT, views INTEGER, published INTEGER, tags TEXT, author_id TEXT, meta TEXT)`,
		`CREATE TABLE comments (id TEXT PRIMARY KEY, post_id TEXT, approved INTEGER, body TEXT, deleted_at TEXT)`,
		`INSERT INTO posts (id, status, views) VALUES
			('p1', 'published', 20),
			('p2', 'published', 5),
			('p3', 'draft', 20),
			('p4', 'draft', 5)`,
		`INSERT INTO comments (id, post_id, approved, body, deleted_at) VALUES
			('c1', 'p1', 1, 'nice', NULL),
			('c2', 'p1', 1, 'nice', NULL),
			('c3', 'p2', 1, 'nice', NULL),
			('c4', 'p2', 0, 'spam', NULL),
			('c5', 'p3', 0, 'spam', NULL),
			('c6', 'p3', 1, 'nice', '2026-01-01 00:00:00')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return db
}

// matchingPosts compiles the raw filter for the posts entity and runs it,
// returning the matching ids in order.
func matchingPosts(t *testing.T, db *sql.DB, raw map[string]any) []string {
	t.Helper()
	reg := testRegistry()
	d := store.NewDialect("sqlite")
	entity := reg.GetEntity("posts")
	opts := Options{
		Entity:   entity,
		Registry: reg,
		Types:    DefaultTypes(),
		Dialect:  d,
		Params:   d.NewParamBuilder(),
		Table:    entity.Table,
	}

	pred, err := CompileFor(raw, entity, opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	stmt := "SELECT id FROM posts"
	if pred != "" {
		stmt += " WHERE " + pred
	}
	stmt += " ORDER BY id"

	rows, err := db.Query(stmt, opts.Params.Params()...)
	if err != nil {
		t.Fatalf("query %q: %v", stmt, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan: %v", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	return ids
}

func TestQuantifierRowSets(t *testing.T) {
	db := openFixtureDB(t)

	nice := func(q string) map[string]any {
		return map[string]any{"comments": map[string]any{q: map[string]any{"body": "nice"}}}
	}

	// p1 all match, p2 is mixed, p3 has no live match, p4 is childless.
	// p3's only "nice" comment is soft-deleted and must stay invisible.
	if got := matchingPosts(t, db, nice("some")); !reflect.DeepEqual(got, []string{"p1", "p2"}) {
		t.Fatalf("some: %v", got)
	}
	if got := matchingPosts(t, db, nice("none")); !reflect.DeepEqual(got, []string{"p3", "p4"}) {
		t.Fatalf("none: %v", got)
	}
	// every holds where no live counter-example exists, so the childless
	// p4 is vacuously in.
	if got := matchingPosts(t, db, nice("every")); !reflect.DeepEqual(got, []string{"p1", "p4"}) {
		t.Fatalf("every: %v", got)
	}
}

func TestNotAndRewriteKeepsRowSet(t *testing.T) {
	db := openFixtureDB(t)

	notAnd := map[string]any{"NOT": map[string]any{"AND": []any{
		map[string]any{"status": "published"},
		map[string]any{"views": map[string]any{"gt": 10}},
	}}}
	orOfNots := map[string]any{"OR": []any{
		map[string]any{"NOT": map[string]any{"status": "published"}},
		map[string]any{"NOT": map[string]any{"views": map[string]any{"gt": 10}}},
	}}

	left := matchingPosts(t, db, notAnd)
	right := matchingPosts(t, db, orOfNots)
	if !reflect.DeepEqual(left, right) {
		t.Fatalf("rewrite changed the row set: %v vs %v", left, right)
	}
	// only p1 is published with views above 10
	if !reflect.DeepEqual(left, []string{"p2", "p3", "p4"}) {
		t.Fatalf("unexpected rows: %v", left)
	}
}
