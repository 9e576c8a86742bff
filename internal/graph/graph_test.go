package graph

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "graph-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	g, err := Open(filepath.Join(dir, "graph.db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to open graph db: %v", err)
	}
	return g, func() {
		g.Close()
		os.RemoveAll(dir)
	}
}

func mustCreateEntity(t *testing.T, g *DB, name, entityType, scope string) {
	t.Helper()
	created, err := g.CreateEntity(name, entityType, nil, scope, 1.0)
	if err != nil {
		t.Fatalf("CreateEntity(%s) failed: %v", name, err)
	}
	if !created {
		t.Fatalf("CreateEntity(%s) returned false", name)
	}
}

func TestCreateEntityScopedUniqueness(t *testing.T) {
	g, cleanup := setupTestDB(t)
	defer cleanup()

	mustCreateEntity(t, g, "Alice", "person", "global")

	// Same name, same scope: rejected.
	created, err := g.CreateEntity("Alice", "person", nil, "global", 1.0)
	if err != nil || created {
		t.Errorf("duplicate create = %v, %v; want false, nil", created, err)
	}

	// Same name, different scope: independent entity.
	created, err = g.CreateEntity("Alice", "person", nil, "project:apollo", 1.0)
	if err != nil || !created {
		t.Errorf("cross-scope create = %v, %v; want true, nil", created, err)
	}

	global, err := g.GetEntity("Alice", "global")
	if err != nil || global == nil {
		t.Fatalf("GetEntity global failed: %v", err)
	}
	proj, err := g.GetEntity("Alice", "project:apollo")
	if err != nil || proj == nil {
		t.Fatalf("GetEntity project failed: %v", err)
	}
	if global.ID == proj.ID {
		t.Error("entities in different scopes share a surrogate id")
	}
}

func TestGetEntityScopelessFallback(t *testing.T) {
	g, cleanup := setupTestDB(t)
	defer cleanup()

	mustCreateEntity(t, g, "Docker", "technology", "global")
	mustCreateEntity(t, g, "Docker", "technology", "session:s1")

	// Touch the session copy so it is the most recently updated.
	obs := []string{"updated"}
	if _, err := g.UpdateEntity("Docker", "session:s1", EntityUpdate{Observations: &obs}); err != nil {
		t.Fatal(err)
	}

	e, err := g.GetEntity("Docker", "")
	if err != nil || e == nil {
		t.Fatalf("scopeless get failed: %v", err)
	}
	if e.Scope != "session:s1" {
		t.Errorf("scopeless get returned %s, want most recently updated", e.Scope)
	}
}

func TestUpdateAndObservations(t *testing.T) {
	g, cleanup := setupTestDB(t)
	defer cleanup()

	mustCreateEntity(t, g, "Apollo", "project", "global")

	newType := "concept"
	applied, err := g.UpdateEntity("Apollo", "global", EntityUpdate{Type: &newType})
	if err != nil || !applied {
		t.Fatalf("UpdateEntity = %v, %v", applied, err)
	}

	if _, err := g.AddObservations("Apollo", "global", []string{"fact one", "fact two", "fact one"}); err != nil {
		t.Fatal(err)
	}
	e, _ := g.GetEntity("Apollo", "global")
	if len(e.Observations) != 2 {
		t.Errorf("observations = %v, want deduped pair", e.Observations)
	}
	if e.Type != "concept" {
		t.Errorf("type = %s, want updated", e.Type)
	}

	if _, err := g.RemoveObservations("Apollo", "global", []string{"fact one"}); err != nil {
		t.Fatal(err)
	}
	e, _ = g.GetEntity("Apollo", "global")
	if len(e.Observations) != 1 || e.Observations[0] != "fact two" {
		t.Errorf("observations after remove = %v", e.Observations)
	}

	applied, err = g.UpdateEntity("Missing", "global", EntityUpdate{Type: &newType})
	if err != nil || applied {
		t.Errorf("update of missing entity = %v, %v; want false, nil", applied, err)
	}
}

func TestRelationEndpointsAndDedup(t *testing.T) {
	g, cleanup := setupTestDB(t)
	defer cleanup()

	mustCreateEntity(t, g, "bob", "person", "global")

	// Target missing: rejected.
	created, err := g.CreateRelation("bob", "alice", "collaborates_with", "global", 0.9, nil)
	if err != nil || created {
		t.Errorf("relation with missing endpoint = %v, %v; want false, nil", created, err)
	}

	mustCreateEntity(t, g, "alice", "person", "global")
	created, err = g.CreateRelation("bob", "alice", "collaborates_with", "global", 0.9, nil)
	if err != nil || !created {
		t.Fatalf("relation create = %v, %v; want true, nil", created, err)
	}

	// Identical 4-tuple: no-op.
	created, err = g.CreateRelation("bob", "alice", "collaborates_with", "global", 0.9, nil)
	if err != nil || created {
		t.Errorf("duplicate relation = %v, %v; want false, nil", created, err)
	}

	out, err := g.GetRelations("bob", "global", "out")
	if err != nil || len(out) != 1 {
		t.Fatalf("out relations = %v, %v", out, err)
	}
	if out[0].Source != "bob" || out[0].Target != "alice" {
		t.Errorf("relation endpoints = %s -> %s", out[0].Source, out[0].Target)
	}

	in, err := g.GetRelations("alice", "global", "in")
	if err != nil || len(in) != 1 {
		t.Errorf("in relations = %v, %v", in, err)
	}
}

func TestDeleteEntityCascades(t *testing.T) {
	g, cleanup := setupTestDB(t)
	defer cleanup()

	mustCreateEntity(t, g, "bob", "person", "global")
	mustCreateEntity(t, g, "alice", "person", "global")
	mustCreateEntity(t, g, "carol", "person", "global")
	g.CreateRelation("bob", "alice", "works_with", "global", 1.0, nil)
	g.CreateRelation("carol", "bob", "manages", "global", 1.0, nil)

	deleted, err := g.DeleteEntity("bob", "global")
	if err != nil || !deleted {
		t.Fatalf("DeleteEntity = %v, %v", deleted, err)
	}

	n, err := g.RelationCount("global")
	if err != nil || n != 0 {
		t.Errorf("relations after cascade = %d (%v), want 0", n, err)
	}
	if e, _ := g.GetEntity("alice", "global"); e == nil {
		t.Error("cascade deleted an unrelated entity")
	}
}

func TestFindPathBounded(t *testing.T) {
	g, cleanup := setupTestDB(t)
	defer cleanup()

	for _, name := range []string{"a", "b", "c", "d"} {
		mustCreateEntity(t, g, name, "concept", "global")
	}
	g.CreateRelation("a", "b", "related_to", "global", 1.0, nil)
	g.CreateRelation("b", "c", "related_to", "global", 1.0, nil)
	g.CreateRelation("c", "d", "related_to", "global", 1.0, nil)

	path, err := g.FindPath("a", "d", "global", 3)
	if err != nil {
		t.Fatalf("FindPath failed: %v", err)
	}
	if path == nil || len(path.Edges) != 3 {
		t.Fatalf("path = %v, want 3 hops", path)
	}
	if path.Nodes[0].Name != "a" || path.Nodes[len(path.Nodes)-1].Name != "d" {
		t.Errorf("path endpoints wrong: %v", path.Nodes)
	}

	// Too few hops allowed: no path.
	path, err = g.FindPath("a", "d", "global", 2)
	if err != nil || path != nil {
		t.Errorf("bounded path = %v, %v; want nil, nil", path, err)
	}

	// Unknown endpoint: nil, not an error.
	path, err = g.FindPath("a", "zz", "global", 3)
	if err != nil || path != nil {
		t.Errorf("path to missing entity = %v, %v; want nil, nil", path, err)
	}
}

func TestDeleteScope(t *testing.T) {
	g, cleanup := setupTestDB(t)
	defer cleanup()

	mustCreateEntity(t, g, "keep", "concept", "global")
	mustCreateEntity(t, g, "x", "concept", "session:s1")
	mustCreateEntity(t, g, "y", "concept", "session:s1")
	g.CreateRelation("x", "y", "related_to", "session:s1", 1.0, nil)

	entities, relations, err := g.DeleteScope("session:s1")
	if err != nil {
		t.Fatalf("DeleteScope failed: %v", err)
	}
	if entities != 2 || relations != 1 {
		t.Errorf("DeleteScope counts = %d, %d; want 2, 1", entities, relations)
	}
	if e, _ := g.GetEntity("keep", "global"); e == nil {
		t.Error("global entity lost in scope delete")
	}
}

// writeLegacyDB builds a name-keyed database the way older deployments
// left it on disk.
func writeLegacyDB(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE entities (
			name TEXT PRIMARY KEY,
			entity_type TEXT,
			scope TEXT,
			observations TEXT,
			created_at TEXT,
			updated_at TEXT
		);
		CREATE TABLE relations (
			source TEXT,
			target TEXT,
			relation_type TEXT,
			scope TEXT,
			confidence REAL,
			created_at TEXT
		);
	`)
	if err != nil {
		t.Fatal(err)
	}

	rows := [][]any{
		{"alice", "person", "global", "knows Go|likes coffee", "2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z"},
		{"bob", "person", "global", `["works remotely"]`, "2024-01-02T00:00:00Z", "2024-01-02T00:00:00Z"},
		{"apollo", "project", "project:apollo", "", "2024-01-03T00:00:00Z", "2024-01-03T00:00:00Z"},
	}
	for _, r := range rows {
		if _, err := db.Exec(`INSERT INTO entities VALUES (?, ?, ?, ?, ?, ?)`, r...); err != nil {
			t.Fatal(err)
		}
	}
	relations := [][]any{
		{"alice", "bob", "collaborates_with", "global", 0.9, "2024-01-04T00:00:00Z"},
		{"bob", "apollo", "works_with", "global", 0.8, "2024-01-04T00:00:00Z"}, // resolves via name fallback
		{"alice", "ghost", "related_to", "global", 0.7, "2024-01-04T00:00:00Z"}, // unresolvable target
	}
	for _, r := range relations {
		if _, err := db.Exec(`INSERT INTO relations VALUES (?, ?, ?, ?, ?, ?)`, r...); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLegacyDetectionAndMigration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.db")
	writeLegacyDB(t, path)

	g, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open legacy db: %v", err)
	}
	defer g.Close()

	if !g.IsLegacySchema() {
		t.Fatal("legacy schema not detected")
	}
	if _, err := g.GetEntity("alice", "global"); err != ErrLegacySchema {
		t.Errorf("read on legacy schema = %v, want ErrLegacySchema", err)
	}

	backupPath := filepath.Join(dir, "backup.json")
	res := g.MigrateLegacySchema(backupPath)
	if !res.Migrated {
		t.Fatalf("migration failed: %s", res.Error)
	}
	if res.Entities != 3 || res.Relations != 2 || res.Skipped != 1 {
		t.Errorf("migration counts = %d/%d/%d, want 3/2/1", res.Entities, res.Relations, res.Skipped)
	}

	// Backup reflects exactly the legacy content.
	data, err := os.ReadFile(backupPath)
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	var backup legacyBackup
	if err := json.Unmarshal(data, &backup); err != nil {
		t.Fatalf("backup not valid JSON: %v", err)
	}
	if backup.EntityCount != 3 || backup.RelationCount != 3 {
		t.Errorf("backup counts = %d/%d, want 3/3", backup.EntityCount, backup.RelationCount)
	}

	// Pipe-joined observations parsed into a list.
	alice, err := g.GetEntity("alice", "global")
	if err != nil || alice == nil {
		t.Fatalf("alice missing after migration: %v", err)
	}
	if len(alice.Observations) != 2 {
		t.Errorf("alice observations = %v", alice.Observations)
	}
	if alice.ID == "" {
		t.Error("migrated entity has no surrogate id")
	}

	// Relink by name fallback landed bob -> apollo despite scope mismatch.
	rels, err := g.GetRelations("bob", "global", "out")
	if err != nil || len(rels) != 1 || rels[0].Target != "apollo" {
		t.Errorf("fallback relink = %v, %v", rels, err)
	}

	// Re-running on the current schema is a no-op.
	res = g.MigrateLegacySchema("")
	if res.Migrated || res.Schema != "v2" {
		t.Errorf("repeat migration = %+v, want no-op on v2", res)
	}
}

func TestStats(t *testing.T) {
	g, cleanup := setupTestDB(t)
	defer cleanup()

	mustCreateEntity(t, g, "a", "concept", "global")
	mustCreateEntity(t, g, "b", "concept", "global")
	g.CreateRelation("a", "b", "related_to", "global", 1.0, nil)

	stats, err := g.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["entities"] != 2 || stats["relations"] != 1 {
		t.Errorf("stats = %v", stats)
	}
}
