// Package graph stores entities and relations in SQLite. Entity
// identity is the (name, scope) pair backed by a surrogate id; a legacy
// layout keyed by name alone is detected at open time and can be
// migrated in place (see migrate.go).
package graph

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vthunder/temple/internal/logging"
)

// SchemaVersion identifies the live table layout, determined once at
// open time rather than re-probed on every call.
type SchemaVersion int

const (
	SchemaNone SchemaVersion = iota // fresh database, no tables yet
	SchemaLegacy
	SchemaV2
)

func (v SchemaVersion) String() string {
	switch v {
	case SchemaLegacy:
		return "legacy"
	case SchemaV2:
		return "v2"
	default:
		return "none"
	}
}

// ErrLegacySchema is returned by operations that need the current
// schema while the database is still on the legacy layout.
var ErrLegacySchema = fmt.Errorf("graph database uses the legacy schema; run migration first")

// DB wraps the graph database.
type DB struct {
	db     *sql.DB
	path   string
	schema SchemaVersion
}

// Open opens (or creates) the graph database at path. A fresh database
// is initialized on the current schema; an existing legacy database is
// left untouched and flagged for migration.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open graph db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping graph db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	g := &DB{db: db, path: path}
	g.schema, err = detectSchema(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	if g.schema == SchemaNone {
		if err := g.initSchema(); err != nil {
			db.Close()
			return nil, err
		}
		g.schema = SchemaV2
	}

	logging.Info("graph", "opened %s (schema %s)", path, g.schema)
	return g, nil
}

// Close releases the underlying database.
func (g *DB) Close() error {
	return g.db.Close()
}

// Ping reports whether the backend is reachable.
func (g *DB) Ping() error {
	return g.db.Ping()
}

// Path returns the database file path.
func (g *DB) Path() string {
	return g.path
}

// Schema returns the layout detected at open time.
func (g *DB) Schema() SchemaVersion {
	return g.schema
}

// IsLegacySchema reports whether migration is required.
func (g *DB) IsLegacySchema() bool {
	return g.schema == SchemaLegacy
}

// detectSchema probes for the entities table and its surrogate id
// column. No entities table means a fresh database; an entities table
// without the id column is the legacy name-keyed layout.
func detectSchema(db *sql.DB) (SchemaVersion, error) {
	var name string
	err := db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'entities'`,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return SchemaNone, nil
	}
	if err != nil {
		return SchemaNone, fmt.Errorf("failed to probe schema: %w", err)
	}

	hasID, err := tableHasColumn(db, "entities", "id")
	if err != nil {
		return SchemaNone, err
	}
	if hasID {
		return SchemaV2, nil
	}
	return SchemaLegacy, nil
}

func tableHasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// initSchema creates the current table layout.
func (g *DB) initSchema() error {
	_, err := g.db.Exec(`
		CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			entity_type TEXT NOT NULL DEFAULT 'concept',
			scope TEXT NOT NULL,
			observations TEXT NOT NULL DEFAULT '[]',
			confidence REAL NOT NULL DEFAULT 1.0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(name, scope)
		);
		CREATE INDEX IF NOT EXISTS idx_entities_scope ON entities(scope);
		CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);

		CREATE TABLE IF NOT EXISTS relations (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			target_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			relation_type TEXT NOT NULL,
			scope TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 1.0,
			provenance TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			UNIQUE(source_id, target_id, relation_type)
		);
		CREATE INDEX IF NOT EXISTS idx_relations_scope ON relations(scope);
		CREATE INDEX IF NOT EXISTS idx_relations_source ON relations(source_id);
		CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to init graph schema: %w", err)
	}
	return nil
}

// Scopes lists every scope that holds at least one entity or relation.
func (g *DB) Scopes() ([]string, error) {
	if g.schema != SchemaV2 {
		return nil, ErrLegacySchema
	}
	rows, err := g.db.Query(`
		SELECT DISTINCT scope FROM entities
		UNION
		SELECT DISTINCT scope FROM relations
		ORDER BY scope
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}

// Stats returns per-table row counts.
func (g *DB) Stats() (map[string]int, error) {
	stats := make(map[string]int)
	for _, table := range []string{"entities", "relations"} {
		var count int
		if err := g.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}

// timestampLayout is RFC3339 with a fixed-width nanosecond fraction.
// Sub-second precision keeps updated_at ordering deterministic for rows
// touched within the same second, and the fixed width keeps lexicographic
// ORDER BY on the TEXT column consistent with chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nowUTC() string {
	return time.Now().UTC().Format(timestampLayout)
}
