package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/temple/internal/logging"
)

// MigrationResult reports what a legacy schema migration did.
type MigrationResult struct {
	Migrated   bool   `json:"migrated"`
	Schema     string `json:"schema"`
	Entities   int    `json:"entities_migrated"`
	Relations  int    `json:"relations_migrated"`
	Skipped    int    `json:"relations_skipped"`
	BackupPath string `json:"backup_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

// legacyEntity mirrors one row of the name-keyed layout.
type legacyEntity struct {
	Name         string   `json:"name"`
	Type         string   `json:"entity_type"`
	Scope        string   `json:"scope"`
	Observations []string `json:"observations"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// legacyRelation mirrors one row of the name-keyed relations table.
type legacyRelation struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"relation_type"`
	Scope      string  `json:"scope"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"created_at"`
}

type legacyBackup struct {
	Schema        string           `json:"schema"`
	ExportedAt    string           `json:"exported_at"`
	EntityCount   int              `json:"entity_count"`
	RelationCount int              `json:"relation_count"`
	Entities      []legacyEntity   `json:"entities"`
	Relations     []legacyRelation `json:"relations"`
}

// MigrateLegacySchema converts a name-keyed database to the current
// layout: snapshot everything to a JSON backup, then drop, recreate and
// reinsert with fresh surrogate ids inside one transaction, relinking
// relations by (scope, name) with a name-only fallback. Relations whose
// endpoints cannot be resolved are counted as skipped, never fatal. A
// database already on the current schema is a no-op.
func (g *DB) MigrateLegacySchema(backupPath string) *MigrationResult {
	if g.schema == SchemaV2 {
		return &MigrationResult{Migrated: false, Schema: SchemaV2.String()}
	}

	entities, relations, err := g.readLegacy()
	if err != nil {
		return &MigrationResult{Schema: g.schema.String(), Error: err.Error()}
	}

	if backupPath == "" {
		backupPath = fmt.Sprintf("%s_legacy_backup_%d.json", g.path, time.Now().Unix())
	}
	backup := legacyBackup{
		Schema:        SchemaLegacy.String(),
		ExportedAt:    nowUTC(),
		EntityCount:   len(entities),
		RelationCount: len(relations),
		Entities:      entities,
		Relations:     relations,
	}
	data, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return &MigrationResult{Schema: g.schema.String(), Error: fmt.Sprintf("failed to encode backup: %v", err)}
	}
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return &MigrationResult{Schema: g.schema.String(), Error: fmt.Sprintf("failed to write backup: %v", err)}
	}
	logging.Info("graph", "wrote legacy backup: %s (%d entities, %d relations)",
		backupPath, len(entities), len(relations))

	// All destructive work in one transaction so a failure leaves the
	// legacy tables exactly as they were.
	tx, err := g.db.Begin()
	if err != nil {
		return &MigrationResult{Schema: g.schema.String(), BackupPath: backupPath, Error: err.Error()}
	}
	defer tx.Rollback()

	fail := func(step string, err error) *MigrationResult {
		logging.Error("graph", "migration failed at %s: %v", step, err)
		return &MigrationResult{
			Schema:     g.schema.String(),
			BackupPath: backupPath,
			Error:      fmt.Sprintf("%s: %v", step, err),
		}
	}

	if _, err := tx.Exec(`DROP TABLE IF EXISTS relations`); err != nil {
		return fail("drop relations", err)
	}
	if _, err := tx.Exec(`DROP TABLE IF EXISTS entities`); err != nil {
		return fail("drop entities", err)
	}
	if _, err := tx.Exec(`
		CREATE TABLE entities (
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
		CREATE TABLE relations (
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
	`); err != nil {
		return fail("recreate tables", err)
	}

	// Reinsert entities under fresh surrogate ids, remembering both the
	// exact (scope, name) key and a name-only fallback for relinking.
	idByScopeName := make(map[string]string, len(entities))
	idByName := make(map[string]string, len(entities))
	for _, e := range entities {
		id := uuid.New().String()
		obs, _ := json.Marshal(e.Observations)
		created := e.CreatedAt
		if created == "" {
			created = nowUTC()
		}
		updated := e.UpdatedAt
		if updated == "" {
			updated = created
		}
		if _, err := tx.Exec(`
			INSERT INTO entities (id, name, entity_type, scope, observations, confidence, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 1.0, ?, ?)
		`, id, e.Name, e.Type, e.Scope, string(obs), created, updated); err != nil {
			return fail(fmt.Sprintf("reinsert entity %s", e.Name), err)
		}
		idByScopeName[e.Scope+"\x00"+e.Name] = id
		if _, dup := idByName[e.Name]; !dup {
			idByName[e.Name] = id
		}
	}

	resolve := func(scope, name string) (string, bool) {
		if id, ok := idByScopeName[scope+"\x00"+name]; ok {
			return id, true
		}
		id, ok := idByName[name]
		return id, ok
	}

	migrated, skipped := 0, 0
	for _, r := range relations {
		srcID, okSrc := resolve(r.Scope, r.Source)
		tgtID, okTgt := resolve(r.Scope, r.Target)
		if !okSrc || !okTgt {
			skipped++
			continue
		}
		created := r.CreatedAt
		if created == "" {
			created = nowUTC()
		}
		confidence := r.Confidence
		if confidence == 0 {
			confidence = 1.0
		}
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO relations (id, source_id, target_id, relation_type, scope, confidence, provenance, created_at)
			VALUES (?, ?, ?, ?, ?, ?, '{}', ?)
		`, uuid.New().String(), srcID, tgtID, r.Type, r.Scope, confidence, created); err != nil {
			return fail(fmt.Sprintf("relink %s->%s", r.Source, r.Target), err)
		}
		migrated++
	}

	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}
	g.schema = SchemaV2

	logging.Info("graph", "migration complete: %d entities, %d relations (%d skipped)",
		len(entities), migrated, skipped)
	return &MigrationResult{
		Migrated:   true,
		Schema:     SchemaV2.String(),
		Entities:   len(entities),
		Relations:  migrated,
		Skipped:    skipped,
		BackupPath: backupPath,
	}
}

// readLegacy loads the legacy tables column-tolerantly: older files
// lack the scope column (default global) and store observations either
// as a JSON array or pipe-joined.
func (g *DB) readLegacy() ([]legacyEntity, []legacyRelation, error) {
	entityRows, err := g.queryDynamic(`SELECT * FROM entities`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read legacy entities: %w", err)
	}

	var entities []legacyEntity
	for _, row := range entityRows {
		e := legacyEntity{
			Name:      row["name"],
			Type:      row["entity_type"],
			Scope:     row["scope"],
			CreatedAt: row["created_at"],
			UpdatedAt: row["updated_at"],
		}
		if e.Name == "" {
			continue
		}
		if e.Type == "" {
			e.Type = "concept"
		}
		if e.Scope == "" {
			e.Scope = "global"
		}
		e.Observations = parseLegacyObservations(row["observations"])
		entities = append(entities, e)
	}

	var relations []legacyRelation
	if g.tableExists("relations") {
		relationRows, err := g.queryDynamic(`SELECT * FROM relations`)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read legacy relations: %w", err)
		}
		for _, row := range relationRows {
			r := legacyRelation{
				Source:    row["source"],
				Target:    row["target"],
				Type:      row["relation_type"],
				Scope:     row["scope"],
				CreatedAt: row["created_at"],
			}
			if r.Source == "" || r.Target == "" {
				continue
			}
			if r.Type == "" {
				r.Type = "related_to"
			}
			if r.Scope == "" {
				r.Scope = "global"
			}
			fmt.Sscanf(row["confidence"], "%f", &r.Confidence)
			relations = append(relations, r)
		}
	}

	return entities, relations, nil
}

// queryDynamic runs a query and returns rows as column-name maps with
// every value rendered as a string.
func (g *DB) queryDynamic(query string) ([]map[string]string, error) {
	rows, err := g.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]string
	for rows.Next() {
		values := make([]any, len(cols))
		for i := range values {
			values[i] = new(any)
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		row := make(map[string]string, len(cols))
		for i, col := range cols {
			v := *(values[i].(*any))
			switch t := v.(type) {
			case nil:
				row[col] = ""
			case []byte:
				row[col] = string(t)
			default:
				row[col] = fmt.Sprintf("%v", t)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (g *DB) tableExists(name string) bool {
	var found string
	err := g.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&found)
	return err == nil
}

func parseLegacyObservations(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var obs []string
	if err := json.Unmarshal([]byte(raw), &obs); err == nil {
		return obs
	}
	parts := strings.Split(raw, "|")
	obs = make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			obs = append(obs, p)
		}
	}
	return obs
}
