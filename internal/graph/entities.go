package graph

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/vthunder/temple/internal/logging"
)

// Entity is a named graph node scoped to one tier.
type Entity struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"entity_type"`
	Scope        string   `json:"scope"`
	Observations []string `json:"observations"`
	Confidence   float64  `json:"confidence"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// EntityUpdate names the fields an update may change. Nil means leave
// the field as is.
type EntityUpdate struct {
	Type         *string
	Observations *[]string
	Confidence   *float64
}

const entityColumns = `id, name, entity_type, scope, observations, confidence, created_at, updated_at`

// CreateEntity inserts a new entity. Returns false without touching the
// database when one already exists for that name and scope.
func (g *DB) CreateEntity(name, entityType string, observations []string, scope string, confidence float64) (bool, error) {
	if g.schema != SchemaV2 {
		return false, ErrLegacySchema
	}
	if name == "" {
		return false, fmt.Errorf("entity name is required")
	}
	if entityType == "" {
		entityType = "concept"
	}
	if observations == nil {
		observations = []string{}
	}

	existing, err := g.GetEntity(name, scope)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	obs, _ := json.Marshal(observations)
	now := nowUTC()
	_, err = g.db.Exec(`
		INSERT INTO entities (id, name, entity_type, scope, observations, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), name, entityType, scope, string(obs), confidence, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to create entity %s: %w", name, err)
	}
	logging.Debug("graph", "created entity %s in %s", name, scope)
	return true, nil
}

// GetEntity fetches an entity by name within a scope. An empty scope is
// the legacy-compatible fallback: the most recently updated match
// across all scopes. Returns nil when nothing matches.
func (g *DB) GetEntity(name, scope string) (*Entity, error) {
	if g.schema != SchemaV2 {
		return nil, ErrLegacySchema
	}

	var row *sql.Row
	if scope == "" {
		row = g.db.QueryRow(
			`SELECT `+entityColumns+` FROM entities WHERE name = ? ORDER BY updated_at DESC LIMIT 1`,
			name,
		)
	} else {
		row = g.db.QueryRow(
			`SELECT `+entityColumns+` FROM entities WHERE name = ? AND scope = ?`,
			name, scope,
		)
	}

	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", name, err)
	}
	return e, nil
}

// getEntityByID fetches an entity by surrogate id.
func (g *DB) getEntityByID(id string) (*Entity, error) {
	row := g.db.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", id, err)
	}
	return e, nil
}

// UpdateEntity applies the non-nil fields of update. Returns false when
// the entity does not exist.
func (g *DB) UpdateEntity(name, scope string, update EntityUpdate) (bool, error) {
	if g.schema != SchemaV2 {
		return false, ErrLegacySchema
	}

	entity, err := g.GetEntity(name, scope)
	if err != nil {
		return false, err
	}
	if entity == nil {
		return false, nil
	}

	if update.Type != nil {
		entity.Type = *update.Type
	}
	if update.Observations != nil {
		entity.Observations = *update.Observations
	}
	if update.Confidence != nil {
		entity.Confidence = *update.Confidence
	}

	obs, _ := json.Marshal(entity.Observations)
	_, err = g.db.Exec(`
		UPDATE entities SET entity_type = ?, observations = ?, confidence = ?, updated_at = ?
		WHERE id = ?
	`, entity.Type, string(obs), entity.Confidence, nowUTC(), entity.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update entity %s: %w", name, err)
	}
	return true, nil
}

// DeleteEntity removes an entity and every relation touching it in
// either direction. Returns false when the entity does not exist.
func (g *DB) DeleteEntity(name, scope string) (bool, error) {
	if g.schema != SchemaV2 {
		return false, ErrLegacySchema
	}

	entity, err := g.GetEntity(name, scope)
	if err != nil {
		return false, err
	}
	if entity == nil {
		return false, nil
	}

	tx, err := g.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM relations WHERE source_id = ? OR target_id = ?`,
		entity.ID, entity.ID,
	); err != nil {
		return false, fmt.Errorf("failed to cascade relations for %s: %w", name, err)
	}
	if _, err := tx.Exec(`DELETE FROM entities WHERE id = ?`, entity.ID); err != nil {
		return false, fmt.Errorf("failed to delete entity %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	logging.Debug("graph", "deleted entity %s in %s", name, scope)
	return true, nil
}

// SearchEntities lists entities filtered by type and/or scope. Empty
// filters match everything.
func (g *DB) SearchEntities(entityType, scope string, limit int) ([]Entity, error) {
	if g.schema != SchemaV2 {
		return nil, ErrLegacySchema
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + entityColumns + ` FROM entities WHERE 1=1`
	var args []any
	if entityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, entityType)
	}
	if scope != "" {
		query += ` AND scope = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := g.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	defer rows.Close()
	return scanEntityRows(rows)
}

// EntitiesInScope returns every entity in a scope; an empty scope
// returns the full table. Used by export and migration.
func (g *DB) EntitiesInScope(scope string) ([]Entity, error) {
	if g.schema != SchemaV2 {
		return nil, ErrLegacySchema
	}

	query := `SELECT ` + entityColumns + ` FROM entities`
	var args []any
	if scope != "" {
		query += ` WHERE scope = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY name`

	rows, err := g.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()
	return scanEntityRows(rows)
}

// AddObservations appends new facts to an entity, skipping exact
// duplicates. Returns false when the entity does not exist.
func (g *DB) AddObservations(name, scope string, observations []string) (bool, error) {
	entity, err := g.GetEntity(name, scope)
	if err != nil || entity == nil {
		return false, err
	}

	seen := make(map[string]bool, len(entity.Observations))
	for _, o := range entity.Observations {
		seen[o] = true
	}
	merged := entity.Observations
	for _, o := range observations {
		if o != "" && !seen[o] {
			merged = append(merged, o)
			seen[o] = true
		}
	}
	return g.UpdateEntity(name, scope, EntityUpdate{Observations: &merged})
}

// RemoveObservations drops matching facts from an entity. Returns false
// when the entity does not exist.
func (g *DB) RemoveObservations(name, scope string, observations []string) (bool, error) {
	entity, err := g.GetEntity(name, scope)
	if err != nil || entity == nil {
		return false, err
	}

	drop := make(map[string]bool, len(observations))
	for _, o := range observations {
		drop[o] = true
	}
	kept := make([]string, 0, len(entity.Observations))
	for _, o := range entity.Observations {
		if !drop[o] {
			kept = append(kept, o)
		}
	}
	return g.UpdateEntity(name, scope, EntityUpdate{Observations: &kept})
}

// EntityCount counts entities, optionally restricted to one scope.
func (g *DB) EntityCount(scope string) (int, error) {
	if g.schema != SchemaV2 {
		return 0, ErrLegacySchema
	}
	var n int
	var err error
	if scope == "" {
		err = g.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&n)
	} else {
		err = g.db.QueryRow(`SELECT COUNT(*) FROM entities WHERE scope = ?`, scope).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var obs string
	if err := row.Scan(&e.ID, &e.Name, &e.Type, &e.Scope, &obs, &e.Confidence, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(obs), &e.Observations); err != nil {
		e.Observations = []string{}
	}
	return &e, nil
}

func scanEntityRows(rows *sql.Rows) ([]Entity, error) {
	var entities []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}
