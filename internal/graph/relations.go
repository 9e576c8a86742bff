package graph

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/vthunder/temple/internal/logging"
)

// Relation is a directed, typed edge between two entities in one scope.
type Relation struct {
	ID         string            `json:"id"`
	SourceID   string            `json:"source_id"`
	TargetID   string            `json:"target_id"`
	Source     string            `json:"source"`
	Target     string            `json:"target"`
	Type       string            `json:"relation_type"`
	Scope      string            `json:"scope"`
	Confidence float64           `json:"confidence"`
	Provenance map[string]string `json:"provenance,omitempty"`
	CreatedAt  string            `json:"created_at"`
}

const relationColumns = `r.id, r.source_id, r.target_id, s.name, t.name, r.relation_type, r.scope,
	r.confidence, r.provenance, r.created_at`

const relationJoin = `FROM relations r
	JOIN entities s ON s.id = r.source_id
	JOIN entities t ON t.id = r.target_id`

// CreateRelation links two entities that must both already exist in the
// scope. Returns false when an endpoint is missing or the identical
// relation already exists.
func (g *DB) CreateRelation(source, target, relationType, scope string, confidence float64, provenance map[string]string) (bool, error) {
	if g.schema != SchemaV2 {
		return false, ErrLegacySchema
	}
	if relationType == "" {
		relationType = "related_to"
	}

	src, err := g.GetEntity(source, scope)
	if err != nil {
		return false, err
	}
	tgt, err := g.GetEntity(target, scope)
	if err != nil {
		return false, err
	}
	if src == nil || tgt == nil {
		return false, nil
	}

	// Duplicate check first so the unique constraint never surfaces as
	// an error on the happy path.
	var existingID string
	err = g.db.QueryRow(
		`SELECT id FROM relations WHERE source_id = ? AND target_id = ? AND relation_type = ?`,
		src.ID, tgt.ID, relationType,
	).Scan(&existingID)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to check relation: %w", err)
	}

	prov := "{}"
	if len(provenance) > 0 {
		b, _ := json.Marshal(provenance)
		prov = string(b)
	}
	_, err = g.db.Exec(`
		INSERT INTO relations (id, source_id, target_id, relation_type, scope, confidence, provenance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), src.ID, tgt.ID, relationType, scope, confidence, prov, nowUTC())
	if err != nil {
		return false, fmt.Errorf("failed to create relation %s-[%s]->%s: %w", source, relationType, target, err)
	}
	logging.Debug("graph", "created relation %s -[%s]-> %s in %s", source, relationType, target, scope)
	return true, nil
}

// DeleteRelation removes one edge. Returns false when it does not exist.
func (g *DB) DeleteRelation(source, target, relationType, scope string) (bool, error) {
	if g.schema != SchemaV2 {
		return false, ErrLegacySchema
	}

	src, err := g.GetEntity(source, scope)
	if err != nil {
		return false, err
	}
	tgt, err := g.GetEntity(target, scope)
	if err != nil {
		return false, err
	}
	if src == nil || tgt == nil {
		return false, nil
	}

	res, err := g.db.Exec(
		`DELETE FROM relations WHERE source_id = ? AND target_id = ? AND relation_type = ?`,
		src.ID, tgt.ID, relationType,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete relation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetRelations lists edges touching an entity. Direction is "out", "in"
// or "both".
func (g *DB) GetRelations(name, scope, direction string) ([]Relation, error) {
	if g.schema != SchemaV2 {
		return nil, ErrLegacySchema
	}

	entity, err := g.GetEntity(name, scope)
	if err != nil || entity == nil {
		return nil, err
	}

	var where string
	var args []any
	switch direction {
	case "out":
		where = `r.source_id = ?`
		args = []any{entity.ID}
	case "in":
		where = `r.target_id = ?`
		args = []any{entity.ID}
	default:
		where = `(r.source_id = ? OR r.target_id = ?)`
		args = []any{entity.ID, entity.ID}
	}

	rows, err := g.db.Query(
		`SELECT `+relationColumns+` `+relationJoin+` WHERE `+where+` ORDER BY r.created_at`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get relations for %s: %w", name, err)
	}
	defer rows.Close()
	return scanRelationRows(rows)
}

// RelationsInScope returns every edge in a scope; empty scope means all.
func (g *DB) RelationsInScope(scope string) ([]Relation, error) {
	if g.schema != SchemaV2 {
		return nil, ErrLegacySchema
	}

	query := `SELECT ` + relationColumns + ` ` + relationJoin
	var args []any
	if scope != "" {
		query += ` WHERE r.scope = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY r.created_at`

	rows, err := g.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list relations: %w", err)
	}
	defer rows.Close()
	return scanRelationRows(rows)
}

// RelationCount counts edges, optionally restricted to one scope.
func (g *DB) RelationCount(scope string) (int, error) {
	if g.schema != SchemaV2 {
		return 0, ErrLegacySchema
	}
	var n int
	var err error
	if scope == "" {
		err = g.db.QueryRow(`SELECT COUNT(*) FROM relations`).Scan(&n)
	} else {
		err = g.db.QueryRow(`SELECT COUNT(*) FROM relations WHERE scope = ?`, scope).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count relations: %w", err)
	}
	return n, nil
}

// DeleteScope wipes every entity and relation in a scope and reports
// how many of each were removed. Used by the session TTL sweep.
func (g *DB) DeleteScope(scope string) (entities, relations int, err error) {
	if g.schema != SchemaV2 {
		return 0, 0, ErrLegacySchema
	}

	tx, err := g.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin scope delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM relations WHERE scope = ?`, scope)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete relations in %s: %w", scope, err)
	}
	r, _ := res.RowsAffected()

	res, err = tx.Exec(`DELETE FROM entities WHERE scope = ?`, scope)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete entities in %s: %w", scope, err)
	}
	e, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	logging.Info("graph", "deleted scope %s: %d entities, %d relations", scope, e, r)
	return int(e), int(r), nil
}

// Path is a traversal result: nodes visited in order and the edges
// connecting them.
type Path struct {
	Nodes []Entity   `json:"nodes"`
	Edges []Relation `json:"edges"`
}

// FindPath returns a directed path from source to target within maxHops
// edges, or nil when none exists. The result is the first path found by
// depth-first traversal, not necessarily the shortest.
func (g *DB) FindPath(source, target, scope string, maxHops int) (*Path, error) {
	if g.schema != SchemaV2 {
		return nil, ErrLegacySchema
	}
	if maxHops <= 0 {
		maxHops = 3
	}

	src, err := g.GetEntity(source, scope)
	if err != nil {
		return nil, err
	}
	tgt, err := g.GetEntity(target, scope)
	if err != nil {
		return nil, err
	}
	if src == nil || tgt == nil {
		return nil, nil
	}

	// Load the scope's adjacency once; graphs per scope stay small
	// enough that one query beats per-hop round trips.
	edges, err := g.RelationsInScope(scope)
	if err != nil {
		return nil, err
	}
	adjacency := make(map[string][]Relation)
	for _, e := range edges {
		adjacency[e.SourceID] = append(adjacency[e.SourceID], e)
	}

	visited := map[string]bool{src.ID: true}
	var walk func(fromID string, depth int) []Relation
	walk = func(fromID string, depth int) []Relation {
		if depth >= maxHops {
			return nil
		}
		for _, edge := range adjacency[fromID] {
			if edge.TargetID == tgt.ID {
				return []Relation{edge}
			}
			if visited[edge.TargetID] {
				continue
			}
			visited[edge.TargetID] = true
			if rest := walk(edge.TargetID, depth+1); rest != nil {
				return append([]Relation{edge}, rest...)
			}
		}
		return nil
	}

	chain := walk(src.ID, 0)
	if chain == nil {
		return nil, nil
	}

	path := &Path{Nodes: []Entity{*src}, Edges: chain}
	for _, edge := range chain {
		node, err := g.getEntityByID(edge.TargetID)
		if err != nil {
			return nil, err
		}
		if node != nil {
			path.Nodes = append(path.Nodes, *node)
		}
	}
	return path, nil
}

func scanRelationRows(rows *sql.Rows) ([]Relation, error) {
	var relations []Relation
	for rows.Next() {
		var r Relation
		var prov string
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Source, &r.Target,
			&r.Type, &r.Scope, &r.Confidence, &prov, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		if prov != "" && prov != "{}" {
			if err := json.Unmarshal([]byte(prov), &r.Provenance); err != nil {
				r.Provenance = nil
			}
		}
		relations = append(relations, r)
	}
	return relations, rows.Err()
}
