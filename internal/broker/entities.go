package broker

import (
	"github.com/vthunder/temple/internal/graph"
	"github.com/vthunder/temple/internal/logging"
	"github.com/vthunder/temple/internal/scope"
)

// EntityDef is one entity in a create batch.
type EntityDef struct {
	Name         string   `json:"name"`
	Type         string   `json:"entity_type"`
	Observations []string `json:"observations,omitempty"`
}

// RelationDef is one relation in a create batch.
type RelationDef struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"relation_type"`
}

// CreateResult reports per-item outcomes of a batch create.
type CreateResult struct {
	Created  []string `json:"created"`
	Existing []string `json:"existing"`
}

// CreateEntities creates each definition in the target scope. Existing
// (name, scope) pairs are reported rather than duplicated.
func (b *Broker) CreateEntities(defs []EntityDef, scopeOverride string) (*CreateResult, error) {
	sc, err := b.ctx.StoreScope(scopeOverride)
	if err != nil {
		return nil, err
	}

	result := &CreateResult{}
	for _, def := range defs {
		entityType := def.Type
		if entityType == "" {
			entityType = "concept"
		}
		created, err := b.graph.CreateEntity(def.Name, entityType, def.Observations, sc.String(), 1.0)
		if err != nil {
			return nil, err
		}
		if created {
			result.Created = append(result.Created, def.Name)
			b.audit.Record("entity_created", sc.String(), map[string]any{
				"name": def.Name, "entity_type": entityType, "origin": "api",
			})
		} else {
			result.Existing = append(result.Existing, def.Name)
		}
	}
	return result, nil
}

// GetEntity finds a name in the given scope, or walks the active scopes
// highest precedence first when no scope is given.
func (b *Broker) GetEntity(name, scopeOverride string) (*graph.Entity, error) {
	if scopeOverride != "" {
		sc, err := scope.Parse(scopeOverride)
		if err != nil {
			return nil, err
		}
		ent, err := b.graph.GetEntity(name, sc.String())
		if err != nil {
			return nil, err
		}
		if ent == nil {
			return nil, ErrNotFound
		}
		return ent, nil
	}

	for _, sc := range b.ctx.GraphReadScopes() {
		ent, err := b.graph.GetEntity(name, sc.String())
		if err != nil {
			return nil, err
		}
		if ent != nil {
			return ent, nil
		}
	}
	return nil, ErrNotFound
}

// SearchEntities filters by type within one scope, or across all active
// scopes when none is given.
func (b *Broker) SearchEntities(entityType, scopeOverride string, limit int) ([]graph.Entity, error) {
	if limit <= 0 {
		limit = 50
	}
	if scopeOverride != "" {
		sc, err := scope.Parse(scopeOverride)
		if err != nil {
			return nil, err
		}
		return b.graph.SearchEntities(entityType, sc.String(), limit)
	}

	var out []graph.Entity
	for _, sc := range b.ctx.GraphReadScopes() {
		ents, err := b.graph.SearchEntities(entityType, sc.String(), limit-len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, ents...)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// UpdateEntity applies the optional fields to a (name, scope) pair.
func (b *Broker) UpdateEntity(name, scopeOverride string, update graph.EntityUpdate) (bool, error) {
	ent, err := b.GetEntity(name, scopeOverride)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	applied, err := b.graph.UpdateEntity(name, ent.Scope, update)
	if applied {
		b.audit.Record("entity_updated", ent.Scope, map[string]any{"name": name})
	}
	return applied, err
}

// DeleteEntity removes an entity and its relations.
func (b *Broker) DeleteEntity(name, scopeOverride string) (bool, error) {
	ent, err := b.GetEntity(name, scopeOverride)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	deleted, err := b.graph.DeleteEntity(name, ent.Scope)
	if deleted {
		b.audit.Record("entity_deleted", ent.Scope, map[string]any{"name": name})
	}
	return deleted, err
}

// AddObservations appends new facts to the entity holding name, found
// by the usual scope walk.
func (b *Broker) AddObservations(name, scopeOverride string, observations []string) (bool, error) {
	ent, err := b.GetEntity(name, scopeOverride)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	applied, err := b.graph.AddObservations(name, ent.Scope, observations)
	if applied {
		b.audit.Record("observations_added", ent.Scope, map[string]any{
			"name": name, "count": len(observations),
		})
	}
	return applied, err
}

// RemoveObservations drops matching facts from the entity.
func (b *Broker) RemoveObservations(name, scopeOverride string, observations []string) (bool, error) {
	ent, err := b.GetEntity(name, scopeOverride)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	applied, err := b.graph.RemoveObservations(name, ent.Scope, observations)
	if applied {
		b.audit.Record("observations_removed", ent.Scope, map[string]any{
			"name": name, "count": len(observations),
		})
	}
	return applied, err
}

// CreateRelations creates each definition in the target scope. Both
// endpoints must already exist there; definitions that fail the
// endpoint check or already exist land in Existing.
func (b *Broker) CreateRelations(defs []RelationDef, scopeOverride string) (*CreateResult, error) {
	sc, err := b.ctx.StoreScope(scopeOverride)
	if err != nil {
		return nil, err
	}

	result := &CreateResult{}
	for _, def := range defs {
		created, err := b.graph.CreateRelation(def.Source, def.Target, def.Type, sc.String(), 1.0, map[string]string{"origin": "api"})
		if err != nil {
			return nil, err
		}
		key := def.Source + " -> " + def.Target
		if created {
			result.Created = append(result.Created, key)
			b.audit.Record("relation_created", sc.String(), map[string]any{
				"source": def.Source, "target": def.Target, "relation_type": def.Type,
				"origin": "api",
			})
		} else {
			result.Existing = append(result.Existing, key)
		}
	}
	return result, nil
}

// DeleteRelation removes one edge from the target scope.
func (b *Broker) DeleteRelation(source, target, relationType, scopeOverride string) (bool, error) {
	sc, err := b.ctx.StoreScope(scopeOverride)
	if err != nil {
		return false, err
	}
	deleted, err := b.graph.DeleteRelation(source, target, relationType, sc.String())
	if deleted {
		b.audit.Record("relation_deleted", sc.String(), map[string]any{
			"source": source, "target": target, "relation_type": relationType,
		})
	}
	return deleted, err
}

// GetRelations lists edges touching name. Without a scope override the
// active scopes are aggregated highest precedence first.
func (b *Broker) GetRelations(name, scopeOverride, direction string) ([]graph.Relation, error) {
	if scopeOverride != "" {
		sc, err := scope.Parse(scopeOverride)
		if err != nil {
			return nil, err
		}
		return b.graph.GetRelations(name, sc.String(), direction)
	}

	var out []graph.Relation
	for _, sc := range b.ctx.GraphReadScopes() {
		rels, err := b.graph.GetRelations(name, sc.String(), direction)
		if err != nil {
			logging.Warn("broker", "relation read failed for %s: %v", sc, err)
			continue
		}
		out = append(out, rels...)
	}
	return out, nil
}

// FindPath searches for a directed path between two entities in scope.
func (b *Broker) FindPath(source, target, scopeOverride string, maxHops int) (*graph.Path, error) {
	sc, err := b.ctx.StoreScope(scopeOverride)
	if err != nil {
		return nil, err
	}
	return b.graph.FindPath(source, target, sc.String(), maxHops)
}
