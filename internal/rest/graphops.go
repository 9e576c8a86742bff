package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vthunder/temple/internal/broker"
	"github.com/vthunder/temple/internal/graph"
)

type createEntitiesRequest struct {
	Entities []broker.EntityDef `json:"entities"`
	Scope    string             `json:"scope"`
}

func (s *Server) handleCreateEntities(c *fiber.Ctx) error {
	var req createEntitiesRequest
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}
	if len(req.Entities) == 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: "entities is required"})
	}
	for _, def := range req.Entities {
		if def.Name == "" {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: "entity name is required"})
		}
	}

	result, err := s.broker.CreateEntities(req.Entities, req.Scope)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (s *Server) handleSearchEntities(c *fiber.Ctx) error {
	entities, err := s.broker.SearchEntities(
		c.Query("entity_type"), c.Query("scope"), c.QueryInt("limit"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"entities": entities, "count": len(entities)})
}

func (s *Server) handleGetEntity(c *fiber.Ctx) error {
	ent, err := s.broker.GetEntity(c.Params("name"), c.Query("scope"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(ent)
}

type updateEntityRequest struct {
	EntityType   *string   `json:"entity_type"`
	Observations *[]string `json:"observations"`
}

func (s *Server) handleUpdateEntity(c *fiber.Ctx) error {
	var req updateEntityRequest
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}

	applied, err := s.broker.UpdateEntity(c.Params("name"), c.Query("scope"), graph.EntityUpdate{
		Type:         req.EntityType,
		Observations: req.Observations,
	})
	if err != nil {
		return respondError(c, err)
	}
	if !applied {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "not found"})
	}
	return c.JSON(fiber.Map{"updated": true})
}

func (s *Server) handleDeleteEntity(c *fiber.Ctx) error {
	deleted, err := s.broker.DeleteEntity(c.Params("name"), c.Query("scope"))
	if err != nil {
		return respondError(c, err)
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "not found"})
	}
	return c.JSON(fiber.Map{"deleted": true})
}

type observationsRequest struct {
	Observations []string `json:"observations"`
}

func (s *Server) handleAddObservations(c *fiber.Ctx) error {
	var req observationsRequest
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}
	if len(req.Observations) == 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: "observations is required"})
	}

	applied, err := s.broker.AddObservations(c.Params("name"), c.Query("scope"), req.Observations)
	if err != nil {
		return respondError(c, err)
	}
	if !applied {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "not found"})
	}
	return c.JSON(fiber.Map{"updated": true})
}

func (s *Server) handleRemoveObservations(c *fiber.Ctx) error {
	var req observationsRequest
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}

	applied, err := s.broker.RemoveObservations(c.Params("name"), c.Query("scope"), req.Observations)
	if err != nil {
		return respondError(c, err)
	}
	if !applied {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "not found"})
	}
	return c.JSON(fiber.Map{"updated": true})
}

type createRelationsRequest struct {
	Relations []broker.RelationDef `json:"relations"`
	Scope     string               `json:"scope"`
}

func (s *Server) handleCreateRelations(c *fiber.Ctx) error {
	var req createRelationsRequest
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}
	if len(req.Relations) == 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: "relations is required"})
	}

	result, err := s.broker.CreateRelations(req.Relations, req.Scope)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

type deleteRelationRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"relation_type"`
	Scope  string `json:"scope"`
}

func (s *Server) handleDeleteRelation(c *fiber.Ctx) error {
	var req deleteRelationRequest
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}

	deleted, err := s.broker.DeleteRelation(req.Source, req.Target, req.Type, req.Scope)
	if err != nil {
		return respondError(c, err)
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "not found"})
	}
	return c.JSON(fiber.Map{"deleted": true})
}

func (s *Server) handleGetRelations(c *fiber.Ctx) error {
	direction := c.Query("direction", "both")
	rels, err := s.broker.GetRelations(c.Params("name"), c.Query("scope"), direction)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"relations": rels, "count": len(rels)})
}

// handleRelationshipMap walks the neighborhood of one entity breadth
// first, up to depth hops (1..4) and limit edges (max 1000).
func (s *Server) handleRelationshipMap(c *fiber.Ctx) error {
	depth := c.QueryInt("depth", 2)
	if depth < 1 {
		depth = 1
	}
	if depth > 4 {
		depth = 4
	}
	limit := c.QueryInt("limit", 200)
	if limit < 1 || limit > 1000 {
		limit = 1000
	}

	name := c.Params("name")
	scopeName := c.Query("scope")
	seen := map[string]struct{}{name: {}}
	frontier := []string{name}
	edges := make(map[string]graph.Relation)

	for hop := 0; hop < depth && len(frontier) > 0 && len(edges) < limit; hop++ {
		var next []string
		for _, entity := range frontier {
			rels, err := s.broker.GetRelations(entity, scopeName, "both")
			if err != nil {
				return respondError(c, err)
			}
			for _, rel := range rels {
				if len(edges) >= limit {
					break
				}
				edges[rel.ID] = rel
				for _, neighbor := range []string{rel.Source, rel.Target} {
					if _, ok := seen[neighbor]; !ok {
						seen[neighbor] = struct{}{}
						next = append(next, neighbor)
					}
				}
			}
		}
		frontier = next
	}

	out := make([]graph.Relation, 0, len(edges))
	for _, rel := range edges {
		out = append(out, rel)
	}
	nodes := make([]string, 0, len(seen))
	for node := range seen {
		nodes = append(nodes, node)
	}
	return c.JSON(fiber.Map{
		"root": name, "depth": depth,
		"nodes": nodes, "relations": out,
	})
}

func (s *Server) handleFindPath(c *fiber.Ctx) error {
	source, target := c.Query("source"), c.Query("target")
	if source == "" || target == "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: "source and target are required"})
	}

	path, err := s.broker.FindPath(source, target, c.Query("scope"), c.QueryInt("max_hops", 3))
	if err != nil {
		return respondError(c, err)
	}
	if path == nil {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "no path found"})
	}
	return c.JSON(path)
}
