package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/temple/internal/broker"
	"github.com/vthunder/temple/internal/graph"
)

func registerGraphTools(s *server.MCPServer, deps *Deps) {
	s.AddTool(mcp.NewTool("create_entities",
		mcp.WithDescription("Create entities in a scope. Each item needs a name; entity_type defaults to concept. Existing (name, scope) pairs are reported, not duplicated."),
		mcp.WithArray("entities", mcp.Required(), mcp.Description("Items of {name, entity_type, observations}")),
		mcp.WithString("scope", mcp.Description("Target scope. Defaults to the active context.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		raw, _ := args["entities"].([]any)
		if len(raw) == 0 {
			return mcp.NewToolResultError("entities is required"), nil
		}
		var defs []broker.EntityDef
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			defs = append(defs, broker.EntityDef{
				Name:         strArg(m, "name"),
				Type:         strArg(m, "entity_type"),
				Observations: strSliceArg(m, "observations"),
			})
		}
		result, err := deps.Broker.CreateEntities(defs, strArg(args, "scope"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(result)
	})

	s.AddTool(mcp.NewTool("get_entity",
		mcp.WithDescription("Fetch one entity by name, searching the active scopes most specific first."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Entity name")),
		mcp.WithString("scope", mcp.Description("Exact scope to look in")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		ent, err := deps.Broker.GetEntity(strArg(args, "name"), strArg(args, "scope"))
		if err == broker.ErrNotFound {
			return mcp.NewToolResultError("entity not found"), nil
		}
		if err != nil {
			return errResult(err)
		}
		return jsonResult(ent)
	})

	s.AddTool(mcp.NewTool("search_entities",
		mcp.WithDescription("List entities, optionally filtered by type and scope."),
		mcp.WithString("entity_type", mcp.Description("Filter by type, e.g. person or technology")),
		mcp.WithString("scope", mcp.Description("Scope to search; defaults to all active scopes")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 50)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		ents, err := deps.Broker.SearchEntities(strArg(args, "entity_type"), strArg(args, "scope"), intArg(args, "limit"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"entities": ents, "count": len(ents)})
	})

	s.AddTool(mcp.NewTool("update_entity",
		mcp.WithDescription("Change an entity's type and/or replace its observations."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Entity name")),
		mcp.WithString("scope", mcp.Description("Scope of the entity")),
		mcp.WithString("entity_type", mcp.Description("New type")),
		mcp.WithArray("observations", mcp.Description("Replacement observation list")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		update := graph.EntityUpdate{}
		if t := strArg(args, "entity_type"); t != "" {
			update.Type = &t
		}
		if _, ok := args["observations"]; ok {
			obs := strSliceArg(args, "observations")
			update.Observations = &obs
		}
		applied, err := deps.Broker.UpdateEntity(strArg(args, "name"), strArg(args, "scope"), update)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"updated": applied})
	})

	s.AddTool(mcp.NewTool("delete_entity",
		mcp.WithDescription("Delete an entity and every relation touching it."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Entity name")),
		mcp.WithString("scope", mcp.Description("Scope of the entity")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		deleted, err := deps.Broker.DeleteEntity(strArg(args, "name"), strArg(args, "scope"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"deleted": deleted})
	})

	s.AddTool(mcp.NewTool("add_observations",
		mcp.WithDescription("Append facts to an entity. Duplicates are skipped."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Entity name")),
		mcp.WithArray("observations", mcp.Required(), mcp.Description("Facts to add")),
		mcp.WithString("scope", mcp.Description("Scope of the entity")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		applied, err := deps.Broker.AddObservations(strArg(args, "name"), strArg(args, "scope"), strSliceArg(args, "observations"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"updated": applied})
	})

	s.AddTool(mcp.NewTool("remove_observations",
		mcp.WithDescription("Remove matching facts from an entity."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Entity name")),
		mcp.WithArray("observations", mcp.Required(), mcp.Description("Facts to remove")),
		mcp.WithString("scope", mcp.Description("Scope of the entity")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		applied, err := deps.Broker.RemoveObservations(strArg(args, "name"), strArg(args, "scope"), strSliceArg(args, "observations"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"updated": applied})
	})

	s.AddTool(mcp.NewTool("create_relations",
		mcp.WithDescription("Create directed typed relations. Both endpoints must already exist in the target scope."),
		mcp.WithArray("relations", mcp.Required(), mcp.Description("Items of {source, target, relation_type}")),
		mcp.WithString("scope", mcp.Description("Target scope. Defaults to the active context.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		raw, _ := args["relations"].([]any)
		if len(raw) == 0 {
			return mcp.NewToolResultError("relations is required"), nil
		}
		var defs []broker.RelationDef
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			defs = append(defs, broker.RelationDef{
				Source: strArg(m, "source"),
				Target: strArg(m, "target"),
				Type:   strArg(m, "relation_type"),
			})
		}
		result, err := deps.Broker.CreateRelations(defs, strArg(args, "scope"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(result)
	})

	s.AddTool(mcp.NewTool("delete_relation",
		mcp.WithDescription("Delete one relation by its (source, target, type) triple."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source entity name")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target entity name")),
		mcp.WithString("relation_type", mcp.Required(), mcp.Description("Relation type")),
		mcp.WithString("scope", mcp.Description("Target scope")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		deleted, err := deps.Broker.DeleteRelation(
			strArg(args, "source"), strArg(args, "target"),
			strArg(args, "relation_type"), strArg(args, "scope"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"deleted": deleted})
	})

	s.AddTool(mcp.NewTool("get_relations",
		mcp.WithDescription("List relations touching an entity."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Entity name")),
		mcp.WithString("direction", mcp.Description("out, in or both (default both)")),
		mcp.WithString("scope", mcp.Description("Scope to search; defaults to all active scopes")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		direction := strArg(args, "direction")
		if direction == "" {
			direction = "both"
		}
		rels, err := deps.Broker.GetRelations(strArg(args, "name"), strArg(args, "scope"), direction)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"relations": rels, "count": len(rels)})
	})

	s.AddTool(mcp.NewTool("find_path",
		mcp.WithDescription("Find a directed path between two entities within a hop bound. Returns the first path found, not necessarily the shortest."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Start entity name")),
		mcp.WithString("target", mcp.Required(), mcp.Description("End entity name")),
		mcp.WithNumber("max_hops", mcp.Description("Hop bound (default 3)")),
		mcp.WithString("scope", mcp.Description("Scope to search")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		path, err := deps.Broker.FindPath(
			strArg(args, "source"), strArg(args, "target"),
			strArg(args, "scope"), intArg(args, "max_hops"))
		if err != nil {
			return errResult(err)
		}
		if path == nil {
			return mcp.NewToolResultText("no path found"), nil
		}
		return jsonResult(path)
	})
}
