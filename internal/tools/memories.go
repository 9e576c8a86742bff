package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/temple/internal/broker"
)

func registerMemoryTools(s *server.MCPServer, deps *Deps) {
	s.AddTool(mcp.NewTool("store_memory",
		mcp.WithDescription("Store a text memory. Identical content maps to the same memory id, so re-storing is idempotent. Defaults to the most specific active scope."),
		mcp.WithString("content", mcp.Required(), mcp.Description("The text to remember")),
		mcp.WithArray("tags", mcp.Description("Tags for later filtering")),
		mcp.WithObject("metadata", mcp.Description("String-keyed metadata")),
		mcp.WithString("scope", mcp.Description("Target scope: global, project:<name> or session:<id>. Defaults to the active context.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		content := strArg(args, "content")
		if content == "" {
			return mcp.NewToolResultError("content is required"), nil
		}
		mem, created, err := deps.Broker.StoreMemory(content, strSliceArg(args, "tags"), strMapArg(args, "metadata"), strArg(args, "scope"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"memory": mem, "created": created})
	})

	s.AddTool(mcp.NewTool("retrieve_memory",
		mcp.WithDescription("Semantic search across all active scopes, ranked by scope specificity then similarity."),
		mcp.WithString("query", mcp.Required(), mcp.Description("What to search for")),
		mcp.WithNumber("n_results", mcp.Description("Maximum results (default 5)")),
		mcp.WithArray("tags", mcp.Description("Only return memories carrying all of these tags")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		query := strArg(args, "query")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		mems, err := deps.Broker.RetrieveMemories(query, intArg(args, "n_results"), strSliceArg(args, "tags"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"memories": mems, "count": len(mems)})
	})

	s.AddTool(mcp.NewTool("recall_memory",
		mcp.WithDescription("Fetch one memory by its id."),
		mcp.WithString("memory_id", mcp.Required(), mcp.Description("The memory id (content hash)")),
		mcp.WithString("scope", mcp.Description("Scope to look in. Defaults to walking the active scopes.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		mem, err := deps.Broker.GetMemory(strArg(args, "memory_id"), strArg(args, "scope"))
		if err == broker.ErrNotFound {
			return mcp.NewToolResultError("memory not found"), nil
		}
		if err != nil {
			return errResult(err)
		}
		return jsonResult(mem)
	})

	s.AddTool(mcp.NewTool("search_memories",
		mcp.WithDescription("List memories carrying every given tag, newest first within each scope tier."),
		mcp.WithArray("tags", mcp.Required(), mcp.Description("Tags that must all be present")),
		mcp.WithNumber("n_results", mcp.Description("Maximum results (default 20)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		tags := strSliceArg(args, "tags")
		if len(tags) == 0 {
			return mcp.NewToolResultError("at least one tag is required"), nil
		}
		mems, err := deps.Broker.SearchByTags(tags, intArg(args, "n_results"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"memories": mems, "count": len(mems)})
	})

	s.AddTool(mcp.NewTool("delete_memory",
		mcp.WithDescription("Delete a memory by id."),
		mcp.WithString("memory_id", mcp.Required(), mcp.Description("The memory id")),
		mcp.WithString("scope", mcp.Description("Scope to delete from. Defaults to the first active scope containing it.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		deleted, err := deps.Broker.DeleteMemory(strArg(args, "memory_id"), strArg(args, "scope"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"deleted": deleted})
	})
}
