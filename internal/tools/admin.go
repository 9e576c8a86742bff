package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerAdminTools(s *server.MCPServer, deps *Deps) {
	s.AddTool(mcp.NewTool("get_stats",
		mcp.WithDescription("Memory, entity, relation, job and review counts per scope, plus the active context."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Broker.GetStats()
		if err != nil {
			return errResult(err)
		}
		return jsonResult(stats)
	})

	s.AddTool(mcp.NewTool("export_graph",
		mcp.WithDescription("Dump entities and relations, for one scope or all active scopes."),
		mcp.WithString("scope", mcp.Description("Scope to export. Defaults to all active scopes.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		export, err := deps.Broker.ExportGraph(strArg(args, "scope"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(export)
	})

	s.AddTool(mcp.NewTool("check_health",
		mcp.WithDescription("Ping the vector, graph and audit backends and sample process resource usage."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(deps.Broker.CheckHealth())
	})

	s.AddTool(mcp.NewTool("migrate_graph_schema",
		mcp.WithDescription("Migrate a legacy name-keyed graph database to the scoped schema. Writes a JSON backup first. Safe no-op when already current."),
		mcp.WithString("backup_path", mcp.Description("Where to write the backup (defaults next to the database)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		return jsonResult(deps.Broker.MigrateGraph(strArg(args, "backup_path")))
	})

	s.AddTool(mcp.NewTool("compact_audit_log",
		mcp.WithDescription("Trim a scope's audit log to its newest entries."),
		mcp.WithString("scope", mcp.Required(), mcp.Description("Scope whose audit file to compact")),
		mcp.WithNumber("keep", mcp.Description("Entries to keep (default 1000)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		dropped, err := deps.Broker.CompactAuditLog(strArg(args, "scope"), intArg(args, "keep"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"dropped": dropped})
	})
}
