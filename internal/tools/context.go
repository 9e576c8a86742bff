package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerContextTools(s *server.MCPServer, deps *Deps) {
	s.AddTool(mcp.NewTool("set_context",
		mcp.WithDescription("Switch the active project and/or session. Pass an empty string to clear a tier; omit a field to leave it alone."),
		mcp.WithString("project", mcp.Description("Project name, or empty to clear")),
		mcp.WithString("session", mcp.Description("Session id, or empty to clear")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := toolArgs(req)
		var project, session *string
		if v, ok := args["project"].(string); ok {
			project = &v
		}
		if v, ok := args["session"].(string); ok {
			session = &v
		}
		return jsonResult(deps.Broker.SetContext(project, session))
	})

	s.AddTool(mcp.NewTool("get_context",
		mcp.WithDescription("Show the active project, session and scope list."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(deps.Broker.GetContext())
	})

	s.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List every project that has stored memories."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projects, err := deps.Broker.ListProjects()
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"projects": projects})
	})

	s.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List live sessions. Sessions idle past the TTL are swept first and will not appear."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessions, err := deps.Broker.ListSessions()
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"sessions": sessions})
	})
}
