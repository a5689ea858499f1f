// Package tools exposes the session manager to MCP clients, so agents can
// run searches through the same coordinator and tracker the CLI uses.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/sesh/internal/session"
)

// Deps holds dependencies for the MCP server.
type Deps struct {
	Coordinator *session.Coordinator
	Dispatcher  *session.Dispatcher
	Tracker     *session.Tracker
}

// NewServer creates an MCP server with all sesh tools registered.
func NewServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"sesh",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("sesh — conversation and search session manager for the hosted search service."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search",
			mcp.WithDescription("Run a search in the active conversation group and return the answer."),
			mcp.WithString("query", mcp.Description("The search query"), mcp.Required()),
			mcp.WithString("model", mcp.Description("Optional model id to answer with")),
		),
		toolSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("list_groups",
			mcp.WithDescription("List the conversation groups known to the service, newest first is not guaranteed."),
		),
		toolListGroups(deps),
	)

	s.AddTool(
		mcp.NewTool("new_group",
			mcp.WithDescription("Create a fresh conversation group and make it active."),
		),
		toolNewGroup(deps),
	)

	s.AddTool(
		mcp.NewTool("pending_searches",
			mcp.WithDescription("List searches still awaiting a result, most recent first."),
		),
		toolPendingSearches(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_finished_searches",
			mcp.WithDescription("Remove completed and failed search records; cancelled records are kept."),
		),
		toolClearFinished(deps),
	)

	return s
}

func toolSearch(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		model := req.GetString("model", "")

		turn, err := deps.Dispatcher.Run(ctx, query, session.SearchOptions{ModelID: model})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcpText(turn.Response.Message), nil
	}
}

func toolListGroups(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		groups, err := deps.Coordinator.RefreshGroups(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list groups: %v", err)), nil
		}
		b, err := json.Marshal(groups)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal groups: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func toolNewGroup(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		g, err := deps.Coordinator.CreateNewGroup(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to create group: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Created and activated group %s (%s)", g.ID, g.Name)), nil
	}
}

func toolPendingSearches(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pending := deps.Tracker.Pending()
		b, err := json.Marshal(pending)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal pending searches: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func toolClearFinished(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		removed, err := deps.Tracker.ClearCompleted()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to clear searches: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Removed %d finished search records", removed)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
