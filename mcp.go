package domguard

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domguard/kit"
)

// RegisterMCP registers the domguard tools on an MCP server.
func (g *Guard) RegisterMCP(srv *mcp.Server) {
	ep := g.endpoints()

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "domguard_status",
		Description: "List guarded pages with their watcher state: live pollers and observers, polls, mutation batches, suppressed elements, restarts.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, ep.status, kit.DecodeJSON[statusRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "domguard_guard_page",
		Description: "Open a page and keep the target element out of it.",
		InputSchema: inputSchema(map[string]any{
			"id":            map[string]any{"type": "string", "description": "Page ID (generated when empty)"},
			"url":           map[string]any{"type": "string", "description": "Page URL"},
			"stealth_level": map[string]any{"type": "string", "enum": []any{"headless", "headful"}, "description": "Browser mode (default from config)"},
		}, []string{"url"}),
	}, ep.guard, kit.DecodeJSON[guardRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "domguard_navigate",
		Description: "Navigate a guarded page. Its watcher restarts on the new document.",
		InputSchema: inputSchema(map[string]any{
			"id":  map[string]any{"type": "string", "description": "Page ID"},
			"url": map[string]any{"type": "string", "description": "New URL"},
		}, []string{"id", "url"}),
	}, ep.navigate, kit.DecodeJSON[navigateRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "domguard_release",
		Description: "Stop guarding a page and close it.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Page ID"},
		}, []string{"id"}),
	}, ep.release, kit.DecodeJSON[releaseRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "domguard_events",
		Description: "Recent suppression events from the sqlite sink, newest first.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Filter by page ID"},
			"limit":   map[string]any{"type": "integer", "description": "Max events (default 100)"},
		}, nil),
	}, ep.events, kit.DecodeJSON[eventsRequest]())
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
