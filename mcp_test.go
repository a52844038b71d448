package domguard

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testImpl = &mcp.Implementation{Name: "domguard-test", Version: "0.1.0"}

func mcpSession(t *testing.T, g *Guard) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testImpl, nil)
	g.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(testImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): got %T", name, res.Content[0])
	}
	return tc.Text, res.IsError
}

func TestMCP_Tools(t *testing.T) {
	g, s := startGuard(t, testConfig("remove"))
	session := mcpSession(t, g)

	tools, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"domguard_status", "domguard_guard_page", "domguard_navigate", "domguard_release", "domguard_events"} {
		if !names[want] {
			t.Errorf("missing tool %s", want)
		}
	}

	if text, isErr := callTool(t, session, "domguard_guard_page", map[string]any{"id": "a", "url": "https://a.test/"}); isErr {
		t.Fatalf("guard_page: %s", text)
	}
	waitFor(t, "cleaned", func() bool { return targets(s.target("a")) == 0 })

	text, isErr := callTool(t, session, "domguard_status", map[string]any{})
	if isErr {
		t.Fatalf("status: %s", text)
	}
	var st []PageStatus
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatal(err)
	}
	if len(st) != 1 || !st[0].Stats.Active {
		t.Errorf("status: %+v", st)
	}

	if text, isErr := callTool(t, session, "domguard_navigate", map[string]any{"id": "a", "url": "https://b.test/"}); isErr {
		t.Fatalf("navigate: %s", text)
	}
	if _, isErr := callTool(t, session, "domguard_events", map[string]any{}); !isErr {
		t.Error("events without sqlite sink should be a tool error")
	}
	if text, isErr := callTool(t, session, "domguard_release", map[string]any{"id": "a"}); isErr {
		t.Fatalf("release: %s", text)
	}
	if _, isErr := callTool(t, session, "domguard_release", map[string]any{"id": "a"}); !isErr {
		t.Error("second release should be a tool error")
	}
}
