package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/a11ypanel/engine"
	"github.com/hazyhaar/a11ypanel/report"
)

var testMCPImpl = &mcp.Implementation{Name: "a11ypanel-test", Version: "0.1.0"}

func mcpSession(t *testing.T, co *Coordinator) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	co.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) (string, error) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	if result.IsError {
		return "", errors.New(tc.Text)
	}
	return tc.Text, nil
}

func TestMCP_Archives(t *testing.T) {
	f := newFixture(t, engine.Func{ScanFn: oneIssue})
	session := mcpSession(t, f.co)

	text, err := mcpCall(t, session, "a11y_archives", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	var resp struct {
		Archives []report.Archive `json:"archives"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Archives) != 2 {
		t.Errorf("got %d archives, want 2", len(resp.Archives))
	}
}

func TestMCP_ScanThenCached(t *testing.T) {
	f := newFixture(t, engine.Func{ScanFn: oneIssue})
	session := mcpSession(t, f.co)

	text, err := mcpCall(t, session, "a11y_scan", map[string]any{"tab_id": 1})
	if err != nil {
		t.Fatal(err)
	}
	var resp struct {
		TabURL string                  `json:"tabURL"`
		Report *report.Report          `json:"report"`
		Counts map[report.Severity]int `json:"counts"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TabURL != "https://a.test/" || resp.Report == nil {
		t.Errorf("scan = %s", text)
	}
	if resp.Counts[report.Violation] != 1 {
		t.Errorf("counts = %v", resp.Counts)
	}

	if _, err := mcpCall(t, session, "a11y_cached", map[string]any{"tab_id": 1, "url": "https://a.test/"}); err != nil {
		t.Errorf("cached: %v", err)
	}
	_, err = mcpCall(t, session, "a11y_cached", map[string]any{"tab_id": 1, "url": "https://elsewhere.test/"})
	if err == nil || !strings.Contains(err.Error(), "no cached scan") {
		t.Errorf("got %v, want no cached scan error", err)
	}
}

func TestMCP_ScanError(t *testing.T) {
	f := newFixture(t, engine.Func{ScanFn: oneIssue})
	session := mcpSession(t, f.co)

	_, err := mcpCall(t, session, "a11y_scan", map[string]any{"tab_id": 42})
	if err == nil || !strings.Contains(err.Error(), "unknown tab") {
		t.Errorf("got %v, want unknown tab error", err)
	}
}

type openerFunc func(ctx context.Context, url string) (report.TabInfo, error)

func (f openerFunc) Open(ctx context.Context, url string) (report.TabInfo, error) { return f(ctx, url) }

func TestMCP_Open(t *testing.T) {
	opened := openerFunc(func(_ context.Context, url string) (report.TabInfo, error) {
		return report.TabInfo{ID: 7, URL: url}, nil
	})
	f := newFixture(t, engine.Func{ScanFn: oneIssue}, WithOpener(opened))
	session := mcpSession(t, f.co)

	text, err := mcpCall(t, session, "a11y_open", map[string]any{"url": "https://b.test/"})
	if err != nil {
		t.Fatal(err)
	}
	var tab report.TabInfo
	if err := json.Unmarshal([]byte(text), &tab); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tab.ID != 7 || tab.URL != "https://b.test/" {
		t.Errorf("tab = %+v", tab)
	}

	if _, err := mcpCall(t, session, "a11y_open", map[string]any{}); err == nil {
		t.Error("expected error for missing url")
	}
}
