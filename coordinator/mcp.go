package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/a11ypanel/report"
)

// RegisterMCP registers the coordinator tools on an MCP server.
func (c *Coordinator) RegisterMCP(srv *mcp.Server) {
	c.registerScanTool(srv)
	c.registerCachedTool(srv)
	c.registerArchivesTool(srv)
	if c.opener != nil {
		c.registerOpenTool(srv)
	}
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

// registerTool wraps fn as a tool returning its result as JSON text.
// Argument and endpoint errors become tool errors.
func registerTool[Req any](srv *mcp.Server, tool *mcp.Tool, fn func(context.Context, Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r Req
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}
		resp, err := fn(ctx, r)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- scan ---

type scanReq struct {
	TabID report.TabID `json:"tab_id"`
	URL   string       `json:"url"`
}

type scanResp struct {
	report.ScanComplete
	Counts map[report.Severity]int `json:"counts"`
}

func (c *Coordinator) registerScanTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "a11y_scan",
		Description: "Scan a tab for accessibility issues with the selected archive and policy.",
		InputSchema: inputSchema(map[string]any{
			"tab_id": map[string]any{"type": "integer", "description": "Tab to scan"},
			"url":    map[string]any{"type": "string", "description": "Expected tab URL (defaults to the tab's current URL)"},
		}, []string{"tab_id"}),
	}
	registerTool(srv, tool, func(ctx context.Context, r scanReq) (any, error) {
		sc, err := c.Scan(ctx, report.ScanRequest{TabID: r.TabID, TabURL: r.URL})
		if err != nil {
			return nil, err
		}
		return scanResp{ScanComplete: sc, Counts: sc.Report.Counts()}, nil
	})
}

// --- cached ---

func (c *Coordinator) registerCachedTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "a11y_cached",
		Description: "Return the last scan of a tab if it was produced for the given URL.",
		InputSchema: inputSchema(map[string]any{
			"tab_id": map[string]any{"type": "integer", "description": "Tab id"},
			"url":    map[string]any{"type": "string", "description": "URL the result must match"},
		}, []string{"tab_id", "url"}),
	}
	registerTool(srv, tool, func(ctx context.Context, r scanReq) (any, error) {
		sc, ok := c.Cached(ctx, r.TabID, r.URL)
		if !ok {
			return nil, fmt.Errorf("no cached scan for tab %d at %s", r.TabID, r.URL)
		}
		return scanResp{ScanComplete: sc, Counts: sc.Report.Counts()}, nil
	})
}

// --- archives ---

func (c *Coordinator) registerArchivesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "a11y_archives",
		Description: "List the rule archives and their policies.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(_ context.Context, _ struct{}) (any, error) {
		return map[string]any{"archives": c.Archives()}, nil
	})
}

// --- open ---

type openReq struct {
	URL string `json:"url"`
}

func (c *Coordinator) registerOpenTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "a11y_open",
		Description: "Open a page in a new tab and return its tab id for a11y_scan.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Page URL"},
		}, []string{"url"}),
	}
	registerTool(srv, tool, func(ctx context.Context, r openReq) (any, error) {
		if r.URL == "" {
			return nil, errors.New("url is required")
		}
		return c.opener.Open(ctx, r.URL)
	})
}
