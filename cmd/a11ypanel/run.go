package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/net/html"

	"github.com/hazyhaar/a11ypanel/dom"
	"github.com/hazyhaar/a11ypanel/internal/config"
	"github.com/hazyhaar/a11ypanel/internal/inspector"
	"github.com/hazyhaar/a11ypanel/internal/sink"
	"github.com/hazyhaar/a11ypanel/locator"
	"github.com/hazyhaar/a11ypanel/nodepath"
	"github.com/hazyhaar/a11ypanel/report"
	"github.com/hazyhaar/a11ypanel/session"
)

var version = "dev"

// locateDepth bounds how many nested frames runLocate fetches.
const locateDepth = 3

type locateResult struct {
	Path     string `json:"path"`
	Resolved string `json:"resolved"`
	HTML     string `json:"html"`
}

// runLocate loads a page without a browser and prints the element a node
// path resolves to. Resolved is shorter than Path when the walk stopped at
// a frame it could not enter.
func runLocate(ctx context.Context, logger *slog.Logger, w io.Writer, pageURL, path string) error {
	if _, err := nodepath.Parse(nodepath.Path(path)); err != nil {
		return err
	}
	doc, err := dom.Load(ctx, dom.DefaultFetcher{}, documentURL(pageURL), locateDepth, logger)
	if err != nil {
		return err
	}
	tree := dom.NewTree(doc)
	tree.AllowFileAccess = true
	n := nodepath.Decode(tree, doc, nodepath.Path(path))
	if n == nil {
		return fmt.Errorf("no element at %s", path)
	}
	el, ok := n.(*html.Node)
	if !ok {
		return fmt.Errorf("unexpected node %T", n)
	}
	logger.Debug("a11ypanel: located", "path", path, "tag", el.Data)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(locateResult{
		Path:     path,
		Resolved: string(nodepath.Encode(tree, n)),
		HTML:     dom.Render(el),
	})
}

// documentURL turns a bare filesystem path into a file: URL.
func documentURL(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		return raw
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return raw
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// runScan opens pageURL, mounts every configured surface on it, scans once
// from the main surface and streams each surface's view to the sinks until
// the scan settles. A selectIndex >= 0 then highlights that finding in the
// page.
func runScan(ctx context.Context, logger *slog.Logger, cfg *config.Config, pageURL string, selectIndex int) error {
	a, err := newApp(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	tab, err := a.tabs.Open(ctx, pageURL)
	if err != nil {
		return err
	}
	page, err := a.tabs.Page(ctx, tab.ID)
	if err != nil {
		return err
	}
	host := inspector.New(page, inspector.WithLogger(logger))
	if err := host.Start(ctx); err != nil {
		logger.Warn("a11ypanel: inspector unavailable", "error", err)
	}
	defer host.Close()

	pub := sink.NewPublisher(a.sinks, 64, logger)
	defer pub.Close()

	changed := make(chan struct{}, 1)
	notify := func(session.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	settledCh := make(chan bool, 1)
	clients := make([]*session.Client, 0, len(cfg.Surfaces))
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()
	for i, name := range cfg.Surfaces {
		port, err := a.hub.Connect(name)
		if err != nil {
			return err
		}
		locOpts := []locator.Option{locator.WithLogger(logger)}
		if i == 0 {
			locOpts = append(locOpts, locator.WithSettled(settledHook(settledCh)))
		}
		c := session.New(port, session.Config{
			Surface:        report.Surface(name),
			TabID:          tab.ID,
			DefaultArchive: cfg.Catalog.DefaultArchive,
			DefaultPolicy:  cfg.Catalog.DefaultPolicy,
			RetryDelay:     cfg.Scan.RetryDelay,
			Focused:        cfg.Scan.Focused,
		},
			session.WithLocator(locator.New(host, locOpts...)),
			session.WithSettings(a.settings),
			session.WithLogger(logger),
			session.OnChange(pub.Publish),
			session.OnChange(notify),
		)
		clients = append(clients, c)
		if err := c.Mount(ctx); err != nil {
			return fmt.Errorf("mount %s: %w", name, err)
		}
	}

	if err := clients[0].RequestScan(ctx); err != nil {
		return err
	}
	for !settled(clients) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
	st := clients[0].State()
	if st.Report == nil {
		return errors.New("scan produced no report")
	}
	logger.Info("a11ypanel: scan done", "tab_url", st.TabURL, "counts", st.Report.Counts())
	if selectIndex < 0 {
		return nil
	}
	found, err := highlight(ctx, clients[0], selectIndex, settledCh)
	if err != nil {
		return err
	}
	logger.Info("a11ypanel: finding highlighted", "index", selectIndex, "found", found)
	return nil
}

// settledHook forwards the locator's settled signal without blocking it.
func settledHook(ch chan<- bool) func(bool) {
	return func(found bool) {
		select {
		case ch <- found:
		default:
		}
	}
}

// highlight selects finding index on c and waits until the locator has
// resolved its node in the page.
func highlight(ctx context.Context, c *session.Client, index int, settled chan bool) (bool, error) {
	select {
	case <-settled:
	default:
	}
	if !c.SelectItem(ctx, index) {
		return false, fmt.Errorf("no finding %d in the report", index)
	}
	select {
	case found := <-settled:
		return found, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// settled reports whether the first surface's scan finished and every
// surface has either adopted it or failed.
func settled(clients []*session.Client) bool {
	first := clients[0].State()
	switch {
	case first.Phase == session.Errored:
		return true
	case first.Phase == session.Scanning && first.InFlight == 0:
		// The engine failed: a completion without a report arrived.
		return true
	case first.Phase != session.Delivered:
		return false
	}
	for _, c := range clients[1:] {
		if p := c.State().Phase; p != session.Delivered && p != session.Errored {
			return false
		}
	}
	return true
}

// runMCP serves the coordinator tools on stdio. pageURL, when set, is opened
// before serving so clients can scan tab 1 without calling a11y_open.
func runMCP(ctx context.Context, logger *slog.Logger, cfg *config.Config, pageURL string) error {
	a, err := newApp(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if pageURL != "" {
		tab, err := a.tabs.Open(ctx, pageURL)
		if err != nil {
			return err
		}
		logger.Info("a11ypanel: tab opened", "tab_id", tab.ID, "url", tab.URL)
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: "a11ypanel", Version: version}, nil)
	a.co.RegisterMCP(srv)
	logger.Info("a11ypanel: serving MCP on stdio")
	return srv.Run(ctx, &mcp.StdioTransport{})
}
