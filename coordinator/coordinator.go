// Package coordinator is the background side of the panel protocol. It
// answers surface requests on a channel.Hub, runs scans through an
// engine.Engine and broadcasts navigation and completions.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/a11ypanel/channel"
	"github.com/hazyhaar/a11ypanel/engine"
	"github.com/hazyhaar/a11ypanel/idgen"
	"github.com/hazyhaar/a11ypanel/report"
	"github.com/hazyhaar/a11ypanel/settings"
)

// ErrUnknownTab is returned by a TabSource for tabs it does not track.
var ErrUnknownTab = errors.New("coordinator: unknown tab")

// TabSource resolves tab ids to their current URL and title.
type TabSource interface {
	Tab(ctx context.Context, id report.TabID) (report.TabInfo, error)
}

// Opener opens a new tab on a URL. Only the MCP surface uses it.
type Opener interface {
	Open(ctx context.Context, url string) (report.TabInfo, error)
}

// Config holds the archive catalog and the defaults used when no stored
// choice applies.
type Config struct {
	Archives       []report.Archive
	DefaultArchive string // default: "latest"
	DefaultPolicy  string // default: "IBM_Accessibility"
}

// Coordinator serves the protocol on a hub.
type Coordinator struct {
	hub      *channel.Hub
	tabs     TabSource
	engine   engine.Engine
	cfg      Config
	cache    Cache
	settings settings.Store
	opener   Opener
	newID    idgen.Generator
	logger   *slog.Logger

	mu  sync.Mutex
	gen map[report.TabID]uint64

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCache replaces the in-memory result cache.
func WithCache(c Cache) Option {
	return func(co *Coordinator) { co.cache = c }
}

// WithSettings sets the store holding the user's archive and policy.
func WithSettings(s settings.Store) Option {
	return func(co *Coordinator) { co.settings = s }
}

// WithIDs sets the scan request id generator. Default: idgen.Default.
func WithIDs(g idgen.Generator) Option {
	return func(co *Coordinator) { co.newID = g }
}

// WithOpener enables the a11y_open MCP tool.
func WithOpener(o Opener) Option {
	return func(co *Coordinator) { co.opener = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// New creates a Coordinator and registers its handlers on hub.
func New(hub *channel.Hub, tabs TabSource, eng engine.Engine, cfg Config, opts ...Option) *Coordinator {
	if cfg.DefaultArchive == "" {
		cfg.DefaultArchive = "latest"
	}
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = "IBM_Accessibility"
	}
	c := &Coordinator{
		hub:      hub,
		tabs:     tabs,
		engine:   eng,
		cfg:      cfg,
		cache:    NewMemoryCache(),
		settings: &settings.Memory{},
		newID:    idgen.Default,
		logger:   slog.Default(),
		gen:      make(map[report.TabID]uint64),
	}
	for _, o := range opts {
		o(c)
	}
	c.base, c.cancel = context.WithCancel(context.Background())

	hub.Handle(channel.TypeTabInfo, c.handleTabInfo)
	hub.Handle(channel.TypeRulesets, c.handleRulesets)
	hub.Handle(channel.TypeScanRequest, c.handleScanRequest)
	hub.Handle(channel.TypeScanCached, c.handleScanCached)
	hub.Handle(channel.TypeArchives, c.handleArchives)
	return c
}

// Archives returns the catalog.
func (c *Coordinator) Archives() []report.Archive {
	return c.cfg.Archives
}

// Scan runs a scan synchronously and caches its result. It does not
// broadcast.
func (c *Coordinator) Scan(ctx context.Context, req report.ScanRequest) (report.ScanComplete, error) {
	sc, err := c.scan(ctx, req)
	if err != nil {
		return sc, err
	}
	c.store(ctx, sc)
	return sc, nil
}

func (c *Coordinator) scan(ctx context.Context, req report.ScanRequest) (report.ScanComplete, error) {
	sc := report.ScanComplete{TabID: req.TabID, TabURL: req.TabURL, Origin: req.Origin}
	if sc.TabURL == "" {
		tab, err := c.tabs.Tab(ctx, req.TabID)
		if err != nil {
			return sc, fmt.Errorf("coordinator: scan: %w", err)
		}
		sc.TabURL = tab.URL
	}
	sc.ArchiveID, sc.PolicyID = c.options(ctx)
	r, err := c.engine.Scan(ctx, engine.Target{TabID: sc.TabID, URL: sc.TabURL, ArchiveID: sc.ArchiveID, PolicyID: sc.PolicyID})
	if err != nil {
		return sc, fmt.Errorf("coordinator: scan tab %d: %w", req.TabID, err)
	}
	sc.Report = r
	return sc, nil
}

func (c *Coordinator) store(ctx context.Context, sc report.ScanComplete) {
	if err := c.cache.Put(ctx, sc); err != nil {
		c.logger.WarnContext(ctx, "coordinator: cache put failed", "tab_id", sc.TabID, "error", err)
	}
}

// Cached returns the cached result of tab if it was produced for url.
func (c *Coordinator) Cached(ctx context.Context, tab report.TabID, url string) (report.ScanComplete, bool) {
	sc, ok, err := c.cache.Get(ctx, tab)
	if err != nil {
		c.logger.WarnContext(ctx, "coordinator: cache get failed", "tab_id", tab, "error", err)
		return report.ScanComplete{}, false
	}
	if !ok || sc.TabURL != url {
		return report.ScanComplete{}, false
	}
	return sc, true
}

// Navigated broadcasts a tab update. A tab that starts loading loses its
// cached result.
func (c *Coordinator) Navigated(ctx context.Context, u report.TabUpdated) error {
	if u.Status == report.StatusLoading {
		if err := c.cache.Invalidate(ctx, u.TabID); err != nil {
			c.logger.WarnContext(ctx, "coordinator: cache invalidate failed", "tab_id", u.TabID, "error", err)
		}
	}
	n, err := c.hub.Broadcast(ctx, channel.TypeTabUpdated, u)
	if err != nil {
		return fmt.Errorf("coordinator: tab updated: %w", err)
	}
	c.logger.DebugContext(ctx, "coordinator: tab updated", "tab_id", u.TabID, "status", u.Status, "tab_url", u.TabURL, "surfaces", n)
	return nil
}

// Wait blocks until every asynchronous scan has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels running scans and waits for them.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) handleTabInfo(ctx context.Context, msg channel.Message, reply channel.ReplyFunc) bool {
	var ref report.TabRef
	if err := c.decode(ctx, msg, &ref); err != nil {
		return false
	}
	tab, err := c.tabs.Tab(ctx, ref.TabID)
	if err != nil {
		c.logger.WarnContext(ctx, "coordinator: tab info", "tab_id", ref.TabID, "error", err)
		return false
	}
	reply(tab)
	return false
}

func (c *Coordinator) handleRulesets(ctx context.Context, msg channel.Message, reply channel.ReplyFunc) bool {
	var ref report.TabRef
	if err := c.decode(ctx, msg, &ref); err != nil {
		return false
	}
	tab, err := c.tabs.Tab(ctx, ref.TabID)
	if err != nil {
		reply(report.ErrorReply{Error: err.Error()})
		return false
	}
	archiveID, policyID := c.options(ctx)
	rs, err := c.engine.Rulesets(ctx, engine.Target{TabID: tab.ID, URL: tab.URL, ArchiveID: archiveID, PolicyID: policyID})
	if err != nil {
		c.logger.WarnContext(ctx, "coordinator: rulesets", "tab_id", tab.ID, "error", err)
		reply(report.ErrorReply{Error: err.Error()})
		return false
	}
	if rs == nil {
		rs = []report.Ruleset{}
	}
	reply(rs)
	return false
}

func (c *Coordinator) handleScanRequest(ctx context.Context, msg channel.Message, reply channel.ReplyFunc) bool {
	var req report.ScanRequest
	if err := c.decode(ctx, msg, &req); err != nil {
		return false
	}
	id := c.newID()
	gen := c.next(req.TabID)
	reply(report.Ack{RequestID: id})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(req, id, gen)
	}()
	return false
}

// run performs an acknowledged scan and broadcasts its completion. A scan
// superseded by a newer request for the same tab, or one the engine failed,
// is broadcast without a report and never cached: every request gets exactly
// one completion so surfaces can settle their in-flight count.
func (c *Coordinator) run(req report.ScanRequest, id string, gen uint64) {
	ctx := c.base
	log := c.logger.With("request_id", id, "tab_id", req.TabID)

	sc, err := c.scan(ctx, req)
	switch {
	case err != nil && ctx.Err() != nil:
		return
	case !c.current(req.TabID, gen):
		log.DebugContext(ctx, "coordinator: superseded scan, report withheld", "tab_url", sc.TabURL)
		sc.Report = nil
	case err != nil:
		log.ErrorContext(ctx, "coordinator: scan failed", "tab_url", req.TabURL, "error", err)
		sc.Report = nil
	default:
		c.store(ctx, sc)
	}
	n, err := c.hub.Broadcast(ctx, channel.TypeScanComplete, sc)
	if err != nil {
		log.WarnContext(ctx, "coordinator: broadcast completion", "error", err)
		return
	}
	results := 0
	if sc.Report != nil {
		results = len(sc.Report.Results)
	}
	log.InfoContext(ctx, "coordinator: scan complete", "tab_url", sc.TabURL, "results", results, "surfaces", n)
}

func (c *Coordinator) handleScanCached(ctx context.Context, msg channel.Message, reply channel.ReplyFunc) bool {
	var req report.ScanRequest
	if err := c.decode(ctx, msg, &req); err != nil {
		return false
	}
	sc, ok := c.Cached(ctx, req.TabID, req.TabURL)
	if !ok {
		return false
	}
	sc.Origin = req.Origin
	reply(sc)
	return false
}

func (c *Coordinator) handleArchives(_ context.Context, _ channel.Message, reply channel.ReplyFunc) bool {
	archives := c.cfg.Archives
	if archives == nil {
		archives = []report.Archive{}
	}
	reply(archives)
	return false
}

func (c *Coordinator) decode(ctx context.Context, msg channel.Message, v any) error {
	msg, err := c.hub.Inflate(ctx, msg)
	if err == nil {
		err = msg.Decode(v)
	}
	if err != nil {
		c.logger.WarnContext(ctx, "coordinator: bad request", "type", msg.Type, "error", err)
	}
	return err
}

// next starts a new generation for tab.
func (c *Coordinator) next(tab report.TabID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[tab]++
	return c.gen[tab]
}

func (c *Coordinator) current(tab report.TabID, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[tab] == gen
}

// options returns the archive and policy to scan with: the stored choice
// when the catalog still has it, the configured defaults otherwise.
func (c *Coordinator) options(ctx context.Context) (string, string) {
	stored, err := c.settings.Load(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "coordinator: load settings failed", "error", err)
	}
	archiveID := c.cfg.DefaultArchive
	if stored.SelectedArchive != "" && report.FindArchive(c.cfg.Archives, stored.SelectedArchive) != nil {
		archiveID = stored.SelectedArchive
	}
	policyID := c.cfg.DefaultPolicy
	a := report.FindArchive(c.cfg.Archives, archiveID)
	switch {
	case a == nil:
	case stored.SelectedRuleset != "" && a.Policy(stored.SelectedRuleset) != nil:
		policyID = stored.SelectedRuleset
	case a.Policy(policyID) == nil && len(a.Policies) > 0:
		policyID = a.Policies[0].ID
	}
	return archiveID, policyID
}
