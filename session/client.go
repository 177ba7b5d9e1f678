package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/a11ypanel/channel"
	"github.com/hazyhaar/a11ypanel/locator"
	"github.com/hazyhaar/a11ypanel/nodepath"
	"github.com/hazyhaar/a11ypanel/report"
	"github.com/hazyhaar/a11ypanel/settings"
)

// DefaultRetryDelay is the wait between scan attempts while the tab is
// still being resolved.
const DefaultRetryDelay = 100 * time.Millisecond

// Config describes one surface.
type Config struct {
	Surface        report.Surface
	TabID          report.TabID // tab to resolve through TAB_INFO
	DefaultArchive string
	DefaultPolicy  string
	RetryDelay     time.Duration
	Severities     []report.Severity
	Focused        bool
}

// Client is the scan client of one surface. It is safe for concurrent use;
// state transitions are serialized.
type Client struct {
	port     *channel.Port
	cfg      Config
	loc      *locator.Locator
	settings settings.Store
	logger   *slog.Logger
	now      func() time.Time

	emitMu   sync.Mutex // serializes transitions and their notifications
	mu       sync.Mutex
	state    State
	onChange []func(State)

	registered bool
	wg         sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithLocator connects the client to a host inspector.
func WithLocator(l *locator.Locator) Option {
	return func(c *Client) { c.loc = l }
}

// WithSettings sets the store of the last chosen archive and policy.
func WithSettings(s settings.Store) Option {
	return func(c *Client) { c.settings = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock replaces time.Now for receipt stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// OnChange registers fn to receive every new state, in transition order.
// fn must not call mutating Client methods.
func OnChange(fn func(State)) Option {
	return func(c *Client) { c.onChange = append(c.onChange, fn) }
}

// New creates a client on port. The client owns the port.
func New(port *channel.Port, cfg Config, opts ...Option) *Client {
	if cfg.Surface == "" {
		cfg.Surface = report.SurfaceMain
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.DefaultArchive == "" {
		cfg.DefaultArchive = "latest"
	}
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = "IBM_Accessibility"
	}
	if cfg.Severities == nil {
		cfg.Severities = report.Severities
	}
	c := &Client{
		port:     port,
		cfg:      cfg,
		settings: &settings.Memory{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("surface", string(cfg.Surface))
	c.state = State{
		Surface:    cfg.Surface,
		TabID:      report.NoTab,
		Severities: cfg.Severities,
		Focused:    cfg.Focused,
	}
	return c
}

// State returns a snapshot of the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dispatch applies ev and notifies OnChange callbacks.
func (c *Client) Dispatch(ev Event) State {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	c.state = Reduce(c.state, ev)
	s := c.state
	c.mu.Unlock()
	for _, fn := range c.onChange {
		fn(s)
	}
	return s
}

// Mount resolves the tab, loads the archive catalog and the rulesets, then
// subscribes to navigation and completion broadcasts and asks for a cached
// result. A rulesets error leaves the surface Errored and is returned.
func (c *Client) Mount(ctx context.Context) error {
	reply, err := c.port.Send(ctx, channel.TypeTabInfo, report.TabRef{TabID: c.cfg.TabID})
	if err != nil {
		return c.mountFailed(ctx, fmt.Errorf("session: tab info: %w", err))
	}
	var tab report.TabInfo
	if err := reply.Decode(&tab); err != nil || tab.URL == "" {
		if err == nil {
			err = channel.ErrNoValue
		}
		return c.mountFailed(ctx, fmt.Errorf("session: tab info: %w", err))
	}

	var (
		archives []report.Archive
		rulesets []report.Ruleset
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := c.port.Send(gctx, channel.TypeArchives, struct{}{})
		if err != nil {
			return fmt.Errorf("session: archives: %w", err)
		}
		if err := r.Decode(&archives); err != nil {
			return fmt.Errorf("session: archives: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		r, err := c.port.Send(gctx, channel.TypeRulesets, report.TabRef{TabID: tab.ID})
		if err != nil {
			return fmt.Errorf("session: rulesets: %w", err)
		}
		rs, err := decodeRulesets(r)
		if err != nil {
			return err
		}
		rulesets = rs
		return nil
	})
	if err := g.Wait(); err != nil {
		return c.mountFailed(ctx, err)
	}

	stored, err := c.settings.Load(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "session: load settings failed", "error", err)
	}
	archiveID, policyID := chooseOptions(archives, stored, c.cfg.DefaultArchive, c.cfg.DefaultPolicy)

	c.Dispatch(Mounted{Tab: tab, Archives: archives, Rulesets: rulesets, ArchiveID: archiveID, PolicyID: policyID})
	c.logger.InfoContext(ctx, "session: mounted",
		"tab_id", tab.ID, "tab_url", tab.URL, "archive", archiveID, "policy", policyID)

	if c.register() {
		c.requestCached(tab)
	}
	return nil
}

func (c *Client) mountFailed(ctx context.Context, err error) error {
	c.logger.ErrorContext(ctx, "session: mount failed", "error", err)
	c.Dispatch(MountFailed{Err: err})
	return err
}

// register subscribes the listeners once per client. It reports whether
// this call did the registration.
func (c *Client) register() bool {
	c.mu.Lock()
	if c.registered {
		c.mu.Unlock()
		return false
	}
	c.registered = true
	c.mu.Unlock()

	c.port.AddListener(channel.TypeTabUpdated, c.onTabUpdated)
	c.port.AddListener(channel.TypeScanComplete, c.onScanComplete)
	if c.loc != nil {
		c.loc.Watch(func(sel locator.Selection) {
			c.Dispatch(InspectorSelected{Selection: sel})
		})
	}
	return true
}

// requestCached asks for a cached result without blocking the mount.
func (c *Client) requestCached(tab report.TabInfo) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		req := report.ScanRequest{TabID: tab.ID, TabURL: tab.URL, Origin: c.cfg.Surface}
		r, err := c.port.Send(ctx, channel.TypeScanCached, req)
		if err != nil {
			c.logger.WarnContext(ctx, "session: cached request failed", "error", err)
			return
		}
		if r.Empty() {
			return
		}
		var sc report.ScanComplete
		if err := r.Decode(&sc); err != nil {
			c.logger.WarnContext(ctx, "session: cached reply", "error", err)
			return
		}
		c.complete(ctx, sc)
	}()
}

// RequestScan asks the coordinator to scan the surface's tab. While the tab
// is unresolved it waits RetryDelay between checks until ctx ends. A
// rejected request is logged and returned; the surface stays Scanning.
func (c *Client) RequestScan(ctx context.Context) error {
	return c.requestScan(ctx, false)
}

// Rescan collapses the current view and scans again, selecting the
// document root once the result arrives.
func (c *Client) Rescan(ctx context.Context) error {
	return c.requestScan(ctx, true)
}

func (c *Client) requestScan(ctx context.Context, fresh bool) error {
	for c.State().TabID == report.NoTab {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}
	}
	s := c.Dispatch(ScanRequested{URL: c.State().TabURL, Fresh: fresh})
	req := report.ScanRequest{TabID: s.TabID, TabURL: s.TabURL, Origin: c.cfg.Surface}
	if _, err := c.port.Send(ctx, channel.TypeScanRequest, req); err != nil {
		c.logger.ErrorContext(ctx, "session: scan request failed", "tab_id", s.TabID, "error", err)
		c.Dispatch(ScanSendFailed{Err: err})
		return err
	}
	c.logger.DebugContext(ctx, "session: scan requested", "tab_id", s.TabID, "tab_url", s.TabURL, "in_flight", s.InFlight)
	return nil
}

func (c *Client) onTabUpdated(ctx context.Context, msg channel.Message, _ channel.ReplyFunc) bool {
	var u report.TabUpdated
	if err := msg.Decode(&u); err != nil {
		c.logger.WarnContext(ctx, "session: tab update", "error", err)
		return false
	}
	before := c.State()
	after := c.Dispatch(TabUpdated{Update: u})
	if before.Report != nil && after.Report == nil {
		c.logger.InfoContext(ctx, "session: navigation cleared report", "tab_id", u.TabID, "tab_url", u.TabURL)
	}
	return false
}

func (c *Client) onScanComplete(ctx context.Context, msg channel.Message, _ channel.ReplyFunc) bool {
	full, err := c.port.Inflate(ctx, msg)
	if err != nil {
		c.logger.WarnContext(ctx, "session: inflate completion", "error", err)
		return false
	}
	var sc report.ScanComplete
	if err := full.Decode(&sc); err != nil {
		c.logger.WarnContext(ctx, "session: completion", "error", err)
		return false
	}
	c.complete(ctx, sc)
	return false
}

// complete adopts a completion unless it is stale, then lets the inspector
// catch up with the new result.
func (c *Client) complete(ctx context.Context, sc report.ScanComplete) {
	before := c.State()
	if !Adoptable(before, sc) {
		c.logger.DebugContext(ctx, "session: stale result dropped",
			"tab_id", sc.TabID, "tab_url", sc.TabURL, "current_tab", before.TabID, "current_url", before.TabURL)
	}
	after := c.Dispatch(ScanCompleted{Result: sc, ReceivedAt: c.now()})
	if after.Report == nil || after.Report == before.Report || c.loc == nil {
		return
	}
	if before.FirstScan && !after.FirstScan {
		c.loc.SelectDocumentRoot(ctx)
		return
	}
	sel, err := c.loc.Describe(ctx)
	if err != nil {
		c.logger.DebugContext(ctx, "session: no inspector selection", "error", err)
		return
	}
	c.Dispatch(InspectorSelected{Selection: sel})
}

// SelectItem selects a finding in the report list and highlights its node
// in the inspector.
func (c *Client) SelectItem(ctx context.Context, index int) bool {
	s := c.State()
	if s.View == nil {
		return false
	}
	var path nodepath.Path
	found := false
	for _, e := range s.View.Items {
		if e.Index == index {
			path, found = e.Path.DOM, true
			break
		}
	}
	if !found {
		return false
	}
	after := c.Dispatch(ItemSelected{Index: index, Path: path})
	if after.Emitted != path {
		return false
	}
	if c.loc != nil {
		c.loc.ResolveAndHighlight(ctx, path)
	}
	return true
}

// SetFilter filters the list by a node path; empty shows everything.
func (c *Client) SetFilter(path nodepath.Path) State {
	return c.Dispatch(FilterChanged{Path: path})
}

// SetIssueTypes limits the list to the given severities.
func (c *Client) SetIssueTypes(s ...report.Severity) State {
	return c.Dispatch(IssueTypesChanged{Severities: s})
}

// SetFocused toggles filtering the list by the inspector selection.
func (c *Client) SetFocused(focused bool) State {
	return c.Dispatch(FocusedViewChanged{Focused: focused})
}

// SelectOptions switches archive and policy, persists the choice and
// scans again.
func (c *Client) SelectOptions(ctx context.Context, archiveID, policyID string) error {
	s := c.State()
	a := report.FindArchive(s.Archives, archiveID)
	if a == nil || a.Policy(policyID) == nil {
		return fmt.Errorf("session: unknown archive/policy %s/%s", archiveID, policyID)
	}
	if err := c.settings.Save(ctx, settings.Options{SelectedArchive: archiveID, SelectedRuleset: policyID}); err != nil {
		c.logger.WarnContext(ctx, "session: save settings failed", "error", err)
	}
	c.Dispatch(OptionsChanged{ArchiveID: archiveID, PolicyID: policyID})
	return c.Rescan(ctx)
}

// Close stops the client and its port.
func (c *Client) Close() {
	c.port.Close()
	c.wg.Wait()
}

// decodeRulesets reads a RULESETS reply: the catalog, or {error}.
func decodeRulesets(r channel.Reply) ([]report.Ruleset, error) {
	if r.Empty() {
		return nil, fmt.Errorf("session: rulesets: %w", channel.ErrNoValue)
	}
	raw := bytes.TrimSpace(r.Raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			raw = bytes.TrimSpace([]byte(s))
		}
	}
	if len(raw) > 0 && raw[0] == '{' {
		var e report.ErrorReply
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("session: rulesets: %w", &channel.ErrMalformed{Type: r.Type, Cause: err})
		}
		if e.Error != "" {
			return nil, rulesetsError(e.Error)
		}
		return nil, &RulesetsError{Message: "unexpected reply"}
	}
	var rs []report.Ruleset
	if err := (channel.Reply{Type: r.Type, Raw: raw}).Decode(&rs); err != nil {
		return nil, fmt.Errorf("session: rulesets: %w", err)
	}
	return rs, nil
}

// chooseOptions picks the archive and policy of a mount: a valid stored
// choice first, then the configured defaults, then "latest" and the
// archive's first policy.
func chooseOptions(archives []report.Archive, stored settings.Options, defArchive, defPolicy string) (string, string) {
	archiveID := defArchive
	if report.FindArchive(archives, archiveID) == nil {
		archiveID = "latest"
	}
	if stored.SelectedArchive != "" && report.FindArchive(archives, stored.SelectedArchive) != nil {
		archiveID = stored.SelectedArchive
	}
	a := report.FindArchive(archives, archiveID)
	if a == nil {
		return archiveID, defPolicy
	}
	policyID := defPolicy
	if len(a.Policies) > 0 {
		policyID = a.Policies[0].ID
	}
	if a.Policy(policyID) == nil {
		policyID = defPolicy
	}
	if stored.SelectedRuleset != "" && a.Policy(stored.SelectedRuleset) != nil {
		policyID = stored.SelectedRuleset
	}
	return archiveID, policyID
}

// IsLocalFile reports whether err is the local file permission failure.
func IsLocalFile(err error) bool {
	var lf *LocalFileError
	return errors.As(err, &lf)
}
