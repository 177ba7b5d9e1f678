package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/a11ypanel/report"
)

const (
	scanJS = `async (archive, policy) => {
		const out = await window.a11ypanel.scan(archive, policy);
		return typeof out === "string" ? out : JSON.stringify(out);
	}`
	rulesetsJS = `async (archive) => {
		const out = await window.a11ypanel.rulesets(archive);
		return typeof out === "string" ? out : JSON.stringify(out);
	}`
)

// PageSource hands out the rod page currently showing a tab.
type PageSource interface {
	Page(ctx context.Context, tab report.TabID) (*rod.Page, error)
}

// Script runs a rule engine bundle inside the scanned page. The bundle
// must define window.a11ypanel with two functions returning JSON strings
// or promises of them: scan(archiveId, policyId) and rulesets(archiveId).
type Script struct {
	pages     PageSource
	bundle    string
	allowFile bool
	timeout   time.Duration
	logger    *slog.Logger
}

// ScriptOption configures a Script engine.
type ScriptOption func(*Script)

// WithFileAccess lets the engine scan file: URLs.
func WithFileAccess(allow bool) ScriptOption {
	return func(s *Script) { s.allowFile = allow }
}

// WithScanTimeout bounds a single evaluation. Default: 60s.
func WithScanTimeout(d time.Duration) ScriptOption {
	return func(s *Script) { s.timeout = d }
}

// WithScriptLogger sets the logger.
func WithScriptLogger(l *slog.Logger) ScriptOption {
	return func(s *Script) { s.logger = l }
}

// NewScript creates a Script engine injecting bundle into pages.
func NewScript(pages PageSource, bundle []byte, opts ...ScriptOption) *Script {
	s := &Script{
		pages:   pages,
		bundle:  string(bundle),
		timeout: 60 * time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Script) Scan(ctx context.Context, t Target) (*report.Report, error) {
	start := time.Now()
	raw, err := s.call(ctx, t, scanJS, t.ArchiveID, t.PolicyID)
	if err != nil {
		return nil, err
	}
	var r report.Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("engine: decode report: %w", err)
	}
	if r.ScanTimeMs == 0 {
		r.ScanTimeMs = time.Since(start).Milliseconds()
	}
	s.logger.Debug("engine: scan done", "tab_id", t.TabID, "results", len(r.Results), "ms", r.ScanTimeMs)
	return stamp(&r, t), nil
}

func (s *Script) Rulesets(ctx context.Context, t Target) ([]report.Ruleset, error) {
	raw, err := s.call(ctx, t, rulesetsJS, t.ArchiveID)
	if err != nil {
		return nil, err
	}
	var rs []report.Ruleset
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		return nil, fmt.Errorf("engine: decode rulesets: %w", err)
	}
	return rs, nil
}

// call injects the bundle when the page lacks it and evaluates js,
// returning the string result.
func (s *Script) call(ctx context.Context, t Target, js string, args ...any) (string, error) {
	if IsFileURL(t.URL) && !s.allowFile {
		return "", &ErrFileAccess{URL: t.URL}
	}
	page, err := s.pages.Page(ctx, t.TabID)
	if err != nil {
		return "", fmt.Errorf("engine: page for tab %d: %w", t.TabID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	p := page.Context(ctx)

	if err := s.inject(p); err != nil {
		return "", err
	}
	res, err := p.Eval(js, args...)
	if err != nil {
		return "", fmt.Errorf("engine: evaluate: %w", err)
	}
	out := res.Value.Str()
	if out == "" {
		return "", fmt.Errorf("engine: empty result from page %s", t.URL)
	}
	return out, nil
}

func (s *Script) inject(p *rod.Page) error {
	res, err := p.Eval(`() => typeof window.a11ypanel === "object" && window.a11ypanel !== null`)
	if err != nil {
		return fmt.Errorf("engine: probe bundle: %w", err)
	}
	if res.Value.Bool() {
		return nil
	}
	if err := p.AddScriptTag("", s.bundle); err != nil {
		return fmt.Errorf("engine: inject bundle: %w", err)
	}
	return nil
}
