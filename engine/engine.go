// Package engine adapts the accessibility rule engine to the coordinator.
// The engine is opaque: it receives a tab and an archive/policy pair and
// returns a report.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/a11ypanel/report"
)

// Target is what to scan and with which rules.
type Target struct {
	TabID     report.TabID `json:"tab_id"`
	URL       string       `json:"url"`
	ArchiveID string       `json:"archive_id"`
	PolicyID  string       `json:"policy_id"`
}

// Engine runs scans and describes the rulesets of an archive.
type Engine interface {
	Scan(ctx context.Context, t Target) (*report.Report, error)
	Rulesets(ctx context.Context, t Target) ([]report.Ruleset, error)
}

// Func adapts plain functions to Engine. A nil RulesetsFn returns no
// rulesets.
type Func struct {
	ScanFn     func(ctx context.Context, t Target) (*report.Report, error)
	RulesetsFn func(ctx context.Context, t Target) ([]report.Ruleset, error)
}

func (f Func) Scan(ctx context.Context, t Target) (*report.Report, error) {
	return f.ScanFn(ctx, t)
}

func (f Func) Rulesets(ctx context.Context, t Target) ([]report.Ruleset, error) {
	if f.RulesetsFn == nil {
		return nil, nil
	}
	return f.RulesetsFn(ctx, t)
}

// ErrFileAccess is returned for local files the engine may not read.
// The message is the one surfaces recognise to show local file guidance.
type ErrFileAccess struct {
	URL string
}

func (e *ErrFileAccess) Error() string {
	return fmt.Sprintf("Cannot access contents of url %q. Extension manifest must request permission to access this host.", e.URL)
}

// IsFileURL reports whether u points at the local filesystem.
func IsFileURL(u string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(u)), "file:")
}

// stamp fills the fields of r the engine does not know about.
func stamp(r *report.Report, t Target) *report.Report {
	if r == nil {
		return nil
	}
	r.TabID = t.TabID
	if r.TabURL == "" {
		r.TabURL = t.URL
	}
	r.ArchiveID = t.ArchiveID
	r.PolicyID = t.PolicyID
	if r.Results == nil {
		r.Results = []report.Item{}
	}
	return r
}
