// Package sink defines output backends for rendered surface views.
package sink

import (
	"context"
	"errors"

	"github.com/hazyhaar/a11ypanel/report"
	"github.com/hazyhaar/a11ypanel/session"
)

// Sink is the output interface. Implementations deliver views to
// different backends (stdout, webhook, in-process callback).
type Sink interface {
	Send(ctx context.Context, v Snapshot) error
	Close() error
}

// Item is one visible finding as displayed.
type Item struct {
	Index    int             `json:"itemIdx"`
	RuleID   string          `json:"ruleId"`
	Severity report.Severity `json:"severity"`
	Path     string          `json:"path"`
	Message  string          `json:"message"`
	Snippet  string          `json:"snippet,omitempty"`
	Selected bool            `json:"selected,omitempty"`
}

// Snapshot is the rendered state of one surface.
type Snapshot struct {
	Surface     report.Surface          `json:"surface"`
	Phase       string                  `json:"phase"`
	TabID       report.TabID            `json:"tabId"`
	TabURL      string                  `json:"tabURL"`
	ArchiveID   string                  `json:"archiveId,omitempty"`
	PolicyID    string                  `json:"policyId,omitempty"`
	Timestamp   int64                   `json:"timestamp,omitempty"`
	Filter      string                  `json:"filter,omitempty"`
	Label       string                  `json:"label,omitempty"`
	FilterStamp int64                   `json:"filterstamp,omitempty"`
	InFlight    int                     `json:"inFlight"`
	Total       map[report.Severity]int `json:"total,omitempty"`
	Filtered    map[report.Severity]int `json:"filtered,omitempty"`
	Items       []Item                  `json:"items,omitempty"`
	Checkpoint  *report.Checkpoint      `json:"checkpoint,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Guidance    string                  `json:"guidance,omitempty"`
}

// Render turns a surface state into a Snapshot. Snippets are sanitised.
func Render(s session.State) Snapshot {
	snap := Snapshot{
		Surface:    s.Surface,
		Phase:      s.Phase.String(),
		TabID:      s.TabID,
		TabURL:     s.TabURL,
		ArchiveID:  s.ArchiveID,
		PolicyID:   s.PolicyID,
		Filter:     string(s.Filter),
		Label:      s.Label,
		InFlight:   s.InFlight,
		Checkpoint: s.Checkpoint,
	}
	if s.Err != nil {
		snap.Error = s.Err.Error()
		var lf *session.LocalFileError
		if errors.As(s.Err, &lf) {
			snap.Guidance = lf.Guidance()
		}
	}
	if s.Report != nil {
		snap.Timestamp = s.Report.Timestamp
	}
	if v := s.View; v != nil {
		snap.FilterStamp = v.FilterStamp
		snap.Total = v.Total
		snap.Filtered = v.Filtered
		for _, e := range v.Visible() {
			snap.Items = append(snap.Items, Item{
				Index:    e.Index,
				RuleID:   e.RuleID,
				Severity: e.Severity(),
				Path:     string(e.Path.DOM),
				Message:  e.Message,
				Snippet:  e.SafeSnippet(),
				Selected: e.Selected,
			})
		}
	}
	return snap
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
