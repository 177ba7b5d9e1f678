// Package report defines the scan result and catalog types exchanged
// between the coordinator and the panel surfaces. Reports are immutable
// once produced: a newer report for the same tab supersedes, never mutates,
// the previous one.
package report

import (
	"encoding/json"

	"github.com/hazyhaar/a11ypanel/nodepath"
)

// TabID identifies a browser tab.
type TabID int

// NoTab is the tab id of a surface still resolving its tab.
const NoTab TabID = -1

// Path locates the node an item was reported on.
type Path struct {
	DOM  nodepath.Path `json:"dom"`
	ARIA string        `json:"aria,omitempty"`
}

// Item is one rule finding.
type Item struct {
	RuleID  string   `json:"ruleId"`
	Path    Path     `json:"path"`
	Message string   `json:"message"`
	Value   []string `json:"value"` // [policy, confidence], e.g. ["VIOLATION", "FAIL"]
	Snippet string   `json:"snippet"`
	Index   int      `json:"itemIdx"`
}

// Severity is the display category of an item.
type Severity string

const (
	Violation      Severity = "violation"
	NeedsReview    Severity = "needs_review"
	Recommendation Severity = "recommendation"
	Pass           Severity = "pass"
)

// Severities lists the categories shown in issue type filters.
var Severities = []Severity{Violation, NeedsReview, Recommendation}

// Classify maps an item value to its display category.
func Classify(value []string) Severity {
	if len(value) < 2 {
		return Pass
	}
	policy, confidence := value[0], value[1]
	switch confidence {
	case "PASS":
		return Pass
	case "POTENTIAL", "MANUAL":
		return NeedsReview
	}
	if policy == "VIOLATION" {
		return Violation
	}
	if policy == "RECOMMENDATION" {
		return Recommendation
	}
	return Pass
}

// Severity returns Classify(i.Value).
func (i Item) Severity() Severity { return Classify(i.Value) }

// Ref names a catalog entry.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CheckOption records the archive and policy a report was produced with.
type CheckOption struct {
	Deployment Ref `json:"deployment"`
	Guideline  Ref `json:"guideline"`
}

// Report is one completed scan of a tab.
type Report struct {
	TabID       TabID                        `json:"tabId"`
	TabURL      string                       `json:"tabURL"`
	ArchiveID   string                       `json:"archiveId,omitempty"`
	PolicyID    string                       `json:"policyId,omitempty"`
	Timestamp   int64                        `json:"timestamp,omitempty"`   // epoch ms at receipt
	FilterStamp int64                        `json:"filterstamp,omitempty"` // cache-busting token for views
	Option      *CheckOption                 `json:"option,omitempty"`
	Results     []Item                       `json:"results"`
	NLS         map[string]map[string]string `json:"nls,omitempty"` // rule id -> message key -> text
	ScanTimeMs  int64                        `json:"scanTime,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	var out Report
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}

// Numbered returns a copy of r whose items carry their position as Index.
func (r *Report) Numbered() *Report {
	out := *r
	out.Results = make([]Item, len(r.Results))
	for i, it := range r.Results {
		it.Index = i
		out.Results[i] = it
	}
	return &out
}

// Counts tallies the items of r per severity.
func (r *Report) Counts() map[Severity]int {
	counts := make(map[Severity]int, len(Severities)+1)
	if r == nil {
		return counts
	}
	for _, it := range r.Results {
		counts[it.Severity()]++
	}
	return counts
}
