// Package viewmodel derives the displayed result list of a surface from
// the latest report, the current node path filter and the selection. Views
// are values: every operation returns a new View and never touches the
// report it was built from.
package viewmodel

import (
	"slices"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/a11ypanel/nodepath"
	"github.com/hazyhaar/a11ypanel/report"
)

// Entry is one report item with its view flags.
type Entry struct {
	report.Item
	Visible  bool `json:"visible"`
	Selected bool `json:"selected"`
}

var snippetPolicy = bluemonday.UGCPolicy()

// SafeSnippet returns the item snippet with scripts, event handlers and
// other active content removed.
func (e Entry) SafeSnippet() string {
	return snippetPolicy.Sanitize(e.Snippet)
}

// View is the derived state of one surface.
type View struct {
	Report      *report.Report          `json:"-"`
	Filter      nodepath.Path           `json:"filter"`
	Severities  []report.Severity       `json:"severities,omitempty"`
	FilterStamp int64                   `json:"filterstamp"`
	Items       []Entry                 `json:"items"`
	Total       map[report.Severity]int `json:"total"`
	Filtered    map[report.Severity]int `json:"filtered"`
}

// FilterOption narrows ApplyFilter.
type FilterOption func(*filterConfig)

type filterConfig struct {
	severities []report.Severity
}

// OnlySeverities keeps only items of the given categories visible.
func OnlySeverities(s ...report.Severity) FilterOption {
	return func(c *filterConfig) { c.severities = s }
}

// ApplyFilter builds the view of r under filter. An item is visible when its
// DOM path equals filter or extends it by whole steps; an empty filter shows
// every item. With resetSelection false, items of prev (built from the same
// report) that were selected and are still visible stay selected. Every
// call carries a fresh FilterStamp.
func ApplyFilter(r *report.Report, prev *View, filter nodepath.Path, resetSelection bool, opts ...FilterOption) *View {
	var cfg filterConfig
	for _, o := range opts {
		o(&cfg)
	}
	v := &View{
		Report:      r,
		Filter:      filter,
		Severities:  cfg.severities,
		FilterStamp: NextStamp(),
		Total:       make(map[report.Severity]int),
		Filtered:    make(map[report.Severity]int),
	}
	if r == nil {
		return v
	}

	keep := map[int]bool{}
	if !resetSelection && prev != nil && prev.Report == r {
		for _, e := range prev.Items {
			if e.Selected {
				keep[e.Index] = true
			}
		}
	}

	v.Items = make([]Entry, len(r.Results))
	for i, it := range r.Results {
		it.Value = slices.Clone(it.Value)
		sev := it.Severity()
		visible := nodepath.HasPrefix(it.Path.DOM, filter) &&
			(len(cfg.severities) == 0 || slices.Contains(cfg.severities, sev))
		v.Items[i] = Entry{Item: it, Visible: visible, Selected: visible && keep[it.Index]}
		v.Total[sev]++
		if visible {
			v.Filtered[sev]++
		}
	}
	return v
}

// Visible returns the visible entries in report order.
func (v *View) Visible() []Entry {
	out := make([]Entry, 0, len(v.Items))
	for _, e := range v.Items {
		if e.Visible {
			out = append(out, e)
		}
	}
	return out
}

// Selection returns the selected entries in report order.
func (v *View) Selection() []Entry {
	var out []Entry
	for _, e := range v.Items {
		if e.Selected {
			out = append(out, e)
		}
	}
	return out
}

// VisibleCount returns the number of visible entries.
func (v *View) VisibleCount() int {
	n := 0
	for _, e := range v.Items {
		if e.Visible {
			n++
		}
	}
	return n
}

// SelectItem selects the single item with the given index, clearing any
// prior selection. It reports false and leaves nothing selected when that
// item is not visible.
func SelectItem(v *View, index int) (*View, bool) {
	out := v.clone()
	found := false
	for i := range out.Items {
		e := &out.Items[i]
		e.Selected = e.Visible && e.Index == index
		found = found || e.Selected
	}
	return out, found
}

// SelectPath selects every visible item whose DOM path equals path, so
// that all findings on one node highlight together. It returns the number
// of items selected.
func SelectPath(v *View, path nodepath.Path) (*View, int) {
	out := v.clone()
	n := 0
	for i := range out.Items {
		e := &out.Items[i]
		e.Selected = e.Visible && path != "" && e.Path.DOM == path
		if e.Selected {
			n++
		}
	}
	return out, n
}

// ClearSelection returns v with nothing selected.
func ClearSelection(v *View) *View {
	out := v.clone()
	for i := range out.Items {
		out.Items[i].Selected = false
	}
	return out
}

func (v *View) clone() *View {
	out := *v
	out.Items = slices.Clone(v.Items)
	return &out
}

var (
	stampMu   sync.Mutex
	lastStamp int64
)

// NextStamp returns a strictly increasing token derived from the clock.
func NextStamp() int64 {
	stampMu.Lock()
	defer stampMu.Unlock()
	s := time.Now().UnixNano()
	if s <= lastStamp {
		s = lastStamp + 1
	}
	lastStamp = s
	return s
}
