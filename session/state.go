// Package session is the per-surface scan client. All state lives in a
// State value changed only by Reduce, one Event at a time; Client feeds
// Reduce from the channel, the inspector and user calls.
package session

import (
	"slices"
	"time"

	"github.com/hazyhaar/a11ypanel/locator"
	"github.com/hazyhaar/a11ypanel/nodepath"
	"github.com/hazyhaar/a11ypanel/report"
	"github.com/hazyhaar/a11ypanel/viewmodel"
)

// Phase is the scan lifecycle of a surface.
type Phase int

const (
	Idle Phase = iota
	Scanning
	Delivered
	Errored
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Delivered:
		return "delivered"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// State is the full state of one surface.
type State struct {
	Surface report.Surface
	Phase   Phase
	Mounted bool

	TabID  report.TabID
	TabURL string
	Title  string

	Archives  []report.Archive
	Rulesets  []report.Ruleset
	ArchiveID string
	PolicyID  string

	Report    *report.Report
	View      *viewmodel.View
	InFlight  int
	FirstScan bool
	ScanURL   string // URL of the latest scan request

	Filter     nodepath.Path // latest inspector selection
	Label      string        // display fallback of the inspector selection
	Emitted    nodepath.Path // path this surface last pushed to the inspector
	Checkpoint *report.Checkpoint
	Severities []report.Severity
	Focused    bool

	Err     error // mount failure shown in the Errored phase
	SendErr error // last rejected scan request
}

// Event is one input to Reduce.
type Event interface{ event() }

// Mounted carries the results of a successful mount.
type Mounted struct {
	Tab       report.TabInfo
	Archives  []report.Archive
	Rulesets  []report.Ruleset
	ArchiveID string
	PolicyID  string
}

// MountFailed moves the surface to Errored.
type MountFailed struct{ Err error }

// ScanRequested records an outgoing scan request. Fresh forces FirstScan.
type ScanRequested struct {
	URL   string
	Fresh bool
}

// ScanSendFailed records a rejected scan request. The surface stays
// Scanning until a completion arrives or the user retries.
type ScanSendFailed struct{ Err error }

// TabUpdated is a navigation event of some tab.
type TabUpdated struct{ Update report.TabUpdated }

// ScanCompleted is a completion broadcast, blob already resolved.
type ScanCompleted struct {
	Result     report.ScanComplete
	ReceivedAt time.Time
}

// FilterChanged sets the node path filter directly.
type FilterChanged struct{ Path nodepath.Path }

// ItemSelected is a selection made in the report list.
type ItemSelected struct {
	Index int
	Path  nodepath.Path
}

// InspectorSelected is a selection made in the host inspector.
type InspectorSelected struct{ Selection locator.Selection }

// IssueTypesChanged sets the visible severities.
type IssueTypesChanged struct{ Severities []report.Severity }

// FocusedViewChanged toggles filtering the list by the inspector selection.
type FocusedViewChanged struct{ Focused bool }

// OptionsChanged selects another archive and policy.
type OptionsChanged struct {
	ArchiveID string
	PolicyID  string
}

func (Mounted) event()            {}
func (MountFailed) event()        {}
func (ScanRequested) event()      {}
func (ScanSendFailed) event()     {}
func (TabUpdated) event()         {}
func (ScanCompleted) event()      {}
func (FilterChanged) event()      {}
func (ItemSelected) event()       {}
func (InspectorSelected) event()  {}
func (IssueTypesChanged) event()  {}
func (FocusedViewChanged) event() {}
func (OptionsChanged) event()     {}

// Adoptable reports whether a completion belongs to the surface's current
// tab and URL.
func Adoptable(s State, sc report.ScanComplete) bool {
	if sc.TabID != s.TabID {
		return false
	}
	return sc.TabURL == "" || s.TabURL == "" || sc.TabURL == s.TabURL
}

// Reduce returns the state following ev.
func Reduce(s State, ev Event) State {
	switch ev := ev.(type) {
	case Mounted:
		s.Mounted = true
		s.TabID = ev.Tab.ID
		s.TabURL = ev.Tab.URL
		s.Title = ev.Tab.Title
		s.Archives = ev.Archives
		s.Rulesets = ev.Rulesets
		s.ArchiveID = ev.ArchiveID
		s.PolicyID = ev.PolicyID
		s.Err = nil
		if s.Phase == Errored {
			s.Phase = Idle
		}

	case MountFailed:
		s.Phase = Errored
		s.Err = ev.Err

	case ScanRequested:
		if ev.Fresh || ev.URL != s.ScanURL {
			s.FirstScan = true
		}
		s.ScanURL = ev.URL
		s.Phase = Scanning
		s.InFlight++
		s.Err = nil
		s.SendErr = nil

	case ScanSendFailed:
		s.SendErr = ev.Err

	case TabUpdated:
		u := ev.Update
		if u.TabID != s.TabID || u.Status != report.StatusLoading || u.TabURL == "" || u.TabURL == s.TabURL {
			return s
		}
		s.TabURL = u.TabURL
		s.Report = nil
		s.View = nil
		s.Filter = ""
		s.Label = ""
		s.Emitted = ""
		s.Checkpoint = nil
		s.FirstScan = true
		if s.Phase == Delivered {
			s.Phase = Idle
		}

	case ScanCompleted:
		sc := ev.Result
		if sc.TabID != s.TabID {
			return s
		}
		s.InFlight = max(s.InFlight-1, 0)
		if !Adoptable(s, sc) || sc.Report == nil {
			return s
		}
		rep := sc.Report.Numbered()
		rep.TabID = sc.TabID
		if sc.TabURL != "" {
			rep.TabURL = sc.TabURL
		}
		rep.ArchiveID = firstNonEmpty(sc.ArchiveID, rep.ArchiveID, s.ArchiveID)
		rep.PolicyID = firstNonEmpty(sc.PolicyID, rep.PolicyID, s.PolicyID)
		rep.Timestamp = ev.ReceivedAt.UnixMilli()
		rep.FilterStamp = ev.ReceivedAt.UnixNano()
		if opt, err := report.CheckOptionFor(s.Archives, rep.ArchiveID, rep.PolicyID); err == nil {
			rep.Option = opt
		}
		s.Report = rep
		s.Phase = Delivered
		s.Checkpoint = nil
		s.Filter = ""
		if s.FirstScan && (sc.Origin == "" || sc.Origin == s.Surface) {
			s.FirstScan = false
			s.Label = ""
			s.Emitted = ""
		}
		s.View = refilter(s, nil, true)

	case FilterChanged:
		s.Filter = ev.Path
		s.Emitted = ""
		s.View = refilter(s, s.View, true)

	case ItemSelected:
		if s.View == nil {
			return s
		}
		if s.Surface == report.SurfaceSub {
			// All findings on one node highlight together, and the list
			// narrows to that node without losing the selection.
			v, n := viewmodel.SelectPath(s.View, ev.Path)
			if n == 0 {
				return s
			}
			s.View = v
			s.Filter = ev.Path
			s.Emitted = ev.Path
			s.View = refilter(s, s.View, false)
			s.Checkpoint = nil
			return s
		}
		v, ok := viewmodel.SelectItem(s.View, ev.Index)
		if !ok {
			return s
		}
		s.View = v
		s.Emitted = ev.Path
		s.Checkpoint = nil
		if sel := s.View.Selection(); len(sel) > 0 {
			s.Checkpoint = report.CheckpointFor(s.Rulesets, s.PolicyID, sel[0].RuleID)
		}

	case InspectorSelected:
		sel := ev.Selection
		echo := s.Emitted != "" && sel.Path == s.Emitted
		s.Filter = sel.Path
		s.Label = sel.Label
		s.Emitted = ""
		if echo {
			s.View = refilter(s, s.View, false)
			return s
		}
		s.View = refilter(s, s.View, true)
		if !s.Focused && s.View != nil {
			s.View, _ = viewmodel.SelectPath(s.View, sel.Path)
		}

	case IssueTypesChanged:
		s.Severities = slices.Clone(ev.Severities)
		s.View = refilter(s, s.View, false)

	case FocusedViewChanged:
		s.Focused = ev.Focused
		s.View = refilter(s, s.View, false)

	case OptionsChanged:
		s.ArchiveID = ev.ArchiveID
		s.PolicyID = ev.PolicyID
	}
	return s
}

// refilter rebuilds the view of the current report. Unfocused surfaces
// list every item.
func refilter(s State, prev *viewmodel.View, reset bool) *viewmodel.View {
	if s.Report == nil {
		return nil
	}
	filter := s.Filter
	if !s.Focused {
		filter = ""
	}
	return viewmodel.ApplyFilter(s.Report, prev, filter, reset, viewmodel.OnlySeverities(s.Severities...))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
