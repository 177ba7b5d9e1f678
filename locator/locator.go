// Package locator ties nodepath to a host inspector: it describes the node
// selected in the inspector as a path, and brings the node addressed by a
// path back into view.
package locator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hazyhaar/a11ypanel/nodepath"
)

// DefaultScrollOffset keeps a highlighted node clear of the viewport top.
const DefaultScrollOffset = 100

// ScrollOptions controls ScrollIntoView.
type ScrollOptions struct {
	Offset float64 // distance kept above the node
	Smooth bool
}

// Host is the inspector capability of the inspected page.
type Host interface {
	Tree() nodepath.Tree
	// Top returns the top document of the inspected page.
	Top(ctx context.Context) (nodepath.Document, error)
	// Selected returns the node currently selected in the inspector.
	Selected(ctx context.Context) (nodepath.Node, error)
	// Inspect selects and highlights n in the inspector.
	Inspect(ctx context.Context, n nodepath.Node) error
	ScrollIntoView(ctx context.Context, n nodepath.Node, opts ScrollOptions) error
}

// SelectionNotifier is implemented by hosts that report inspector
// selection changes.
type SelectionNotifier interface {
	OnSelectionChanged(fn func())
}

// Selection describes the inspector selection.
type Selection struct {
	Path  nodepath.Path `json:"path"`
	Label string        `json:"label"` // "<tag>", shown when the path is unusable
}

// Locator resolves and describes nodes on a Host.
type Locator struct {
	host    Host
	logger  *slog.Logger
	offset  float64
	settled func(found bool)

	mu sync.Mutex // serialises host evaluations
}

// Option configures a Locator.
type Option func(*Locator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(lc *Locator) { lc.logger = l }
}

// WithScrollOffset overrides DefaultScrollOffset.
func WithScrollOffset(px float64) Option {
	return func(lc *Locator) { lc.offset = px }
}

// WithSettled registers a hook run once ResolveAndHighlight's host
// evaluation has completed, typically to give focus back to the panel.
func WithSettled(fn func(found bool)) Option {
	return func(lc *Locator) { lc.settled = fn }
}

// New creates a Locator for host.
func New(host Host, opts ...Option) *Locator {
	lc := &Locator{
		host:   host,
		logger: slog.Default(),
		offset: DefaultScrollOffset,
	}
	for _, o := range opts {
		o(lc)
	}
	return lc
}

// Describe encodes the node selected in the inspector.
func (lc *Locator) Describe(ctx context.Context) (Selection, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	n, err := lc.host.Selected(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("locator: selected node: %w", err)
	}
	if n == nil {
		return Selection{}, fmt.Errorf("locator: no node selected")
	}

	tree := lc.host.Tree()
	sel := Selection{Path: nodepath.Encode(tree, n)}
	if tag, err := tree.TagName(n); err == nil && tag != "" {
		sel.Label = "<" + strings.ToLower(tag) + ">"
	}
	return sel, nil
}

// ResolveAndHighlight decodes path against the top document, selects the
// node in the inspector and scrolls it into view. It reports whether a node
// was found; failures are logged, never returned, since the page may have
// changed since the path was produced.
func (lc *Locator) ResolveAndHighlight(ctx context.Context, path nodepath.Path) bool {
	found := lc.highlight(ctx, path)
	if lc.settled != nil {
		lc.runSettled(found)
	}
	return found
}

func (lc *Locator) highlight(ctx context.Context, path nodepath.Path) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	top, err := lc.host.Top(ctx)
	if err != nil {
		lc.logger.Warn("locator: top document unavailable", "error", err)
		return false
	}
	n := nodepath.Decode(lc.host.Tree(), top, path)
	if n == nil {
		lc.logger.Info("locator: could not select element, it may have moved", "path", path)
		return false
	}
	if err := lc.host.Inspect(ctx, n); err != nil {
		lc.logger.Warn("locator: inspect failed", "path", path, "error", err)
		return false
	}
	if err := lc.host.ScrollIntoView(ctx, n, ScrollOptions{Offset: lc.offset, Smooth: true}); err != nil {
		lc.logger.Debug("locator: scroll failed", "path", path, "error", err)
	}
	return true
}

func (lc *Locator) runSettled(found bool) {
	defer func() {
		if r := recover(); r != nil {
			lc.logger.Warn("locator: settled hook panicked", "panic", r)
		}
	}()
	lc.settled(found)
}

// SelectDocumentRoot selects the document element of the top document.
func (lc *Locator) SelectDocumentRoot(ctx context.Context) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	top, err := lc.host.Top(ctx)
	if err != nil {
		lc.logger.Warn("locator: top document unavailable", "error", err)
		return false
	}
	n := nodepath.Decode(lc.host.Tree(), top, "/html[1]")
	if n == nil {
		lc.logger.Info("locator: could not select document element")
		return false
	}
	if err := lc.host.Inspect(ctx, n); err != nil {
		lc.logger.Warn("locator: inspect document element failed", "error", err)
		return false
	}
	return true
}

// Watch calls fn with the described selection every time the host reports
// a selection change. It reports false for hosts without notifications.
// fn runs off the notifying goroutine, since a change may be raised from
// inside a host evaluation this Locator still holds. Calls to fn are
// serialized; changes raised while fn runs collapse into one call with the
// latest selection.
func (lc *Locator) Watch(fn func(Selection)) bool {
	notifier, ok := lc.host.(SelectionNotifier)
	if !ok {
		return false
	}
	var (
		mu      sync.Mutex
		running bool
		dirty   bool
	)
	notifier.OnSelectionChanged(func() {
		mu.Lock()
		dirty = true
		if running {
			mu.Unlock()
			return
		}
		running = true
		mu.Unlock()
		go func() {
			for {
				mu.Lock()
				if !dirty {
					running = false
					mu.Unlock()
					return
				}
				dirty = false
				mu.Unlock()

				sel, err := lc.Describe(context.Background())
				if err != nil {
					lc.logger.Debug("locator: describe after selection change", "error", err)
					continue
				}
				fn(sel)
			}
		}()
	})
	return true
}
