// Package inspector is the live host inspector of a rod page: nodes are
// *rod.Element, documents are *rod.Page (one per frame), selection comes
// from the CDP Overlay inspect mode.
package inspector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/a11ypanel/locator"
	"github.com/hazyhaar/a11ypanel/nodepath"
)

// deniedMarker tags script errors raised for inaccessible frames.
const deniedMarker = "a11ypanel:denied"

var highlight = &proto.OverlayHighlightConfig{
	ShowInfo:     true,
	ContentColor: &proto.DOMRGBA{R: 111, G: 168, B: 220, A: floatPtr(0.66)},
	BorderColor:  &proto.DOMRGBA{R: 255, G: 229, B: 153, A: floatPtr(0.66)},
}

func floatPtr(f float64) *float64 { return &f }

// Host implements locator.Host and locator.SelectionNotifier on a page.
type Host struct {
	page   *rod.Page
	logger *slog.Logger
	tree   *tree

	mu        sync.Mutex
	selected  *rod.Element
	listeners []func()

	stop context.CancelFunc
	done chan struct{}
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// New creates a Host on page. Call Start to follow inspector selections.
func New(page *rod.Page, opts ...Option) *Host {
	h := &Host{page: page, logger: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	h.tree = &tree{page: page}
	return h
}

// Start enables the Overlay inspect mode: nodes picked in the page become
// the selection and listeners are notified.
func (h *Host) Start(ctx context.Context) error {
	p := h.page.Context(ctx)
	if err := (proto.DOMEnable{}).Call(p); err != nil {
		return fmt.Errorf("inspector: enable DOM: %w", err)
	}
	if err := (proto.OverlayEnable{}).Call(p); err != nil {
		return fmt.Errorf("inspector: enable overlay: %w", err)
	}
	err := proto.OverlaySetInspectMode{Mode: proto.OverlayInspectModeSearchForNode, HighlightConfig: highlight}.Call(p)
	if err != nil {
		return fmt.Errorf("inspector: inspect mode: %w", err)
	}

	wctx, cancel := context.WithCancel(context.Background())
	h.stop = cancel
	h.done = make(chan struct{})
	wait := h.page.Context(wctx).EachEvent(func(e *proto.OverlayInspectNodeRequested) {
		el, err := h.page.Context(wctx).ElementFromNode(&proto.DOMNode{BackendNodeID: e.BackendNodeID})
		if err != nil {
			h.logger.Warn("inspector: resolve picked node", "backend_node_id", e.BackendNodeID, "error", err)
			return
		}
		h.selectElement(el)
	})
	go func() {
		defer close(h.done)
		wait()
	}()
	return nil
}

// Close stops following selections.
func (h *Host) Close() {
	if h.stop != nil {
		h.stop()
		<-h.done
	}
}

func (h *Host) Tree() nodepath.Tree { return h.tree }

func (h *Host) Top(context.Context) (nodepath.Document, error) {
	return h.page, nil
}

func (h *Host) Selected(context.Context) (nodepath.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.selected == nil {
		return nil, errors.New("inspector: nothing selected")
	}
	return h.selected, nil
}

// Inspect highlights n and makes it the selection.
func (h *Host) Inspect(ctx context.Context, n nodepath.Node) error {
	el, err := asElement(n)
	if err != nil {
		return err
	}
	p := h.page.Context(ctx)
	err = proto.OverlayHighlightNode{HighlightConfig: highlight, ObjectID: el.Object.ObjectID}.Call(p)
	if err != nil {
		return fmt.Errorf("inspector: highlight: %w", err)
	}
	if node, err := (proto.DOMRequestNode{ObjectID: el.Object.ObjectID}).Call(p); err == nil {
		if err := (proto.DOMSetInspectedNode{NodeID: node.NodeID}).Call(p); err != nil {
			h.logger.Debug("inspector: set inspected node", "error", err)
		}
	}
	h.selectElement(el)
	return nil
}

func (h *Host) ScrollIntoView(ctx context.Context, n nodepath.Node, opts locator.ScrollOptions) error {
	el, err := asElement(n)
	if err != nil {
		return err
	}
	_, err = el.Context(ctx).Eval(`(offset, smooth) => {
		const r = this.getBoundingClientRect();
		this.ownerDocument.defaultView.scrollBy({top: r.top - offset, behavior: smooth ? "smooth" : "auto"});
	}`, opts.Offset, opts.Smooth)
	if err != nil {
		return fmt.Errorf("inspector: scroll: %w", err)
	}
	return nil
}

func (h *Host) OnSelectionChanged(fn func()) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

func (h *Host) selectElement(el *rod.Element) {
	h.mu.Lock()
	h.selected = el
	listeners := append([]func(){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// tree implements nodepath.Tree over live elements.
type tree struct {
	page *rod.Page
}

func (t *tree) TagName(n nodepath.Node) (string, error) {
	el, err := asElement(n)
	if err != nil {
		return "", err
	}
	res, err := el.Eval(`() => this.nodeType === 1 ? this.tagName : ""`)
	if err != nil {
		return "", fmt.Errorf("inspector: tag name: %w", err)
	}
	return res.Value.Str(), nil
}

func (t *tree) Parent(n nodepath.Node) (nodepath.Node, error) {
	return relative(n, `() => this.parentElement`)
}

// PreviousSibling skips text and comments: only elements count towards
// an ordinal.
func (t *tree) PreviousSibling(n nodepath.Node) (nodepath.Node, error) {
	return relative(n, `() => this.previousElementSibling`)
}

func (t *tree) FrameOwner(n nodepath.Node) (nodepath.Node, error) {
	return relative(n, `() => {
		const win = this.ownerDocument.defaultView;
		if (!win || win === win.top) return null;
		let owner = null;
		try { owner = win.frameElement; } catch (e) {}
		if (!owner) throw new Error("`+deniedMarker+`");
		return owner;
	}`)
}

func (t *tree) Query(doc nodepath.Document, steps []nodepath.Step) (nodepath.Node, error) {
	p, ok := doc.(*rod.Page)
	if !ok || p == nil {
		return nil, fmt.Errorf("inspector: query: unexpected document %T", doc)
	}
	type step struct {
		Tag     string `json:"tag"`
		Ordinal int    `json:"ordinal"`
	}
	arg := make([]step, len(steps))
	for i, s := range steps {
		arg[i] = step{Tag: s.Tag, Ordinal: s.Ordinal}
	}
	el, err := p.Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(`(steps) => {
		let cur = document;
		for (const s of steps) {
			let n = 0, next = null;
			for (const c of cur.children) {
				if (c.tagName.toLowerCase() === s.tag && ++n === s.ordinal) { next = c; break; }
			}
			if (!next) return null;
			cur = next;
		}
		return cur === document ? null : cur;
	}`, arg))
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inspector: query: %w", err)
	}
	return el, nil
}

func (t *tree) ContentDocument(frame nodepath.Node) (nodepath.Document, error) {
	el, err := asElement(frame)
	if err != nil {
		return nil, err
	}
	p, err := el.Frame()
	if err != nil {
		return nil, &nodepath.ErrAccessDenied{Reason: "frame document unavailable: " + err.Error()}
	}
	return p, nil
}

// relative evaluates js with the element as this and returns the element
// it yields, nil for null.
func relative(n nodepath.Node, js string) (nodepath.Node, error) {
	el, err := asElement(n)
	if err != nil {
		return nil, err
	}
	out, err := el.ElementByJS(rod.Eval(js))
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		if strings.Contains(err.Error(), deniedMarker) {
			return nil, &nodepath.ErrAccessDenied{Reason: "cross-origin parent document"}
		}
		return nil, fmt.Errorf("inspector: %w", err)
	}
	return out, nil
}

func notFound(err error) bool {
	var nf *rod.ElementNotFoundError
	return errors.As(err, &nf)
}

func asElement(n nodepath.Node) (*rod.Element, error) {
	el, ok := n.(*rod.Element)
	if !ok || el == nil {
		return nil, fmt.Errorf("inspector: unexpected node %T", n)
	}
	return el, nil
}
