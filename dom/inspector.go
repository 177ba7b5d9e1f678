package dom

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/a11ypanel/locator"
	"github.com/hazyhaar/a11ypanel/nodepath"
)

// Scroll records one ScrollIntoView call.
type Scroll struct {
	Node    *html.Node
	Options locator.ScrollOptions
}

// Inspector is an in-memory locator.Host over a Tree. Inspect moves the
// selection, as a browser inspector does, and raises a selection change.
type Inspector struct {
	tree *Tree

	mu        sync.Mutex
	selected  *html.Node
	inspected []*html.Node
	scrolls   []Scroll
	listeners []func()
}

// NewInspector creates an Inspector over top.
func NewInspector(top *Document) *Inspector {
	return &Inspector{tree: NewTree(top)}
}

func (in *Inspector) Tree() nodepath.Tree { return in.tree }

func (in *Inspector) Top(context.Context) (nodepath.Document, error) {
	return in.tree.Top, nil
}

func (in *Inspector) Selected(context.Context) (nodepath.Node, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.selected == nil {
		return nil, fmt.Errorf("dom: nothing selected")
	}
	return in.selected, nil
}

func (in *Inspector) Inspect(_ context.Context, n nodepath.Node) error {
	hn, err := asNode(n)
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.inspected = append(in.inspected, hn)
	in.mu.Unlock()
	in.Select(hn)
	return nil
}

func (in *Inspector) ScrollIntoView(_ context.Context, n nodepath.Node, opts locator.ScrollOptions) error {
	hn, err := asNode(n)
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.scrolls = append(in.scrolls, Scroll{Node: hn, Options: opts})
	in.mu.Unlock()
	return nil
}

func (in *Inspector) OnSelectionChanged(fn func()) {
	in.mu.Lock()
	in.listeners = append(in.listeners, fn)
	in.mu.Unlock()
}

// Select changes the inspector selection, as a user click in the elements
// tree would, and notifies listeners.
func (in *Inspector) Select(n *html.Node) {
	in.mu.Lock()
	in.selected = n
	listeners := append([]func(){}, in.listeners...)
	in.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Inspected returns the nodes passed to Inspect, oldest first.
func (in *Inspector) Inspected() []*html.Node {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]*html.Node(nil), in.inspected...)
}

// Scrolls returns the recorded ScrollIntoView calls, oldest first.
func (in *Inspector) Scrolls() []Scroll {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Scroll(nil), in.scrolls...)
}
