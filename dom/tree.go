package dom

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/hazyhaar/a11ypanel/nodepath"
)

// Tree implements nodepath.Tree over a top document and every document
// attached below it.
type Tree struct {
	Top *Document
	// AllowFileAccess lets file: documents reach each other, as a browser
	// does once the user grants file URL access.
	AllowFileAccess bool
}

// NewTree returns a Tree rooted at top.
func NewTree(top *Document) *Tree { return &Tree{Top: top} }

// DocumentOf returns the attached document containing n, nil if n is
// detached or belongs to an unknown document.
func (t *Tree) DocumentOf(n *html.Node) *Document {
	return findDoc(t.Top, rootOf(n))
}

func findDoc(d *Document, root *html.Node) *Document {
	if d.Root == root {
		return d
	}
	for _, child := range d.frames {
		if found := findDoc(child, root); found != nil {
			return found
		}
	}
	return nil
}

func (t *Tree) TagName(n nodepath.Node) (string, error) {
	hn, err := asNode(n)
	if err != nil {
		return "", err
	}
	if hn.Type != html.ElementNode {
		return "", nil
	}
	return hn.Data, nil
}

func (t *Tree) Parent(n nodepath.Node) (nodepath.Node, error) {
	hn, err := asNode(n)
	if err != nil {
		return nil, err
	}
	if hn.Parent == nil || hn.Parent.Type == html.DocumentNode {
		return nil, nil
	}
	return hn.Parent, nil
}

func (t *Tree) PreviousSibling(n nodepath.Node) (nodepath.Node, error) {
	hn, err := asNode(n)
	if err != nil {
		return nil, err
	}
	if hn.PrevSibling == nil {
		return nil, nil
	}
	return hn.PrevSibling, nil
}

func (t *Tree) FrameOwner(n nodepath.Node) (nodepath.Node, error) {
	hn, err := asNode(n)
	if err != nil {
		return nil, err
	}
	d := t.DocumentOf(hn)
	if d == nil || d.parent == nil {
		return nil, nil
	}
	if !t.sameOrigin(d, d.parent) {
		return nil, &nodepath.ErrAccessDenied{URL: d.parent.URL.String(), Reason: "cross-origin parent document"}
	}
	return d.owner, nil
}

func (t *Tree) Query(doc nodepath.Document, steps []nodepath.Step) (nodepath.Node, error) {
	d, ok := doc.(*Document)
	if !ok || d == nil {
		return nil, fmt.Errorf("dom: query: unexpected document %T", doc)
	}
	cur := d.Root
	for _, s := range steps {
		next := nthChild(cur, s)
		if next == nil {
			return nil, nil
		}
		cur = next
	}
	if cur == d.Root {
		return nil, nil
	}
	return cur, nil
}

func (t *Tree) ContentDocument(frame nodepath.Node) (nodepath.Document, error) {
	hn, err := asNode(frame)
	if err != nil {
		return nil, err
	}
	d := t.DocumentOf(hn)
	if d == nil {
		return nil, nil
	}
	child := d.frames[hn]
	if child == nil {
		return nil, nil
	}
	if !t.sameOrigin(d, child) {
		return nil, &nodepath.ErrAccessDenied{URL: child.URL.String(), Reason: "cross-origin frame"}
	}
	return child, nil
}

func (t *Tree) sameOrigin(a, b *Document) bool {
	if t.AllowFileAccess && a.URL != nil && b.URL != nil && a.URL.Scheme == "file" && b.URL.Scheme == "file" {
		return true
	}
	return SameOrigin(a, b)
}

func nthChild(parent *html.Node, s nodepath.Step) *html.Node {
	count := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == s.Tag {
			count++
			if count == s.Ordinal {
				return c
			}
		}
	}
	return nil
}

func asNode(n nodepath.Node) (*html.Node, error) {
	hn, ok := n.(*html.Node)
	if !ok || hn == nil {
		return nil, fmt.Errorf("dom: unexpected node %T", n)
	}
	return hn, nil
}
