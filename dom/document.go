// Package dom holds parsed HTML documents linked through their iframes and
// applies the same-origin rule a browser enforces between them. It is the
// offline host for nodepath: the CLI resolves paths against saved pages
// with it, and tests use it in place of a live browser.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Document is one parsed HTML document, optionally embedded in a parent
// document through an iframe element.
type Document struct {
	URL  *url.URL
	Root *html.Node // html.DocumentNode

	parent *Document
	owner  *html.Node
	frames map[*html.Node]*Document
}

// Parse reads an HTML document served from rawURL.
func Parse(r io.Reader, rawURL string) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("dom: parse url %q: %w", rawURL, err)
	}
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse html: %w", err)
	}
	return &Document{URL: u, Root: root, frames: make(map[*html.Node]*Document)}, nil
}

// ParseString is Parse over a string.
func ParseString(s, rawURL string) (*Document, error) {
	return Parse(strings.NewReader(s), rawURL)
}

// Element returns the document element (<html>).
func (d *Document) Element() *html.Node {
	for c := d.Root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// Parent returns the embedding document, nil for a top document.
func (d *Document) Parent() *Document { return d.parent }

// Owner returns the iframe element embedding d, nil for a top document.
func (d *Document) Owner() *html.Node { return d.owner }

// Attach loads child as the content document of iframe, which must be an
// iframe element of d.
func (d *Document) Attach(iframe *html.Node, child *Document) error {
	if iframe == nil || iframe.Type != html.ElementNode || iframe.Data != "iframe" {
		return fmt.Errorf("dom: attach: not an iframe element")
	}
	if rootOf(iframe) != d.Root {
		return fmt.Errorf("dom: attach: iframe does not belong to %s", d.URL)
	}
	if child.parent != nil {
		return fmt.Errorf("dom: attach: %s is already embedded", child.URL)
	}
	child.parent = d
	child.owner = iframe
	d.frames[iframe] = child
	return nil
}

// Frame returns the document attached to iframe, nil if none.
func (d *Document) Frame(iframe *html.Node) *Document { return d.frames[iframe] }

// Origin returns the serialised origin of d. about:blank and srcdoc
// documents inherit their parent's origin; file: documents get an opaque
// origin that matches nothing.
func (d *Document) Origin() string {
	if d.URL == nil || d.URL.String() == "" || d.URL.String() == "about:blank" || d.URL.String() == "about:srcdoc" {
		if d.parent != nil {
			return d.parent.Origin()
		}
		return "null"
	}
	switch d.URL.Scheme {
	case "http", "https":
		return d.URL.Scheme + "://" + d.URL.Host
	}
	return "null"
}

// SameOrigin reports whether script in a may touch b.
func SameOrigin(a, b *Document) bool {
	if a == b {
		return true
	}
	oa, ob := a.Origin(), b.Origin()
	return oa != "null" && oa == ob
}

// FindAll returns the elements with the given tag in document order.
func (d *Document) FindAll(tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.Root)
	return out
}

// Find returns the first element with the given tag, nil if none.
func (d *Document) Find(tag string) *html.Node {
	if all := d.FindAll(tag); len(all) > 0 {
		return all[0]
	}
	return nil
}

// Render serialises n as HTML.
func Render(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

// Attr returns the value of attribute key on n.
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func rootOf(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}
