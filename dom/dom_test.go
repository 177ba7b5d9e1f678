package dom

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/a11ypanel/nodepath"
)

func mustParse(t *testing.T, src, rawURL string) *Document {
	t.Helper()
	d, err := ParseString(src, rawURL)
	if err != nil {
		t.Fatalf("parse %s: %v", rawURL, err)
	}
	return d
}

func elements(n *html.Node) []*html.Node {
	var out []*html.Node
	if n.Type == html.ElementNode {
		out = append(out, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, elements(c)...)
	}
	return out
}

func TestEncode_SiblingOrdinals(t *testing.T) {
	d := mustParse(t, `<div><span>a</span><div></div><span>b</span></div>`, "https://a.test/")
	spans := d.FindAll("span")
	tree := NewTree(d)

	got := nodepath.Encode(tree, spans[1])
	want := nodepath.Path("/html[1]/body[1]/div[1]/span[2]")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRoundTrip_AllElements(t *testing.T) {
	d := mustParse(t, `<!doctype html><html><head><title>x</title></head><body>
		<header><nav><a href="#">1</a><a href="#">2</a></nav></header>
		<main><p>one</p><!-- c --><p>two <b>bold</b></p><ul><li>a</li><li>b</li><li>c</li></ul></main>
		<footer><p>f</p></footer></body></html>`, "https://a.test/")
	tree := NewTree(d)

	for _, n := range elements(d.Root) {
		p := nodepath.Encode(tree, n)
		if got := nodepath.Decode(tree, d, p); got != nodepath.Node(n) {
			t.Errorf("round trip %q failed", p)
		}
	}
}

// nest builds top -> frame -> frame ... with k same-origin levels and
// returns the top document and the innermost target button.
func nest(t *testing.T, k int, origins []string) (*Document, *html.Node, []*Document) {
	t.Helper()
	inner := mustParse(t, `<div></div><div><button>go</button></div>`, origins[k])
	target := inner.Find("button")
	docs := []*Document{inner}
	for i := k - 1; i >= 0; i-- {
		outer := mustParse(t, `<iframe></iframe><section><iframe></iframe></section>`, origins[i])
		if err := outer.Attach(outer.FindAll("iframe")[1], inner); err != nil {
			t.Fatal(err)
		}
		docs = append([]*Document{outer}, docs...)
		inner = outer
	}
	return inner, target, docs
}

func TestRoundTrip_NestedSameOrigin(t *testing.T) {
	origins := []string{"https://a.test/", "https://a.test/f1", "https://a.test/f2", "https://a.test/f3"}
	for k := 0; k <= 3; k++ {
		top, target, _ := nest(t, k, origins)
		tree := NewTree(top)

		p := nodepath.Encode(tree, target)
		if d := nodepath.FrameDepth(p); d != k {
			t.Errorf("k=%d: depth %d in %q", k, d, p)
		}
		if got := nodepath.Decode(tree, top, p); got != nodepath.Node(target) {
			t.Errorf("k=%d: decode %q failed", k, p)
		}
	}
}

func TestCrossOriginFrame(t *testing.T) {
	origins := []string{"https://a.test/", "https://a.test/f1", "https://b.test/f2"}
	top, target, docs := nest(t, 2, origins)
	tree := NewTree(top)

	// From inside the foreign document the walk stops at its boundary.
	p := nodepath.Encode(tree, target)
	if p != "/html[1]/body[1]/div[2]/button[1]" {
		t.Errorf("encode from cross-origin frame: got %q", p)
	}

	// Decoding a full path from the top stops at the last reachable iframe.
	full := nodepath.Path("/html[1]/body[1]/section[1]/iframe[1]/html[1]/body[1]/section[1]/iframe[1]/html[1]/body[1]/div[2]/button[1]")
	got := nodepath.Decode(tree, top, full)
	wantFrame := docs[1].FindAll("iframe")[1]
	if got != nodepath.Node(wantFrame) {
		t.Errorf("decode across foreign frame: got %v, want the inner iframe", got)
	}
}

func TestOrigin(t *testing.T) {
	top := mustParse(t, `<iframe></iframe>`, "https://a.test/x")
	blank := mustParse(t, `<p>x</p>`, "about:blank")
	if err := top.Attach(top.Find("iframe"), blank); err != nil {
		t.Fatal(err)
	}
	if o := blank.Origin(); o != "https://a.test" {
		t.Errorf("about:blank origin: got %q", o)
	}

	f1 := mustParse(t, `<iframe></iframe>`, "file:///tmp/a.html")
	f2 := mustParse(t, `<p>x</p>`, "file:///tmp/b.html")
	if err := f1.Attach(f1.Find("iframe"), f2); err != nil {
		t.Fatal(err)
	}
	if SameOrigin(f1, f2) {
		t.Error("file documents must not share an origin")
	}
	tree := NewTree(f1)
	if _, err := tree.ContentDocument(f1.Find("iframe")); err == nil {
		t.Error("expected access denied between file documents")
	}
	tree.AllowFileAccess = true
	if d, err := tree.ContentDocument(f1.Find("iframe")); err != nil || d != nodepath.Document(f2) {
		t.Errorf("file access allowed: got %v, %v", d, err)
	}
}

func TestAttach_Errors(t *testing.T) {
	a := mustParse(t, `<iframe></iframe><p></p>`, "https://a.test/")
	b := mustParse(t, `<iframe></iframe>`, "https://a.test/b")
	c := mustParse(t, `<p></p>`, "https://a.test/c")

	if err := a.Attach(a.Find("p"), c); err == nil {
		t.Error("attach to a non-iframe: expected error")
	}
	if err := a.Attach(b.Find("iframe"), c); err == nil {
		t.Error("attach to a foreign iframe: expected error")
	}
	if err := a.Attach(a.Find("iframe"), c); err != nil {
		t.Fatal(err)
	}
	if err := b.Attach(b.Find("iframe"), c); err == nil {
		t.Error("attach twice: expected error")
	}
}

func TestLoad_FollowsFrames(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>top</h1><iframe src="/child"></iframe></body></html>`)
	})
	mux.HandleFunc("/child", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><iframe src="/leaf"></iframe></body></html>`)
	})
	mux.HandleFunc("/leaf", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><img src="x.png"></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	top, err := Load(context.Background(), DefaultFetcher{}, srv.URL+"/", 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	tree := NewTree(top)
	p := nodepath.Path("/html[1]/body[1]/iframe[1]/html[1]/body[1]/iframe[1]/html[1]/body[1]/img[1]")
	got := nodepath.Decode(tree, top, p)
	hn, ok := got.(*html.Node)
	if !ok || hn.Data != "img" {
		t.Fatalf("decode through loaded frames: got %v", got)
	}
	if back := nodepath.Encode(tree, hn); back != p {
		t.Errorf("encode: got %q, want %q", back, p)
	}
}
