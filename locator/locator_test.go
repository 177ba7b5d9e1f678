package locator_test

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/a11ypanel/dom"
	"github.com/hazyhaar/a11ypanel/locator"
	"github.com/hazyhaar/a11ypanel/nodepath"
)

func page(t *testing.T) (*dom.Document, *dom.Document) {
	t.Helper()
	top, err := dom.ParseString(`<main><p>a</p><iframe></iframe></main>`, "https://a.test/")
	if err != nil {
		t.Fatal(err)
	}
	child, err := dom.ParseString(`<form><input><button>ok</button></form>`, "https://a.test/frame")
	if err != nil {
		t.Fatal(err)
	}
	if err := top.Attach(top.Find("iframe"), child); err != nil {
		t.Fatal(err)
	}
	return top, child
}

func TestDescribe(t *testing.T) {
	top, child := page(t)
	in := dom.NewInspector(top)
	in.Select(child.Find("button"))

	sel, err := locator.New(in).Describe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := nodepath.Path("/html[1]/body[1]/main[1]/iframe[1]/html[1]/body[1]/form[1]/button[1]")
	if sel.Path != want {
		t.Errorf("path: got %q, want %q", sel.Path, want)
	}
	if sel.Label != "<button>" {
		t.Errorf("label: got %q", sel.Label)
	}
}

func TestDescribe_NoSelection(t *testing.T) {
	top, _ := page(t)
	if _, err := locator.New(dom.NewInspector(top)).Describe(context.Background()); err == nil {
		t.Fatal("expected error without a selection")
	}
}

func TestResolveAndHighlight(t *testing.T) {
	top, child := page(t)
	in := dom.NewInspector(top)

	var settledAfter int
	var settledFound bool
	lc := locator.New(in, locator.WithSettled(func(found bool) {
		settledFound = found
		settledAfter = len(in.Inspected())
	}))

	path := nodepath.Path("/html[1]/body[1]/main[1]/iframe[1]/html[1]/body[1]/form[1]/input[1]")
	if !lc.ResolveAndHighlight(context.Background(), path) {
		t.Fatal("expected the node to be found")
	}
	inspected := in.Inspected()
	if len(inspected) != 1 || inspected[0] != child.Find("input") {
		t.Fatalf("inspected: got %v", inspected)
	}
	scrolls := in.Scrolls()
	if len(scrolls) != 1 {
		t.Fatalf("scrolls: got %d, want 1", len(scrolls))
	}
	if scrolls[0].Options.Offset != locator.DefaultScrollOffset || !scrolls[0].Options.Smooth {
		t.Errorf("scroll options: got %+v", scrolls[0].Options)
	}
	if !settledFound || settledAfter != 1 {
		t.Errorf("settled hook: found=%v after %d inspections, want true after 1", settledFound, settledAfter)
	}
}

func TestResolveAndHighlight_Missing(t *testing.T) {
	top, _ := page(t)
	in := dom.NewInspector(top)
	settled := false
	lc := locator.New(in, locator.WithSettled(func(found bool) { settled = !found }))

	if lc.ResolveAndHighlight(context.Background(), "/html[1]/body[1]/aside[1]") {
		t.Fatal("expected not found")
	}
	if len(in.Inspected()) != 0 {
		t.Error("nothing should be inspected")
	}
	if !settled {
		t.Error("settled hook not run on failure")
	}
}

func TestResolveAndHighlight_HookPanicSwallowed(t *testing.T) {
	top, _ := page(t)
	lc := locator.New(dom.NewInspector(top), locator.WithSettled(func(bool) { panic("focus target gone") }))
	if !lc.ResolveAndHighlight(context.Background(), "/html[1]/body[1]/main[1]/p[1]") {
		t.Fatal("expected found")
	}
}

func TestSelectDocumentRoot(t *testing.T) {
	top, _ := page(t)
	in := dom.NewInspector(top)
	if !locator.New(in).SelectDocumentRoot(context.Background()) {
		t.Fatal("expected document element selected")
	}
	if got := in.Inspected(); len(got) != 1 || got[0] != top.Element() {
		t.Errorf("inspected: got %v", got)
	}
}

func TestWatch(t *testing.T) {
	top, _ := page(t)
	in := dom.NewInspector(top)
	lc := locator.New(in)

	got := make(chan locator.Selection, 1)
	if !lc.Watch(func(s locator.Selection) { got <- s }) {
		t.Fatal("inspector should support notifications")
	}
	in.Select(top.Find("p"))

	select {
	case s := <-got:
		if s.Path != "/html[1]/body[1]/main[1]/p[1]" {
			t.Errorf("path: got %q", s.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no selection notification")
	}
}
