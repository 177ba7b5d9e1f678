package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/a11ypanel/channel"
	"github.com/hazyhaar/a11ypanel/coordinator"
	"github.com/hazyhaar/a11ypanel/dom"
	"github.com/hazyhaar/a11ypanel/engine"
	"github.com/hazyhaar/a11ypanel/locator"
	"github.com/hazyhaar/a11ypanel/report"
	"github.com/hazyhaar/a11ypanel/session"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func writePage(t *testing.T, dir, name, src string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRunLocate(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, "page.html",
		`<html><body><p>one</p><p id="two">two</p></body></html>`)

	var out bytes.Buffer
	if err := runLocate(context.Background(), quiet, &out, page, "/html[1]/body[1]/p[2]"); err != nil {
		t.Fatal(err)
	}
	var got locateResult
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal %q: %v", out.String(), err)
	}
	if got.Resolved != "/html[1]/body[1]/p[2]" {
		t.Errorf("resolved = %q", got.Resolved)
	}
	if !strings.Contains(got.HTML, `id="two"`) {
		t.Errorf("html = %q", got.HTML)
	}
}

func TestRunLocate_IntoFrame(t *testing.T) {
	dir := t.TempDir()
	writePage(t, dir, "inner.html", `<html><body><button>go</button></body></html>`)
	page := writePage(t, dir, "outer.html",
		`<html><body><iframe src="inner.html"></iframe></body></html>`)

	var out bytes.Buffer
	path := "/html[1]/body[1]/iframe[1]/html[1]/body[1]/button[1]"
	if err := runLocate(context.Background(), quiet, &out, page, path); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "\\u003cbutton\\u003ego") && !strings.Contains(out.String(), "<button>go") {
		t.Errorf("output = %s", out.String())
	}
}

func TestRunLocate_Missing(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, "page.html", `<html><body><p>one</p></body></html>`)

	err := runLocate(context.Background(), quiet, io.Discard, page, "/html[1]/body[1]/p[5]")
	if err == nil || !strings.Contains(err.Error(), "no element") {
		t.Errorf("got %v, want no element error", err)
	}
}

func TestRunLocate_BadPath(t *testing.T) {
	if err := runLocate(context.Background(), quiet, io.Discard, "unused.html", "html/body"); err == nil {
		t.Error("expected syntax error")
	}
}

func TestDocumentURL(t *testing.T) {
	if got := documentURL("https://a.test/x"); got != "https://a.test/x" {
		t.Errorf("https url rewritten to %q", got)
	}
	got := documentURL("page.html")
	if !strings.HasPrefix(got, "file://") || !strings.HasSuffix(got, "/page.html") {
		t.Errorf("documentURL(page.html) = %q", got)
	}
}

type oneTab report.TabInfo

func (t oneTab) Tab(_ context.Context, id report.TabID) (report.TabInfo, error) {
	if id != t.ID {
		return report.TabInfo{}, coordinator.ErrUnknownTab
	}
	return report.TabInfo(t), nil
}

func TestHighlight(t *testing.T) {
	const pageURL = "https://a.test/"
	doc, err := dom.ParseString(`<html><body><p>x</p><img src="a.png"></body></html>`, pageURL)
	if err != nil {
		t.Fatal(err)
	}
	eng := engine.Func{ScanFn: func(_ context.Context, tg engine.Target) (*report.Report, error) {
		return &report.Report{Results: []report.Item{
			{RuleID: "img_alt_valid", Path: report.Path{DOM: "/html[1]/body[1]/img[1]"}, Value: []string{"VIOLATION", "FAIL"}},
		}}, nil
	}}
	hub := channel.NewHub(channel.WithLogger(quiet))
	co := coordinator.New(hub, oneTab{ID: 1, URL: pageURL}, eng, coordinator.Config{
		Archives: []report.Archive{{ID: "latest", Policies: []report.Policy{{ID: "IBM_Accessibility"}}}},
	}, coordinator.WithLogger(quiet))
	t.Cleanup(func() {
		co.Close()
		hub.Close()
	})

	port, err := hub.Connect(string(report.SurfaceMain))
	if err != nil {
		t.Fatal(err)
	}
	in := dom.NewInspector(doc)
	settled := make(chan bool, 1)
	c := session.New(port, session.Config{Surface: report.SurfaceMain, TabID: 1, RetryDelay: 5 * time.Millisecond},
		session.WithLocator(locator.New(in, locator.WithSettled(settledHook(settled)))),
		session.WithLogger(quiet))
	t.Cleanup(c.Close)

	ctx := context.Background()
	if err := c.Mount(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.RequestScan(ctx); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.State().Phase != session.Delivered {
		if time.Now().After(deadline) {
			t.Fatalf("phase = %v, want delivered", c.State().Phase)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The first delivery selects the document root.
	for len(in.Inspected()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("document root never selected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	before := len(in.Inspected())

	found, err := highlight(ctx, c, 0, settled)
	if err != nil || !found {
		t.Fatalf("highlight = %v, %v", found, err)
	}
	var tags []string
	for _, n := range in.Inspected()[before:] {
		tags = append(tags, n.Data)
	}
	if len(tags) == 0 || tags[0] != "img" {
		t.Errorf("inspected %v after highlight, want img first", tags)
	}

	if _, err := highlight(ctx, c, 5, settled); err == nil {
		t.Error("expected error for a missing finding")
	}
}
