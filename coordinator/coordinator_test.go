package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/a11ypanel/channel"
	"github.com/hazyhaar/a11ypanel/dbopen"
	"github.com/hazyhaar/a11ypanel/engine"
	"github.com/hazyhaar/a11ypanel/idgen"
	"github.com/hazyhaar/a11ypanel/report"
	"github.com/hazyhaar/a11ypanel/settings"
)

var testArchives = []report.Archive{
	{ID: "latest", Name: "Latest", Policies: []report.Policy{{ID: "IBM_Accessibility", Name: "IBM Accessibility"}}},
	{ID: "2024.01", Name: "January 2024", Policies: []report.Policy{
		{ID: "IBM_Accessibility", Name: "IBM Accessibility"},
		{ID: "WCAG_2_1", Name: "WCAG 2.1"},
	}},
}

type tabs map[report.TabID]report.TabInfo

func (ts tabs) Tab(_ context.Context, id report.TabID) (report.TabInfo, error) {
	t, ok := ts[id]
	if !ok {
		return report.TabInfo{}, ErrUnknownTab
	}
	return t, nil
}

var testTabs = tabs{
	1: {ID: 1, URL: "https://a.test/", Title: "A"},
	2: {ID: 2, URL: "file:///tmp/b.html", Title: "B"},
}

func oneIssue(_ context.Context, t engine.Target) (*report.Report, error) {
	return &report.Report{
		TabID:  t.TabID,
		TabURL: t.URL,
		Results: []report.Item{
			{RuleID: "img_alt_valid", Path: report.Path{DOM: "/html[1]/body[1]/img[1]"}, Value: []string{"VIOLATION", "FAIL"}},
		},
	}, nil
}

type fixture struct {
	hub  *channel.Hub
	co   *Coordinator
	port *channel.Port
	got  chan channel.Message
}

func newFixture(t *testing.T, eng engine.Engine, opts ...Option) *fixture {
	t.Helper()
	hub := channel.NewHub()
	opts = append([]Option{WithIDs(idgen.Sequence("req-"))}, opts...)
	co := New(hub, testTabs, eng, Config{Archives: testArchives}, opts...)
	port, err := hub.Connect("main")
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{hub: hub, co: co, port: port, got: make(chan channel.Message, 16)}
	forward := func(_ context.Context, msg channel.Message, _ channel.ReplyFunc) bool {
		f.got <- msg
		return false
	}
	port.AddListener(channel.TypeScanComplete, forward)
	port.AddListener(channel.TypeTabUpdated, forward)
	t.Cleanup(func() {
		co.Close()
		hub.Close()
	})
	return f
}

func (f *fixture) send(t *testing.T, typ string, payload any) channel.Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := f.port.Send(ctx, typ, payload)
	if err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
	return r
}

func (f *fixture) next(t *testing.T) channel.Message {
	t.Helper()
	select {
	case msg := <-f.got:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return channel.Message{}
	}
}

func (f *fixture) completion(t *testing.T) report.ScanComplete {
	t.Helper()
	msg := f.next(t)
	if msg.Type != channel.TypeScanComplete {
		t.Fatalf("got %s, want %s", msg.Type, channel.TypeScanComplete)
	}
	var sc report.ScanComplete
	if err := msg.Decode(&sc); err != nil {
		t.Fatal(err)
	}
	return sc
}

func TestTabInfoAndArchives(t *testing.T) {
	f := newFixture(t, engine.Func{ScanFn: oneIssue})

	var tab report.TabInfo
	if err := f.send(t, channel.TypeTabInfo, report.TabRef{TabID: 1}).Decode(&tab); err != nil {
		t.Fatal(err)
	}
	if tab != testTabs[1] {
		t.Errorf("tab = %+v, want %+v", tab, testTabs[1])
	}

	if r := f.send(t, channel.TypeTabInfo, report.TabRef{TabID: 99}); !r.Empty() {
		t.Errorf("unknown tab: got %s, want no value", r.Raw)
	}

	var archives []report.Archive
	if err := f.send(t, channel.TypeArchives, struct{}{}).Decode(&archives); err != nil {
		t.Fatal(err)
	}
	if len(archives) != 2 || archives[1].ID != "2024.01" {
		t.Errorf("archives = %+v", archives)
	}
}

func TestRulesets(t *testing.T) {
	f := newFixture(t, engine.Func{
		ScanFn: oneIssue,
		RulesetsFn: func(_ context.Context, tg engine.Target) ([]report.Ruleset, error) {
			if engine.IsFileURL(tg.URL) {
				return nil, &engine.ErrFileAccess{URL: tg.URL}
			}
			return []report.Ruleset{{ID: tg.PolicyID}}, nil
		},
	})

	var rs []report.Ruleset
	if err := f.send(t, channel.TypeRulesets, report.TabRef{TabID: 1}).Decode(&rs); err != nil {
		t.Fatal(err)
	}
	if len(rs) != 1 || rs[0].ID != "IBM_Accessibility" {
		t.Errorf("rulesets = %+v", rs)
	}

	var e report.ErrorReply
	if err := f.send(t, channel.TypeRulesets, report.TabRef{TabID: 2}).Decode(&e); err != nil {
		t.Fatal(err)
	}
	want := (&engine.ErrFileAccess{URL: "file:///tmp/b.html"}).Error()
	if e.Error != want {
		t.Errorf("error = %q, want %q", e.Error, want)
	}
}

func TestScanRequest_AckThenBroadcast(t *testing.T) {
	f := newFixture(t, engine.Func{ScanFn: oneIssue})

	var ack report.Ack
	req := report.ScanRequest{TabID: 1, TabURL: "https://a.test/", Origin: report.SurfaceSub}
	if err := f.send(t, channel.TypeScanRequest, req).Decode(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.RequestID != "req-1" {
		t.Errorf("request id = %q, want req-1", ack.RequestID)
	}

	sc := f.completion(t)
	if sc.TabID != 1 || sc.TabURL != "https://a.test/" || sc.Origin != report.SurfaceSub {
		t.Errorf("completion = %+v", sc)
	}
	if sc.ArchiveID != "latest" || sc.PolicyID != "IBM_Accessibility" {
		t.Errorf("options = %s/%s", sc.ArchiveID, sc.PolicyID)
	}
	if sc.Report == nil || len(sc.Report.Results) != 1 {
		t.Fatalf("report = %+v", sc.Report)
	}
}

func TestScanRequest_LastWriterWins(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	eng := engine.Func{ScanFn: func(ctx context.Context, tg engine.Target) (*report.Report, error) {
		if calls.Add(1) == 1 {
			<-release
			return &report.Report{Results: []report.Item{{RuleID: "first"}}}, nil
		}
		return &report.Report{Results: []report.Item{{RuleID: "second"}}}, nil
	}}
	f := newFixture(t, eng)

	req := report.ScanRequest{TabID: 1, TabURL: "https://a.test/"}
	f.send(t, channel.TypeScanRequest, req)
	waitCalls(t, &calls, 1)
	f.send(t, channel.TypeScanRequest, req)

	sc := f.completion(t)
	if sc.Report.Results[0].RuleID != "second" {
		t.Fatalf("got %s, want second", sc.Report.Results[0].RuleID)
	}
	close(release)
	f.co.Wait()

	if late := f.completion(t); late.Report != nil {
		t.Fatalf("superseded scan broadcast with report %+v", late.Report.Results)
	}
	cached, ok := f.co.Cached(context.Background(), 1, "https://a.test/")
	if !ok || cached.Report.Results[0].RuleID != "second" {
		t.Errorf("cache holds %+v", cached.Report)
	}
}

func waitCalls(t *testing.T, n *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("engine called %d times, want %d", n.Load(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScanRequest_EngineFailureBroadcastsWithoutReport(t *testing.T) {
	f := newFixture(t, engine.Func{ScanFn: func(context.Context, engine.Target) (*report.Report, error) {
		return nil, errors.New("engine crashed")
	}})

	f.send(t, channel.TypeScanRequest, report.ScanRequest{TabID: 1, TabURL: "https://a.test/"})
	sc := f.completion(t)
	if sc.TabID != 1 || sc.Report != nil {
		t.Errorf("completion = %+v", sc)
	}
	if _, ok := f.co.Cached(context.Background(), 1, "https://a.test/"); ok {
		t.Error("failed scan was cached")
	}
}

func TestScanCached(t *testing.T) {
	f := newFixture(t, engine.Func{ScanFn: oneIssue})

	if r := f.send(t, channel.TypeScanCached, report.ScanRequest{TabID: 1, TabURL: "https://a.test/"}); !r.Empty() {
		t.Fatalf("empty cache replied %s", r.Raw)
	}

	f.send(t, channel.TypeScanRequest, report.ScanRequest{TabID: 1, TabURL: "https://a.test/", Origin: report.SurfaceMain})
	f.completion(t)

	var sc report.ScanComplete
	req := report.ScanRequest{TabID: 1, TabURL: "https://a.test/", Origin: report.SurfaceSub}
	if err := f.send(t, channel.TypeScanCached, req).Decode(&sc); err != nil {
		t.Fatal(err)
	}
	if sc.Origin != report.SurfaceSub || sc.Report == nil {
		t.Errorf("cached = %+v", sc)
	}

	if r := f.send(t, channel.TypeScanCached, report.ScanRequest{TabID: 1, TabURL: "https://a.test/other"}); !r.Empty() {
		t.Errorf("URL mismatch replied %s", r.Raw)
	}
}

func TestNavigated(t *testing.T) {
	f := newFixture(t, engine.Func{ScanFn: oneIssue})
	ctx := context.Background()
	if _, err := f.co.Scan(ctx, report.ScanRequest{TabID: 1}); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.co.Cached(ctx, 1, "https://a.test/"); !ok {
		t.Fatal("scan not cached")
	}

	u := report.TabUpdated{TabID: 1, Status: report.StatusLoading, TabURL: "https://a.test/next"}
	if err := f.co.Navigated(ctx, u); err != nil {
		t.Fatal(err)
	}
	msg := f.next(t)
	var got report.TabUpdated
	if err := msg.Decode(&got); err != nil {
		t.Fatal(err)
	}
	if msg.Type != channel.TypeTabUpdated || got != u {
		t.Errorf("got %s %+v, want %+v", msg.Type, got, u)
	}
	if _, ok := f.co.Cached(ctx, 1, "https://a.test/"); ok {
		t.Error("cache survived navigation")
	}
}

func TestOptionsFromSettings(t *testing.T) {
	var mu sync.Mutex
	var seen []engine.Target
	eng := engine.Func{ScanFn: func(ctx context.Context, tg engine.Target) (*report.Report, error) {
		mu.Lock()
		seen = append(seen, tg)
		mu.Unlock()
		return oneIssue(ctx, tg)
	}}
	store := &settings.Memory{}
	f := newFixture(t, eng, WithSettings(store))
	ctx := context.Background()

	cases := []struct {
		stored      settings.Options
		wantArchive string
		wantPolicy  string
	}{
		{settings.Options{}, "latest", "IBM_Accessibility"},
		{settings.Options{SelectedArchive: "2024.01", SelectedRuleset: "WCAG_2_1"}, "2024.01", "WCAG_2_1"},
		{settings.Options{SelectedArchive: "gone", SelectedRuleset: "WCAG_2_1"}, "latest", "IBM_Accessibility"},
		{settings.Options{SelectedArchive: "2024.01", SelectedRuleset: "gone"}, "2024.01", "IBM_Accessibility"},
	}
	for i, tc := range cases {
		if err := store.Save(ctx, tc.stored); err != nil {
			t.Fatal(err)
		}
		sc, err := f.co.Scan(ctx, report.ScanRequest{TabID: 1})
		if err != nil {
			t.Fatal(err)
		}
		if sc.ArchiveID != tc.wantArchive || sc.PolicyID != tc.wantPolicy {
			t.Errorf("case %d: got %s/%s, want %s/%s", i, sc.ArchiveID, sc.PolicyID, tc.wantArchive, tc.wantPolicy)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(cases) || seen[1].PolicyID != "WCAG_2_1" {
		t.Errorf("engine targets = %+v", seen)
	}
}

func TestScan_UnknownTab(t *testing.T) {
	f := newFixture(t, engine.Func{ScanFn: oneIssue})
	_, err := f.co.Scan(context.Background(), report.ScanRequest{TabID: 42})
	if !errors.Is(err, ErrUnknownTab) {
		t.Fatalf("got %v, want ErrUnknownTab", err)
	}
}

func TestSQLiteCache(t *testing.T) {
	db := dbopen.OpenMemory(t)
	c, err := NewSQLiteCache(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, 1); err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}
	sc := report.ScanComplete{TabID: 1, TabURL: "https://a.test/", ArchiveID: "latest", PolicyID: "IBM_Accessibility",
		Report: &report.Report{TabID: 1, TabURL: "https://a.test/", Results: []report.Item{{RuleID: "r1"}}}}
	if err := c.Put(ctx, sc); err != nil {
		t.Fatal(err)
	}
	sc.TabURL = "https://a.test/2"
	if err := c.Put(ctx, sc); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Get(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.TabURL != "https://a.test/2" || got.Report.Results[0].RuleID != "r1" {
		t.Errorf("got %+v", got)
	}
	if err := c.Invalidate(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, 1); ok {
		t.Error("invalidated entry still present")
	}
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	r := &report.Report{Results: []report.Item{{RuleID: "r1"}}}
	c.Put(ctx, report.ScanComplete{TabID: 1, Report: r})
	r.Results[0].RuleID = "mutated"

	got, _, _ := c.Get(ctx, 1)
	if got.Report.Results[0].RuleID != "r1" {
		t.Errorf("cache shares the caller's report")
	}
	got.Report.Results[0].RuleID = "mutated"
	again, _, _ := c.Get(ctx, 1)
	if again.Report.Results[0].RuleID != "r1" {
		t.Errorf("cache shares its report with readers")
	}
}
