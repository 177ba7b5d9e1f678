package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/a11ypanel/report"
)

// ErrUnknownTab is returned for tab ids the registry does not track.
var ErrUnknownTab = errors.New("browser: unknown tab")

// NavigateFunc receives navigation events of registered tabs.
type NavigateFunc func(ctx context.Context, u report.TabUpdated)

type tab struct {
	id     report.TabID
	page   *rod.Page
	router *rod.HijackRouter
	stop   context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	url string
}

func (t *tab) currentURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

// Registry numbers the open tabs and reports their navigation. It
// implements the coordinator's tab source and the engine's page source.
type Registry struct {
	mgr *Manager

	mu     sync.RWMutex
	tabs   map[report.TabID]*tab
	nextID report.TabID
	onNav  []NavigateFunc
}

// NewRegistry creates an empty registry on mgr.
func NewRegistry(mgr *Manager) *Registry {
	return &Registry{mgr: mgr, tabs: make(map[report.TabID]*tab)}
}

// OnNavigate registers fn for navigation events. Register before Open.
func (r *Registry) OnNavigate(fn NavigateFunc) {
	r.mu.Lock()
	r.onNav = append(r.onNav, fn)
	r.mu.Unlock()
}

// Open creates a stealth tab, navigates it to pageURL and waits for the
// load event.
func (r *Registry) Open(ctx context.Context, pageURL string) (report.TabInfo, error) {
	b := r.mgr.Browser()
	if b == nil {
		return report.TabInfo{}, fmt.Errorf("browser: no active browser")
	}
	page, err := stealth.Page(b)
	if err != nil {
		return report.TabInfo{}, fmt.Errorf("browser: create tab: %w", err)
	}

	r.mu.Lock()
	r.nextID++
	t := &tab{id: r.nextID, page: page, done: make(chan struct{})}
	r.tabs[t.id] = t
	r.mu.Unlock()

	if len(r.mgr.cfg.ResourceBlocking) > 0 {
		t.router = applyResourceBlocking(page, r.mgr.cfg.ResourceBlocking)
	}
	r.watch(t)

	if err := r.Navigate(ctx, t.id, pageURL); err != nil {
		r.CloseTab(t.id)
		return report.TabInfo{}, err
	}
	return r.Tab(ctx, t.id)
}

// Navigate loads pageURL in tab id. Navigation events are emitted by the
// page itself, so user-driven navigation is reported the same way.
func (r *Registry) Navigate(ctx context.Context, id report.TabID, pageURL string) error {
	t, err := r.lookup(id)
	if err != nil {
		return err
	}
	navCtx, cancel := context.WithTimeout(ctx, r.mgr.cfg.NavTimeout)
	defer cancel()

	if err := t.page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := t.page.Context(navCtx).WaitLoad(); err != nil {
		r.mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return nil
}

// Tab returns the current URL and title of tab id.
func (r *Registry) Tab(_ context.Context, id report.TabID) (report.TabInfo, error) {
	t, err := r.lookup(id)
	if err != nil {
		return report.TabInfo{}, err
	}
	info, err := t.page.Info()
	if err != nil {
		return report.TabInfo{}, fmt.Errorf("browser: tab %d info: %w", id, err)
	}
	return report.TabInfo{ID: id, URL: info.URL, Title: info.Title}, nil
}

// Page returns the rod page of tab id.
func (r *Registry) Page(_ context.Context, id report.TabID) (*rod.Page, error) {
	t, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.page, nil
}

// CloseTab closes tab id and stops its event watcher.
func (r *Registry) CloseTab(id report.TabID) error {
	r.mu.Lock()
	t, ok := r.tabs[id]
	delete(r.tabs, id)
	r.mu.Unlock()
	if !ok {
		return ErrUnknownTab
	}
	t.stop()
	<-t.done
	if t.router != nil {
		t.router.Stop()
	}
	return t.page.Close()
}

// Close closes every tab.
func (r *Registry) Close() error {
	r.mu.RLock()
	ids := make([]report.TabID, 0, len(r.tabs))
	for id := range r.tabs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	var firstErr error
	for _, id := range ids {
		if err := r.CloseTab(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) lookup(id report.TabID) (*tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tabs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTab, id)
	}
	return t, nil
}

// watch turns main frame navigation into TabUpdated events: loading when
// the frame commits a new document, complete on the load event.
func (r *Registry) watch(t *tab) {
	ctx, cancel := context.WithCancel(context.Background())
	t.stop = cancel

	wait := t.page.Context(ctx).EachEvent(
		func(e *proto.PageFrameNavigated) {
			if e.Frame.ParentID != "" {
				return
			}
			t.mu.Lock()
			t.url = e.Frame.URL
			t.mu.Unlock()
			r.emit(ctx, report.TabUpdated{TabID: t.id, Status: report.StatusLoading, TabURL: e.Frame.URL})
		},
		func(e *proto.PageLoadEventFired) {
			r.emit(ctx, report.TabUpdated{TabID: t.id, Status: report.StatusComplete, TabURL: t.currentURL()})
		},
	)
	go func() {
		defer close(t.done)
		wait()
	}()
}

func (r *Registry) emit(ctx context.Context, u report.TabUpdated) {
	r.mu.RLock()
	fns := r.onNav
	r.mu.RUnlock()
	r.mgr.cfg.Logger.Debug("browser: navigation", "tab_id", u.TabID, "status", u.Status, "url", u.TabURL)
	for _, fn := range fns {
		fn(ctx, u)
	}
}
