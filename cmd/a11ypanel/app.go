package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hazyhaar/a11ypanel/blob"
	"github.com/hazyhaar/a11ypanel/channel"
	"github.com/hazyhaar/a11ypanel/coordinator"
	"github.com/hazyhaar/a11ypanel/dbopen"
	"github.com/hazyhaar/a11ypanel/engine"
	"github.com/hazyhaar/a11ypanel/internal/browser"
	"github.com/hazyhaar/a11ypanel/internal/config"
	"github.com/hazyhaar/a11ypanel/internal/sink"
	"github.com/hazyhaar/a11ypanel/report"
	"github.com/hazyhaar/a11ypanel/settings"
)

// app is the background side of the panel: browser, hub and coordinator.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	mgr      *browser.Manager
	tabs     *browser.Registry
	hub      *channel.Hub
	co       *coordinator.Coordinator
	settings settings.Store
	sinks    *sink.Router

	closers []func() error
}

func newApp(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var cache coordinator.Cache = coordinator.NewMemoryCache()
	a.settings = &settings.Memory{}
	if cfg.Settings.DBPath != "" {
		db, err := a.openDB(cfg.Settings.DBPath, settings.Schema, coordinator.CacheSchema)
		if err != nil {
			return nil, err
		}
		if a.settings, err = settings.NewSQLite(db); err != nil {
			return nil, err
		}
		if cache, err = coordinator.NewSQLiteCache(db); err != nil {
			return nil, err
		}
	}

	store, err := a.blobStore()
	if err != nil {
		return nil, err
	}
	a.hub = channel.NewHub(
		channel.WithLogger(logger),
		channel.WithBlobStore(store),
		channel.WithPolicy(cfg.Policy()),
		channel.WithMiddleware(channel.Recovery(logger), channel.Logging(logger)),
	)
	a.closers = append(a.closers, func() error { a.hub.Close(); return nil })

	a.mgr = browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Headful:          cfg.Browser.Headful,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		NavTimeout:       cfg.Browser.NavTimeout,
		Logger:           logger,
	})
	a.closers = append(a.closers, a.mgr.Close)
	if _, err := a.mgr.Start(ctx); err != nil {
		return nil, err
	}
	a.tabs = browser.NewRegistry(a.mgr)
	a.closers = append(a.closers, a.tabs.Close)

	eng, err := a.engine()
	if err != nil {
		return nil, err
	}
	a.co = coordinator.New(a.hub, a.tabs, eng, coordinator.Config{
		Archives:       cfg.Catalog.Archives,
		DefaultArchive: cfg.Catalog.DefaultArchive,
		DefaultPolicy:  cfg.Catalog.DefaultPolicy,
	},
		coordinator.WithCache(cache),
		coordinator.WithSettings(a.settings),
		coordinator.WithOpener(a.tabs),
		coordinator.WithLogger(logger),
	)
	a.closers = append(a.closers, func() error { a.co.Close(); return nil })
	a.tabs.OnNavigate(func(ctx context.Context, u report.TabUpdated) {
		if err := a.co.Navigated(ctx, u); err != nil {
			logger.Warn("a11ypanel: navigation broadcast", "tab_id", u.TabID, "error", err)
		}
	})

	a.sinks = buildSinks(cfg, logger)
	ready = true
	return a, nil
}

// Close releases everything in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) openDB(path string, schemas ...string) (*sql.DB, error) {
	opts := []dbopen.Option{dbopen.WithMkdirAll()}
	for _, s := range schemas {
		opts = append(opts, dbopen.WithSchema(s))
	}
	db, err := dbopen.Open(path, opts...)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return db, nil
}

func (a *app) blobStore() (blob.Store, error) {
	cfg := a.cfg
	switch cfg.Blob.Store {
	case "sqlite":
		db, err := a.openDB(cfg.Blob.DBPath, blob.Schema)
		if err != nil {
			return nil, err
		}
		return blob.NewSQLite(db, cfg.Transfer.BlobTTL)
	case "http":
		backing := blob.NewMemory(blob.WithTTL(cfg.Transfer.BlobTTL))
		h := blob.NewHandler(backing, cfg.Blob.BaseURL, a.logger, blob.WithRefTTL(cfg.Transfer.BlobTTL))
		srv := &http.Server{Addr: cfg.Blob.HTTPAddr, Handler: h.Routes(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			a.logger.Info("a11ypanel: blob server listening", "addr", cfg.Blob.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("a11ypanel: blob server", "error", err)
			}
		}()
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		})
		return blob.NewClient(cfg.Blob.BaseURL, blob.WithClientLogger(a.logger)), nil
	}
	return blob.NewMemory(blob.WithTTL(cfg.Transfer.BlobTTL)), nil
}

func (a *app) engine() (engine.Engine, error) {
	cfg := a.cfg.Engine
	if cfg.Kind == "remote" {
		return engine.NewRemote(cfg.URL,
			engine.WithRetries(cfg.Retries),
			engine.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			engine.WithRemoteLogger(a.logger),
		), nil
	}
	if cfg.Script == "" {
		return nil, fmt.Errorf("a11ypanel: engine.script is required for the script engine")
	}
	bundle, err := os.ReadFile(cfg.Script)
	if err != nil {
		return nil, fmt.Errorf("a11ypanel: read engine bundle: %w", err)
	}
	return engine.NewScript(a.tabs, bundle,
		engine.WithFileAccess(cfg.AllowFile),
		engine.WithScanTimeout(cfg.Timeout),
		engine.WithScriptLogger(a.logger),
	), nil
}

func buildSinks(cfg *config.Config, logger *slog.Logger) *sink.Router {
	var sinks []sink.Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, sink.NewStdout(nil))
		case "webhook":
			sinks = append(sinks, sink.NewWebhook(sc.URL,
				sink.WithWebhookRetries(sc.Retries),
				sink.WithWebhookLogger(logger)))
		default:
			logger.Warn("a11ypanel: unknown sink type", "type", sc.Type)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, sink.NewStdout(nil))
	}
	return sink.NewRouter(logger, sinks...)
}
