// Package app wires the library index service together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/zimshelf/internal/archive"
	"github.com/mmcdole/zimshelf/internal/bookmark"
	"github.com/mmcdole/zimshelf/internal/catalog"
	"github.com/mmcdole/zimshelf/internal/config"
	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/mmcdole/zimshelf/internal/events"
	"github.com/mmcdole/zimshelf/internal/favicon"
	"github.com/mmcdole/zimshelf/internal/library"
	"github.com/mmcdole/zimshelf/internal/prefs"
	"github.com/mmcdole/zimshelf/internal/query"
	"github.com/mmcdole/zimshelf/internal/reader"
	"github.com/mmcdole/zimshelf/internal/store"
)

const drainTimeout = 2 * time.Second

// App owns every long-lived component.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DB        *store.LibraryStore
	Bus       *events.Bus
	Records   *library.Store
	Prefs     *prefs.Prefs
	Catalog   *catalog.Client
	Scanner   *archive.Scanner
	Ingestor  *library.Ingestor
	Queries   *query.Engine
	Favicons  *favicon.Coordinator
	Bookmarks *bookmark.Index
	Reader    *reader.Launcher

	stopFaviconWatch func()
}

// New opens the store under cfg.Library.DataDir and restores persisted
// state. An empty data dir keeps everything in memory.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.NewLibraryStore(cfg.Library.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open library store: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, DB: db}
	a.Bus = events.NewBus(logger.With("component", "bus"))
	a.Records = library.NewStore(db, a.Bus, logger.With("component", "records"))
	a.Prefs = prefs.New(db, logger)
	a.Catalog = catalog.NewClient(cfg.Library.CatalogURL, logger.With("component", "catalog"))
	a.Scanner = archive.NewScanner(cfg.Library.Dirs, logger.With("component", "scanner"))
	a.Ingestor = library.NewIngestor(a.Records, a.Catalog, a.Scanner, a.Prefs, logger.With("component", "ingest"))
	a.Bookmarks = bookmark.NewIndex(db, a.Bus, cfg.Search.RecentCap, logger.With("component", "bookmarks"))
	a.Reader = reader.NewLauncher(cfg.Reader.Command, cfg.Reader.Args, logger.With("component", "reader"))

	if err := a.restore(); err != nil {
		a.Bookmarks.Close()
		a.Bus.Close()
		db.Close()
		return nil, err
	}

	a.Queries = query.NewEngine(a.Records, a.Bus, cfg.Query.Locale, logger.With("component", "query"))
	a.Favicons = favicon.NewCoordinator(a.Catalog, a.Records, favicon.Config{
		MaxConcurrent:  cfg.Favicon.MaxConcurrent,
		MaxAttempts:    cfg.Favicon.MaxAttempts,
		AttemptTimeout: cfg.Favicon.AttemptTimeout,
		InitialBackoff: cfg.Favicon.InitialBackoff,
		MaxBackoff:     cfg.Favicon.MaxBackoff,
		RatePerSecond:  cfg.Favicon.RatePerSecond,
	}, logger.With("component", "favicon"))
	if cfg.Favicon.AutoFetch {
		a.stopFaviconWatch = a.Favicons.Watch(a.Bus)
	}

	logger.Info("library opened", "archives", a.Records.Len(), "data_dir", cfg.Library.DataDir)
	return a, nil
}

// restore loads persisted records and bookmarks and seeds the bus with them
// so later events for those ids pass lifecycle checks.
func (a *App) restore() error {
	ids, err := a.Records.Load()
	if err != nil {
		return err
	}
	a.Bus.Seed(domain.EntityArchive, ids...)

	bookmarks, searches, err := a.Bookmarks.Load()
	if err != nil {
		return err
	}
	a.Bus.Seed(domain.EntityBookmark, bookmarks...)
	a.Bus.Seed(domain.EntityRecentSearch, searches...)
	return nil
}

// DefaultQuery returns the saved library query, falling back to the
// configured sort key and direction when the user has not picked one.
func (a *App) DefaultQuery() domain.QuerySpec {
	spec := a.Prefs.QueryDefaults(a.Config.Query.DefaultAscending)
	if _, stored := a.DB.GetPreference(prefs.SortKey.Name); !stored {
		if key, err := domain.ParseSortKey(a.Config.Query.DefaultSortKey); err == nil {
			spec.SortKey = key
		}
		if _, stored := a.DB.GetPreference(prefs.SortAscending.Name); !stored {
			spec.Ascending = a.Config.Query.DefaultAscending(spec.SortKey)
		}
	}
	return spec
}

// AutoRefreshDue reports whether the catalog should be refreshed on startup.
func (a *App) AutoRefreshDue(maxAge time.Duration) bool {
	if !prefs.Get(a.Prefs, prefs.AutoRefresh) {
		return false
	}
	last := prefs.Get(a.Prefs, prefs.LastRefreshTime)
	return last.IsZero() || time.Since(last) > maxAge
}

// Close stops background work, lets pending notifications reach their
// subscribers and closes the store.
func (a *App) Close() error {
	if a.stopFaviconWatch != nil {
		a.stopFaviconWatch()
	}
	a.Favicons.Close()
	a.Queries.Close()
	a.Bookmarks.Close()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := a.Bus.Drain(ctx); err != nil {
		a.Logger.Warn("closing with undelivered events", "error", err)
	}
	a.Bus.Close()

	if err := a.DB.Close(); err != nil {
		a.Logger.Error("failed to close library store", "error", err)
		return err
	}
	return nil
}
