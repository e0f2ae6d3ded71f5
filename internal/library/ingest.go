package library

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/mmcdole/zimshelf/internal/prefs"
	"golang.org/x/sync/singleflight"
)

const defaultChunkSize = 50

// ProgressFunc reports how many catalog entries have been loaded so far.
type ProgressFunc func(loaded, total int)

// RefreshResult summarizes a catalog refresh.
type RefreshResult struct {
	Fetched  int
	Inserted int
	Updated  int
	Removed  int
}

// ScanResult summarizes a local scan.
type ScanResult struct {
	Found   int
	Added   int
	Missing int
	Removed int
}

// Ingestor feeds the record store from the remote catalog and from
// archives on disk. Catalog calls hit the network; scans hit the disk.
type Ingestor struct {
	records *Store
	catalog domain.CatalogClient
	lister  domain.ArchiveLister
	prefs   *prefs.Prefs // May be nil
	logger  *slog.Logger

	chunkSize int
	now       func() time.Time
	refreshes singleflight.Group

	mu      sync.Mutex
	running *sharedRefresh
}

// sharedRefresh is the context of the refresh in flight. It is cancelled
// once every caller waiting on it has given up.
type sharedRefresh struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewIngestor creates an ingestor. catalog, lister and p may be nil when
// the corresponding source is not configured.
func NewIngestor(records *Store, catalog domain.CatalogClient, lister domain.ArchiveLister, p *prefs.Prefs, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		records:   records,
		catalog:   catalog,
		lister:    lister,
		prefs:     p,
		logger:    logger,
		chunkSize: defaultChunkSize,
		now:       time.Now,
	}
}

// Refresh pulls the whole catalog into the store. Concurrent calls share
// one refresh, reported through the first caller's onProgress. A caller
// whose ctx ends stops waiting; the shared refresh is cancelled only when
// no caller is left. Records the catalog no longer lists are removed
// unless they are on this device.
func (in *Ingestor) Refresh(ctx context.Context, onProgress ProgressFunc) (RefreshResult, error) {
	if in.catalog == nil {
		return RefreshResult{}, fmt.Errorf("no catalog configured: %w", domain.ErrCatalogOffline)
	}

	run := in.joinRefresh(ctx)
	defer in.leaveRefresh(run)

	ch := in.refreshes.DoChan("refresh", func() (any, error) {
		defer in.finishRefresh(run)
		return in.refresh(run.ctx, onProgress)
	})

	select {
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			in.logger.Debug("joined running catalog refresh")
		}
		if r.Err != nil {
			return RefreshResult{}, r.Err
		}
		return r.Val.(RefreshResult), nil
	}
}

func (in *Ingestor) joinRefresh(ctx context.Context) *sharedRefresh {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.running == nil {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		in.running = &sharedRefresh{ctx: runCtx, cancel: cancel}
	}
	in.running.waiters++
	return in.running
}

func (in *Ingestor) leaveRefresh(run *sharedRefresh) {
	in.mu.Lock()
	defer in.mu.Unlock()
	run.waiters--
	if run.waiters == 0 {
		run.cancel()
		if in.running == run {
			in.running = nil
			// The abandoned flight may still be unwinding; the next caller starts fresh
			in.refreshes.Forget("refresh")
		}
	}
}

func (in *Ingestor) finishRefresh(run *sharedRefresh) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.running == run {
		in.running = nil
	}
}

func (in *Ingestor) refresh(ctx context.Context, onProgress ProgressFunc) (RefreshResult, error) {
	entries, err := fetchAll(ctx, in.catalog.FetchEntries, in.chunkSize, onProgress)
	if err != nil {
		in.logger.Error("failed to fetch catalog", "error", err)
		return RefreshResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return RefreshResult{}, err
	}

	snap := in.records.Snapshot()
	listed := make(map[string]bool, len(entries))
	batch := make([]domain.ArchiveRecord, 0, len(entries))
	var res RefreshResult
	res.Fetched = len(entries)

	for _, e := range entries {
		if e.ID == "" || listed[e.ID] {
			continue
		}
		listed[e.ID] = true

		// The store keeps local records local and their on-disk size
		batch = append(batch, domain.ArchiveRecord{
			ID:            e.ID,
			Title:         e.Title,
			LanguageCode:  e.LanguageCode,
			SizeBytes:     e.SizeBytes,
			CreationDate:  e.CreationDate,
			ArticleCount:  e.ArticleCount,
			OnDeviceState: domain.StateCloud,
		})
		if _, ok := snap.Get(e.ID); ok {
			res.Updated++
		} else {
			res.Inserted++
		}
	}

	if err := in.records.UpsertBatch(batch, domain.WithResync()); err != nil {
		in.logger.Error("failed to apply catalog", "error", err)
		return RefreshResult{}, err
	}

	var delisted []string
	for _, rec := range snap.All() {
		if !listed[rec.ID] {
			delisted = append(delisted, rec.ID)
		}
	}
	gone := in.records.RemoveIf(delisted, func(cur domain.ArchiveRecord) bool {
		return cur.OnDeviceState != domain.StateLocal
	})
	res.Removed = len(gone)

	ids := make([]string, 0, len(listed))
	for id := range listed {
		ids = append(ids, id)
	}
	in.saveCatalogState(ids)

	in.logger.Info("catalog refreshed", "fetched", res.Fetched, "inserted", res.Inserted, "removed", res.Removed)
	return res, nil
}

func (in *Ingestor) saveCatalogState(ids []string) {
	if in.prefs == nil {
		return
	}
	if err := prefs.Set(in.prefs, prefs.CatalogIDs, ids); err != nil {
		in.logger.Error("failed to save catalog ids", "error", err)
	}
	if err := prefs.Set(in.prefs, prefs.LastRefreshTime, in.now()); err != nil {
		in.logger.Error("failed to save refresh time", "error", err)
	}
}

// catalogListed returns the ids of the last catalog refresh.
func (in *Ingestor) catalogListed() map[string]bool {
	if in.prefs == nil {
		return nil
	}
	ids := prefs.Get(in.prefs, prefs.CatalogIDs)
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Scan reconciles the store with the archives on disk. Local records whose
// file is gone become missing, or are removed when the catalog does not
// list them either.
func (in *Ingestor) Scan(ctx context.Context) (ScanResult, error) {
	if in.lister == nil {
		return ScanResult{}, nil
	}

	archives, err := in.lister.ListOnDiskArchives(ctx)
	if err != nil {
		in.logger.Error("failed to scan library directories", "error", err)
		return ScanResult{}, err
	}

	snap := in.records.Snapshot()
	found := make(map[string]bool, len(archives))
	batch := make([]domain.ArchiveRecord, 0, len(archives))
	res := ScanResult{Found: len(archives)}

	for _, a := range archives {
		found[a.ID] = true
		rec := domain.ArchiveRecord{
			ID:            a.ID,
			SizeBytes:     a.SizeBytes,
			FilePath:      a.FilePath,
			OnDeviceState: domain.StateLocal,
		}
		if _, ok := snap.Get(a.ID); !ok {
			rec.Title = a.Title
			res.Added++
		}
		batch = append(batch, rec)
	}
	if err := in.records.UpsertBatch(batch); err != nil {
		in.logger.Error("failed to apply scan", "error", err)
		return ScanResult{}, err
	}

	listed := in.catalogListed()
	vanished := make(map[string]string) // Id to the path that is gone
	var missing []domain.ArchiveRecord
	var delisted []string
	for _, rec := range in.records.All() {
		if rec.OnDeviceState != domain.StateLocal || found[rec.ID] {
			continue
		}
		// Added by path outside the library directories
		if a, err := in.lister.ReadArchive(rec.FilePath); err == nil && a.ID == rec.ID {
			continue
		}
		vanished[rec.ID] = rec.FilePath
		if listed[rec.ID] {
			missing = append(missing, domain.ArchiveRecord{ID: rec.ID, OnDeviceState: domain.StateMissing})
		} else {
			delisted = append(delisted, rec.ID)
		}
	}

	// Records re-added elsewhere since the check keep their new file
	stillVanished := func(cur domain.ArchiveRecord) bool {
		path, ok := vanished[cur.ID]
		return ok && cur.OnDeviceState == domain.StateLocal && cur.FilePath == path
	}
	if err := in.records.UpsertBatch(missing, domain.WithCondition(stillVanished)); err != nil {
		in.logger.Error("failed to mark missing archives", "error", err)
		return ScanResult{}, err
	}
	after := in.records.Snapshot()
	for _, m := range missing {
		if rec, ok := after.Get(m.ID); ok && rec.OnDeviceState == domain.StateMissing {
			res.Missing++
		}
	}
	gone := in.records.RemoveIf(delisted, stillVanished)
	res.Removed = len(gone)

	in.logger.Info("library scanned", "found", res.Found, "added", res.Added, "missing", res.Missing, "removed", res.Removed)
	return res, nil
}

// AddFile opens the ZIM file at path and records it as local.
func (in *Ingestor) AddFile(ctx context.Context, path string) (domain.ArchiveRecord, error) {
	if in.lister == nil {
		return domain.ArchiveRecord{}, fmt.Errorf("no archive reader configured")
	}
	if err := ctx.Err(); err != nil {
		return domain.ArchiveRecord{}, err
	}

	a, err := in.lister.ReadArchive(path)
	if err != nil {
		in.logger.Error("failed to open archive", "path", path, "error", err)
		return domain.ArchiveRecord{}, err
	}

	rec := domain.ArchiveRecord{
		ID:            a.ID,
		SizeBytes:     a.SizeBytes,
		FilePath:      a.FilePath,
		OnDeviceState: domain.StateLocal,
	}
	if _, ok := in.records.Get(a.ID); !ok {
		rec.Title = a.Title
	}
	if err := in.records.Upsert(rec); err != nil {
		return domain.ArchiveRecord{}, err
	}

	stored, _ := in.records.Get(a.ID)
	in.logger.Info("archive added", "id", a.ID, "path", a.FilePath)
	return stored, nil
}

// Forget removes an archive record. The next catalog refresh lists it
// again if the catalog still carries it.
func (in *Ingestor) Forget(id string) bool {
	if _, ok := in.records.Get(id); !ok {
		return false
	}
	in.records.Remove(id)
	in.logger.Info("archive forgotten", "id", id)
	return true
}

// fetchAll is a generic pagination helper.
func fetchAll[T any](
	ctx context.Context,
	fetch func(ctx context.Context, offset, limit int) ([]T, int, error),
	chunkSize int,
	onProgress ProgressFunc,
) ([]T, error) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	var all []T
	offset := 0

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		items, total, err := fetch(ctx, offset, chunkSize)
		if err != nil {
			return nil, err
		}

		all = append(all, items...)

		if onProgress != nil {
			onProgress(len(all), total)
		}

		if len(all) >= total || len(items) == 0 {
			break
		}
		offset += len(items)
	}

	return all, nil
}
