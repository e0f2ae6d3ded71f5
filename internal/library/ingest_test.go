package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/mmcdole/zimshelf/internal/prefs"
	"github.com/mmcdole/zimshelf/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCatalog serves entries in pages.
type fakeCatalog struct {
	mu      sync.Mutex
	entries []domain.CatalogEntry
	err     error
	calls   atomic.Int32
	gate    chan struct{} // Optional; blocks each page until closed
}

func (f *fakeCatalog) FetchEntries(ctx context.Context, offset, limit int) ([]domain.CatalogEntry, int, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, 0, f.err
	}
	if offset >= len(f.entries) {
		return nil, len(f.entries), nil
	}
	end := min(offset+limit, len(f.entries))
	return append([]domain.CatalogEntry(nil), f.entries[offset:end]...), len(f.entries), nil
}

func (f *fakeCatalog) set(entries ...domain.CatalogEntry) {
	f.mu.Lock()
	f.entries = entries
	f.mu.Unlock()
}

// fakeLister returns a fixed set of on-disk archives.
type fakeLister struct {
	mu       sync.Mutex
	archives map[string]domain.OnDiskArchive // By path
	hook     func()                          // Optional; runs on the next ReadArchive miss
}

func newFakeLister() *fakeLister {
	return &fakeLister{archives: make(map[string]domain.OnDiskArchive)}
}

func (f *fakeLister) put(a domain.OnDiskArchive) {
	f.mu.Lock()
	f.archives[a.FilePath] = a
	f.mu.Unlock()
}

func (f *fakeLister) drop(path string) {
	f.mu.Lock()
	delete(f.archives, path)
	f.mu.Unlock()
}

func (f *fakeLister) ListOnDiskArchives(ctx context.Context) ([]domain.OnDiskArchive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.OnDiskArchive, 0, len(f.archives))
	for _, a := range f.archives {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeLister) ReadArchive(path string) (domain.OnDiskArchive, error) {
	f.mu.Lock()
	a, ok := f.archives[path]
	hook := f.hook
	f.hook = nil
	f.mu.Unlock()
	if ok {
		return a, nil
	}
	if hook != nil {
		hook()
	}
	return domain.OnDiskArchive{}, os.ErrNotExist
}

type ingestFixture struct {
	store   *Store
	catalog *fakeCatalog
	lister  *fakeLister
	prefs   *prefs.Prefs
	in      *Ingestor
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	db, err := store.NewLibraryStore("")
	require.NoError(t, err)

	f := &ingestFixture{
		store:   NewStore(db, nil, nil),
		catalog: &fakeCatalog{},
		lister:  newFakeLister(),
		prefs:   prefs.New(db, nil),
	}
	f.in = NewIngestor(f.store, f.catalog, f.lister, f.prefs, nil)
	f.in.chunkSize = 2
	return f
}

func entry(id, title, lang string) domain.CatalogEntry {
	return domain.CatalogEntry{ID: id, Title: title, LanguageCode: lang, SizeBytes: 100, CreationDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestIngestor_RefreshPagesThroughCatalog(t *testing.T) {
	f := newIngestFixture(t)
	f.catalog.set(entry("a", "A", "en"), entry("b", "B", "fr"), entry("c", "C", "de"))

	var progress [][2]int
	res, err := f.in.Refresh(context.Background(), func(loaded, total int) {
		progress = append(progress, [2]int{loaded, total})
	})
	require.NoError(t, err)

	assert.Equal(t, RefreshResult{Fetched: 3, Inserted: 3}, res)
	assert.Equal(t, [][2]int{{2, 3}, {3, 3}}, progress)
	assert.Equal(t, 3, f.store.Len())

	rec, ok := f.store.Get("b")
	require.True(t, ok)
	assert.Equal(t, domain.StateCloud, rec.OnDeviceState)
	assert.Equal(t, "fr", rec.LanguageCode)

	assert.False(t, prefs.Get(f.prefs, prefs.LastRefreshTime).IsZero())
	assert.ElementsMatch(t, []string{"a", "b", "c"}, prefs.Get(f.prefs, prefs.CatalogIDs))
}

func TestIngestor_RefreshRemovesDelistedUnlessLocal(t *testing.T) {
	f := newIngestFixture(t)
	f.catalog.set(entry("a", "A", "en"), entry("b", "B", "en"), entry("c", "C", "en"))
	_, err := f.in.Refresh(context.Background(), nil)
	require.NoError(t, err)

	f.lister.put(domain.OnDiskArchive{ID: "b", FilePath: "/zim/b.zim", SizeBytes: 42})
	_, err = f.in.Scan(context.Background())
	require.NoError(t, err)

	f.catalog.set(entry("a", "A2", "en"))
	res, err := f.in.Refresh(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)

	_, ok := f.store.Get("c")
	assert.False(t, ok)

	b, ok := f.store.Get("b")
	require.True(t, ok)
	assert.Equal(t, domain.StateLocal, b.OnDeviceState)

	a, _ := f.store.Get("a")
	assert.Equal(t, "A2", a.Title)
}

func TestIngestor_RefreshKeepsLocalSize(t *testing.T) {
	f := newIngestFixture(t)
	f.lister.put(domain.OnDiskArchive{ID: "a", FilePath: "/zim/a.zim", SizeBytes: 42, Title: "a file"})
	_, err := f.in.Scan(context.Background())
	require.NoError(t, err)

	f.catalog.set(entry("a", "Proper Title", "en"))
	_, err = f.in.Refresh(context.Background(), nil)
	require.NoError(t, err)

	a, _ := f.store.Get("a")
	assert.Equal(t, "Proper Title", a.Title)
	assert.Equal(t, uint64(42), a.SizeBytes)
	assert.Equal(t, domain.StateLocal, a.OnDeviceState)
}

func TestIngestor_MissingArchiveReturnsToCloud(t *testing.T) {
	f := newIngestFixture(t)
	f.catalog.set(entry("a", "A", "en"))
	_, err := f.in.Refresh(context.Background(), nil)
	require.NoError(t, err)

	f.lister.put(domain.OnDiskArchive{ID: "a", FilePath: "/zim/a.zim", SizeBytes: 42})
	_, err = f.in.Scan(context.Background())
	require.NoError(t, err)

	f.lister.drop("/zim/a.zim")
	res, err := f.in.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Missing)

	a, _ := f.store.Get("a")
	assert.Equal(t, domain.StateMissing, a.OnDeviceState)
	assert.Empty(t, a.FilePath)

	_, err = f.in.Refresh(context.Background(), nil)
	require.NoError(t, err)
	a, _ = f.store.Get("a")
	assert.Equal(t, domain.StateCloud, a.OnDeviceState)
}

// hookPublisher calls fn for every published event.
type hookPublisher struct{ fn func(domain.Event) }

func (h hookPublisher) Publish(e domain.Event) { h.fn(e) }

func TestIngestor_RefreshKeepsArchiveThatTurnsLocal(t *testing.T) {
	done := make(chan error, 1)
	var s *Store
	s = NewStore(nil, hookPublisher{fn: func(e domain.Event) {
		// A download completes while the refresh is applying the catalog
		if e.Kind == domain.EventInserted && e.ID == "listed" {
			go func() {
				done <- s.Upsert(domain.ArchiveRecord{ID: "x", OnDeviceState: domain.StateLocal, FilePath: "/lib/x.zim"})
			}()
		}
	}}, nil)
	for i := 0; i < 2000; i++ {
		require.NoError(t, s.Upsert(domain.ArchiveRecord{ID: fmt.Sprintf("old-%d", i), OnDeviceState: domain.StateCloud}))
	}
	require.NoError(t, s.Upsert(domain.ArchiveRecord{ID: "x", Title: "X", OnDeviceState: domain.StateCloud}))

	catalog := &fakeCatalog{}
	catalog.set(entry("listed", "Listed", "en"))
	in := NewIngestor(s, catalog, nil, nil, nil)

	res, err := in.Refresh(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, <-done)

	x, ok := s.Get("x")
	require.True(t, ok)
	assert.Equal(t, domain.StateLocal, x.OnDeviceState)
	assert.Equal(t, "/lib/x.zim", x.FilePath)
	assert.GreaterOrEqual(t, res.Removed, 2000)
	assert.Equal(t, 2, s.Len())
}

func TestIngestor_ScanKeepsArchiveReaddedElsewhere(t *testing.T) {
	f := newIngestFixture(t)
	f.lister.put(domain.OnDiskArchive{ID: "x", FilePath: "/zim/x.zim", SizeBytes: 1, Title: "x"})
	_, err := f.in.Scan(context.Background())
	require.NoError(t, err)

	// The file moved and was added by path before the scan's removal step
	f.lister.drop("/zim/x.zim")
	f.lister.hook = func() {
		require.NoError(t, f.store.Upsert(domain.ArchiveRecord{ID: "x", FilePath: "/elsewhere/x.zim"}))
	}
	res, err := f.in.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Removed)

	x, ok := f.store.Get("x")
	require.True(t, ok)
	assert.Equal(t, "/elsewhere/x.zim", x.FilePath)
}

func TestIngestor_ScanRemovesVanishedUncataloguedFiles(t *testing.T) {
	f := newIngestFixture(t)
	f.lister.put(domain.OnDiskArchive{ID: "x", FilePath: "/zim/x.zim", SizeBytes: 1, Title: "x"})
	res, err := f.in.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Found: 1, Added: 1}, res)

	f.lister.drop("/zim/x.zim")
	res, err = f.in.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 0, f.store.Len())
}

func TestIngestor_ConcurrentRefreshesShareOneFetch(t *testing.T) {
	f := newIngestFixture(t)
	f.in.chunkSize = 10
	f.catalog.set(entry("a", "A", "en"))
	f.catalog.gate = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.in.Refresh(context.Background(), nil)
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return f.catalog.calls.Load() >= 1 }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.catalog.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.catalog.calls.Load())
}

func TestIngestor_CancelledCallerDoesNotAbortSharedRefresh(t *testing.T) {
	f := newIngestFixture(t)
	f.in.chunkSize = 10
	f.catalog.set(entry("a", "A", "en"))
	f.catalog.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.in.Refresh(ctx, nil)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.catalog.calls.Load() >= 1 }, 5*time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := f.in.Refresh(context.Background(), nil)
		second <- err
	}()
	require.Eventually(t, func() bool {
		f.in.mu.Lock()
		defer f.in.mu.Unlock()
		return f.in.running != nil && f.in.running.waiters == 2
	}, 5*time.Second, time.Millisecond)

	cancel()
	assert.True(t, errors.Is(<-firstErr, context.Canceled))

	close(f.catalog.gate)
	require.NoError(t, <-second)
	assert.Equal(t, int32(1), f.catalog.calls.Load())
	_, ok := f.store.Get("a")
	assert.True(t, ok)
}

func TestIngestor_RefreshAfterAbandonedRefreshStartsOver(t *testing.T) {
	f := newIngestFixture(t)
	f.in.chunkSize = 10
	f.catalog.set(entry("a", "A", "en"))
	f.catalog.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.in.Refresh(ctx, nil)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.catalog.calls.Load() >= 1 }, 5*time.Second, time.Millisecond)
	cancel()
	assert.True(t, errors.Is(<-firstErr, context.Canceled))

	close(f.catalog.gate)
	res, err := f.in.Refresh(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, int32(2), f.catalog.calls.Load())
}

func TestIngestor_RefreshFailureLeavesStore(t *testing.T) {
	f := newIngestFixture(t)
	f.catalog.set(entry("a", "A", "en"))
	_, err := f.in.Refresh(context.Background(), nil)
	require.NoError(t, err)

	f.catalog.err = domain.ErrCatalogOffline
	_, err = f.in.Refresh(context.Background(), nil)
	assert.True(t, errors.Is(err, domain.ErrCatalogOffline))
	assert.Equal(t, 1, f.store.Len())
}

func TestIngestor_AddFileAndForget(t *testing.T) {
	f := newIngestFixture(t)
	f.lister.put(domain.OnDiskArchive{ID: "a", FilePath: "/elsewhere/a.zim", SizeBytes: 7, Title: "a"})

	rec, err := f.in.AddFile(context.Background(), "/elsewhere/a.zim")
	require.NoError(t, err)
	assert.Equal(t, domain.StateLocal, rec.OnDeviceState)
	assert.Equal(t, "/elsewhere/a.zim", rec.FilePath)

	_, err = f.in.AddFile(context.Background(), "/nope.zim")
	assert.Error(t, err)

	assert.True(t, f.in.Forget("a"))
	assert.False(t, f.in.Forget("a"))
	assert.Equal(t, 0, f.store.Len())
}

func TestFetchAll_StopsOnShortPage(t *testing.T) {
	calls := 0
	got, err := fetchAll(context.Background(), func(ctx context.Context, offset, limit int) ([]int, int, error) {
		calls++
		if offset > 0 {
			return nil, 100, nil
		}
		return []int{1, 2}, 100, nil
	}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 2, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fetchAll(ctx, func(ctx context.Context, offset, limit int) ([]int, int, error) {
		return []int{1}, 1, nil
	}, 2, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
