package tui

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/zimshelf/internal/bookmark"
	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/mmcdole/zimshelf/internal/events"
	"github.com/mmcdole/zimshelf/internal/favicon"
	"github.com/mmcdole/zimshelf/internal/library"
	"github.com/mmcdole/zimshelf/internal/prefs"
	"github.com/mmcdole/zimshelf/internal/query"
	"github.com/mmcdole/zimshelf/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	records   *library.Store
	bookmarks *bookmark.Index
	prefs     *prefs.Prefs
	opener    *fakeOpener
	model     Model
}

type fakeOpener struct{ opened []string }

func (o *fakeOpener) Open(rec domain.ArchiveRecord) error {
	o.opened = append(o.opened, rec.ID)
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.NewLibraryStore("")
	require.NoError(t, err)

	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)
	records := library.NewStore(db, bus, nil)
	engine := query.NewEngine(records, bus, "", nil)
	t.Cleanup(engine.Close)
	idx := bookmark.NewIndex(db, bus, 0, nil)
	t.Cleanup(idx.Close)
	p := prefs.New(db, nil)
	opener := &fakeOpener{}

	for _, rec := range []domain.ArchiveRecord{
		{ID: "wiki_en", Title: "Wikipedia", LanguageCode: "en", SizeBytes: 900, OnDeviceState: domain.StateCloud},
		{ID: "wiki_fr", Title: "Wikipédia", LanguageCode: "fr", SizeBytes: 500, OnDeviceState: domain.StateLocal, FilePath: "/zim/fr.zim"},
		{ID: "ted", Title: "TED talks", LanguageCode: "en", SizeBytes: 100, OnDeviceState: domain.StateCloud},
	} {
		require.NoError(t, records.Upsert(rec))
	}

	m := NewModel(Services{
		Queries:   engine,
		Records:   records,
		Bookmarks: idx,
		Prefs:     p,
		Reader:    opener,
		DefaultAscending: func(k domain.SortKey) bool {
			return k != domain.SortBySize
		},
	}, domain.QuerySpec{SortKey: domain.SortByTitle, Ascending: true})
	t.Cleanup(m.Close)

	return &fixture{records: records, bookmarks: idx, prefs: p, opener: opener, model: m}
}

// await feeds the next live query emission into the model.
func (f *fixture) await(t *testing.T) {
	t.Helper()
	ch := make(chan tea.Msg, 1)
	go func() { ch <- f.model.feed.wait()() }()
	select {
	case msg := <-ch:
		next, _ := f.model.Update(msg)
		f.model = next.(Model)
	case <-time.After(5 * time.Second):
		t.Fatal("no query emission")
	}
}

func (f *fixture) press(t *testing.T, msgs ...tea.KeyMsg) {
	t.Helper()
	for _, msg := range msgs {
		next, _ := f.model.Update(msg)
		f.model = next.(Model)
	}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func resultIDs(m Model) []string {
	out := make([]string, len(m.Results))
	for i, r := range m.Results {
		out[i] = r.ID
	}
	return out
}

func TestModel_ShowsLiveResults(t *testing.T) {
	f := newFixture(t)
	f.await(t)
	assert.True(t, f.model.Loaded)
	assert.Equal(t, []string{"ted", "wiki_en", "wiki_fr"}, resultIDs(f.model))

	require.NoError(t, f.records.Upsert(domain.ArchiveRecord{ID: "gutenberg", Title: "Gutenberg", LanguageCode: "en", OnDeviceState: domain.StateCloud}))
	f.await(t)
	assert.Equal(t, []string{"gutenberg", "ted", "wiki_en", "wiki_fr"}, resultIDs(f.model))
}

func TestModel_ToggleOnDeviceResubscribes(t *testing.T) {
	f := newFixture(t)
	f.await(t)

	f.press(t, tea.KeyMsg{Type: tea.KeyTab})
	assert.True(t, f.model.Spec.OnDeviceOnly)
	f.await(t)
	assert.Equal(t, []string{"wiki_fr"}, resultIDs(f.model))

	// The choice is remembered
	assert.True(t, prefs.Get(f.prefs, prefs.OnDeviceOnly))
}

func TestModel_SearchFiltersAndRecords(t *testing.T) {
	f := newFixture(t)
	f.await(t)

	f.press(t, runes("/"))
	assert.Equal(t, StateSearching, f.model.State)

	f.press(t, runes("w"), runes("i"), runes("k"), runes("i"))
	assert.Equal(t, "wiki", f.model.Spec.TitleSubstring)
	f.await(t)
	assert.Equal(t, []string{"wiki_en", "wiki_fr"}, resultIDs(f.model))

	f.press(t, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, StateBrowsing, f.model.State)
	assert.Equal(t, []string{"wiki"}, f.bookmarks.RecentSearches())

	// Escape while browsing clears the search
	f.press(t, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Empty(t, f.model.Spec.TitleSubstring)
	f.await(t)
	assert.Len(t, f.model.Results, 3)
}

func TestModel_CycleSortUsesDefaultDirection(t *testing.T) {
	f := newFixture(t)
	f.await(t)

	f.press(t, runes("s"))
	assert.Equal(t, domain.SortBySize, f.model.Spec.SortKey)
	assert.False(t, f.model.Spec.Ascending)
	f.await(t)
	assert.Equal(t, []string{"wiki_en", "wiki_fr", "ted"}, resultIDs(f.model))

	f.press(t, runes("r"))
	assert.True(t, f.model.Spec.Ascending)
	f.await(t)
	assert.Equal(t, []string{"ted", "wiki_fr", "wiki_en"}, resultIDs(f.model))
}

func TestModel_SelectionFollowsRecord(t *testing.T) {
	f := newFixture(t)
	f.await(t)

	f.press(t, runes("j"))
	sel, ok := f.model.Selected()
	require.True(t, ok)
	assert.Equal(t, "wiki_en", sel.ID)

	// A new record sorting first must not move the selection
	require.NoError(t, f.records.Upsert(domain.ArchiveRecord{ID: "abc", Title: "ABC", OnDeviceState: domain.StateCloud}))
	f.await(t)
	sel, _ = f.model.Selected()
	assert.Equal(t, "wiki_en", sel.ID)
	assert.Equal(t, 2, f.model.Cursor)
}

func TestModel_BookmarkSelected(t *testing.T) {
	f := newFixture(t)
	f.await(t)

	f.press(t, runes("b"))
	_, ok := f.bookmarks.Bookmark("ted", mainPageID)
	assert.True(t, ok)
	assert.Contains(t, f.model.StatusMsg, "TED talks")
}

func TestModel_EnterOpensSelected(t *testing.T) {
	f := newFixture(t)
	f.await(t)

	f.press(t, runes("j"), tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, []string{"wiki_en"}, f.opener.opened)
	assert.Equal(t, "Opened Wikipedia", f.model.StatusMsg)
}

// flakyFetcher fails until ok is set.
type flakyFetcher struct{ ok atomic.Bool }

func (f *flakyFetcher) FetchFavicon(ctx context.Context, id string) ([]byte, error) {
	if !f.ok.Load() {
		return nil, errors.New("offline")
	}
	return []byte("png:" + id), nil
}

func TestModel_RefreshRetriesFailedFavicons(t *testing.T) {
	f := newFixture(t)
	f.await(t)

	fetcher := &flakyFetcher{}
	coord := favicon.NewCoordinator(fetcher, f.records, favicon.Config{MaxConcurrent: 1, MaxAttempts: 1}, nil)
	t.Cleanup(coord.Close)
	f.model.svc.Favicons = coord
	f.model.ensureVisibleFavicons()
	require.Eventually(t, func() bool { return coord.State("wiki_en") == favicon.StateFailed }, 5*time.Second, 5*time.Millisecond)

	fetcher.ok.Store(true)
	next, _ := f.model.Update(RefreshDoneMsg{})
	f.model = next.(Model)

	require.Eventually(t, func() bool {
		for _, id := range []string{"ted", "wiki_en", "wiki_fr"} {
			if rec, ok := f.records.Get(id); !ok || !rec.HasFavicon() {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)
}

func TestModel_LanguageOptionsFollowSortingPreference(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("sv_%d", i)
		require.NoError(t, f.records.Upsert(domain.ArchiveRecord{ID: id, Title: id, LanguageCode: "sv", OnDeviceState: domain.StateCloud}))
	}

	assert.Equal(t, []string{"en", "fr", "sv"}, f.model.languageOptions())

	require.NoError(t, prefs.Set(f.prefs, prefs.LanguageSorting, prefs.LanguageByCount))
	assert.Equal(t, []string{"sv", "en", "fr"}, f.model.languageOptions())
}

func TestNextLanguage(t *testing.T) {
	opts := []string{"de", "en", "fr"}
	assert.Equal(t, []string{"de"}, nextLanguage(nil, opts))
	assert.Equal(t, []string{"en"}, nextLanguage([]string{"de"}, opts))
	assert.Nil(t, nextLanguage([]string{"fr"}, opts))
	assert.Nil(t, nextLanguage(nil, nil))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Wikip…", truncate("Wikipedia", 6))
}
