package query

import (
	"testing"
	"time"

	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/mmcdole/zimshelf/internal/events"
	"github.com/mmcdole/zimshelf/internal/library"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(recs []domain.ArchiveRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func sampleRecords() []domain.ArchiveRecord {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	return []domain.ArchiveRecord{
		{ID: "wiki_en", Title: "Wikipedia", LanguageCode: "en", SizeBytes: 900, CreationDate: day(3), OnDeviceState: domain.StateCloud},
		{ID: "wiki_fr", Title: "Wikipédia", LanguageCode: "fr", SizeBytes: 500, CreationDate: day(1), OnDeviceState: domain.StateLocal, FilePath: "/zim/fr.zim"},
		{ID: "ted", Title: "TED talks", LanguageCode: "en", SizeBytes: 500, CreationDate: day(2), OnDeviceState: domain.StateMissing},
		{ID: "gutenberg", Title: "gutenberg", LanguageCode: "en", SizeBytes: 100, CreationDate: day(2), OnDeviceState: domain.StateLocal, FilePath: "/zim/g.zim"},
	}
}

func TestEvaluate_Filters(t *testing.T) {
	e := NewEvaluator("", nil)
	recs := sampleRecords()

	tests := []struct {
		name string
		spec domain.QuerySpec
		want []string
	}{
		{"no filter sorts by title", domain.QuerySpec{Ascending: true}, []string{"gutenberg", "ted", "wiki_en", "wiki_fr"}},
		{"on device only", domain.QuerySpec{OnDeviceOnly: true, Ascending: true}, []string{"gutenberg", "wiki_fr"}},
		{"language", domain.QuerySpec{Languages: []string{"fr"}}, []string{"wiki_fr"}},
		{"diacritic insensitive", domain.QuerySpec{TitleSubstring: "WIKIPEDIA", Ascending: true}, []string{"wiki_en", "wiki_fr"}},
		{"accented needle", domain.QuerySpec{TitleSubstring: "pédi", Ascending: true}, []string{"wiki_en", "wiki_fr"}},
		{"combined", domain.QuerySpec{Languages: []string{"en"}, TitleSubstring: "wiki", OnDeviceOnly: true}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(e.Evaluate(tt.spec, recs)))
		})
	}
}

func TestEvaluate_SortTiesBreakByID(t *testing.T) {
	e := NewEvaluator("", nil)
	recs := sampleRecords()

	asc := e.Evaluate(domain.QuerySpec{SortKey: domain.SortBySize, Ascending: true}, recs)
	assert.Equal(t, []string{"gutenberg", "ted", "wiki_fr", "wiki_en"}, ids(asc))

	// Descending flips the key but ties stay ascending by id
	desc := e.Evaluate(domain.QuerySpec{SortKey: domain.SortBySize}, recs)
	assert.Equal(t, []string{"wiki_en", "ted", "wiki_fr", "gutenberg"}, ids(desc))

	byDate := e.Evaluate(domain.QuerySpec{SortKey: domain.SortByDate, Ascending: true}, recs)
	assert.Equal(t, []string{"wiki_fr", "gutenberg", "ted", "wiki_en"}, ids(byDate))
}

func TestEvaluate_IsDeterministic(t *testing.T) {
	e := NewEvaluator("en", nil)
	recs := sampleRecords()
	spec := domain.QuerySpec{TitleSubstring: "e", Ascending: true}

	first := e.Evaluate(spec, recs)
	reversed := make([]domain.ArchiveRecord, len(recs))
	for i := range recs {
		reversed[len(recs)-1-i] = recs[i]
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, ids(first), ids(e.Evaluate(spec, reversed)))
	}
	// Input is left untouched
	assert.Equal(t, "wiki_en", recs[0].ID)
}

func TestEvaluate_InvalidLocaleFallsBack(t *testing.T) {
	e := NewEvaluator("not a locale!!", nil)
	got := e.Evaluate(domain.QuerySpec{Ascending: true}, sampleRecords())
	assert.Len(t, got, 4)
}

func TestFolder_Fold(t *testing.T) {
	f := NewFolder(2)
	assert.Equal(t, "wikipedia", f.Fold("Wikipédia"))
	assert.Equal(t, "wikipedia", f.Fold("WIKIPEDIA"))
	assert.Equal(t, "ecole", f.Fold("École"))
	assert.Equal(t, "", f.Fold(""))
	// Served from cache on repeat
	assert.Equal(t, "wikipedia", f.Fold("Wikipédia"))
}

func TestSuggest(t *testing.T) {
	e := NewEvaluator("", nil)
	got := e.Suggest("wkp", sampleRecords(), 0)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"wiki_en", "wiki_fr"}, []string{got[0].Record.ID, got[1].Record.ID})
	assert.NotEmpty(t, got[0].MatchedIndexes)

	assert.Len(t, e.Suggest("wkp", sampleRecords(), 1), 1)
	assert.Nil(t, e.Suggest("  ", sampleRecords(), 0))
}

// emissions collects live query results.
type emissions chan []domain.ArchiveRecord

func (c emissions) next(t *testing.T) []domain.ArchiveRecord {
	t.Helper()
	select {
	case got := <-c:
		return got
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for emission")
		return nil
	}
}

func (c emissions) none(t *testing.T) {
	t.Helper()
	select {
	case got := <-c:
		t.Fatalf("unexpected emission: %v", ids(got))
	case <-time.After(50 * time.Millisecond):
	}
}

func newLiveFixture(t *testing.T) (*library.Store, *Engine) {
	t.Helper()
	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)
	store := library.NewStore(nil, bus, nil)
	engine := NewEngine(store, bus, "", nil)
	t.Cleanup(engine.Close)
	return store, engine
}

func TestEngine_SubscribeEmitsOnStateChange(t *testing.T) {
	store, engine := newLiveFixture(t)
	require.NoError(t, store.Upsert(domain.ArchiveRecord{ID: "wiki_en", Title: "Wikipedia", LanguageCode: "en", OnDeviceState: domain.StateCloud}))

	got := make(emissions, 16)
	engine.Subscribe(domain.QuerySpec{OnDeviceOnly: true}, func(r []domain.ArchiveRecord) { got <- r })

	assert.Empty(t, got.next(t))

	require.NoError(t, store.Upsert(domain.ArchiveRecord{ID: "wiki_en", OnDeviceState: domain.StateLocal, FilePath: "/zim/wiki_en.zim"}))
	assert.Equal(t, []string{"wiki_en"}, ids(got.next(t)))
}

func TestEngine_LanguageFilterIgnoresOtherLanguages(t *testing.T) {
	store, engine := newLiveFixture(t)

	got := make(emissions, 16)
	engine.Subscribe(domain.QuerySpec{Languages: []string{"en"}}, func(r []domain.ArchiveRecord) { got <- r })
	assert.Empty(t, got.next(t))

	require.NoError(t, store.Upsert(domain.ArchiveRecord{ID: "wiki_fr", Title: "Wikipédia", LanguageCode: "fr"}))
	got.none(t)

	require.NoError(t, store.Upsert(domain.ArchiveRecord{ID: "wiki_en", Title: "Wikipedia", LanguageCode: "en"}))
	assert.Equal(t, []string{"wiki_en"}, ids(got.next(t)))
}

func TestEngine_MemberUpdateReemits(t *testing.T) {
	store, engine := newLiveFixture(t)
	require.NoError(t, store.Upsert(domain.ArchiveRecord{ID: "wiki_en", Title: "Wikipedia", LanguageCode: "en"}))

	got := make(emissions, 16)
	engine.Subscribe(domain.QuerySpec{SortKey: domain.SortBySize}, func(r []domain.ArchiveRecord) { got <- r })
	require.Len(t, got.next(t), 1)

	// Favicon is not referenced by the query but the record is in the result
	require.NoError(t, store.Upsert(domain.ArchiveRecord{ID: "wiki_en", FaviconBytes: []byte{1}}))
	updated := got.next(t)
	require.Len(t, updated, 1)
	assert.Equal(t, []byte{1}, updated[0].FaviconBytes)
}

func TestEngine_UnsubscribeStopsEmissions(t *testing.T) {
	store, engine := newLiveFixture(t)

	got := make(emissions, 16)
	h := engine.Subscribe(domain.QuerySpec{}, func(r []domain.ArchiveRecord) { got <- r })
	got.next(t)

	engine.Unsubscribe(h)
	engine.Unsubscribe(h)
	assert.Equal(t, 0, engine.Subscriptions())

	require.NoError(t, store.Upsert(domain.ArchiveRecord{ID: "wiki_en", Title: "Wikipedia"}))
	got.none(t)
}

func TestEngine_FinalEmissionMatchesStore(t *testing.T) {
	store, engine := newLiveFixture(t)

	got := make(emissions, 1024)
	engine.Subscribe(domain.QuerySpec{Ascending: true}, func(r []domain.ArchiveRecord) { got <- r })

	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		require.NoError(t, store.Upsert(domain.ArchiveRecord{ID: id, Title: id}))
	}
	store.Remove("c", "d")

	want := ids(engine.Run(domain.QuerySpec{Ascending: true}))
	require.Len(t, want, 18)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-got:
			if assert.ObjectsAreEqual(want, ids(r)) {
				return
			}
		case <-deadline:
			t.Fatal("live query never caught up with the store")
		}
	}
}

func TestLanguages(t *testing.T) {
	recs := []domain.ArchiveRecord{
		{ID: "a", LanguageCode: "fr"},
		{ID: "b", LanguageCode: "en"},
		{ID: "c", LanguageCode: "fr"},
		{ID: "d", LanguageCode: "de"},
		{ID: "e"},
	}

	assert.Equal(t, []LanguageCount{{"de", 1}, {"en", 1}, {"fr", 2}}, Languages(recs, false))
	assert.Equal(t, []LanguageCount{{"fr", 2}, {"de", 1}, {"en", 1}}, Languages(recs, true))
	assert.Empty(t, Languages(nil, true))
}
