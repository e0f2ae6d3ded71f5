// Package bookmark keeps user bookmarks and recent searches.
package bookmark

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/mmcdole/zimshelf/internal/domain"
)

// DefaultRecentCap bounds the recent search list when no cap is configured.
const DefaultRecentCap = 10

// Bus is the event bus the index publishes to and listens on.
type Bus interface {
	domain.Publisher
	domain.Subscriber
}

// Index holds bookmarks (ordered by creation) and the most-recent-first
// list of searches. Bookmarks of a removed archive are removed with it.
type Index struct {
	persist domain.Store // May be nil
	bus     Bus          // May be nil
	logger  *slog.Logger
	cap     int
	now     func() time.Time

	mu        sync.RWMutex
	bookmarks map[string]domain.BookmarkEntry
	seq       uint64
	recent    []string

	token string
}

// NewIndex creates an index and subscribes it to archive removals on bus.
func NewIndex(persist domain.Store, bus Bus, recentCap int, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	if recentCap <= 0 {
		recentCap = DefaultRecentCap
	}
	idx := &Index{
		persist:   persist,
		bus:       bus,
		logger:    logger,
		cap:       recentCap,
		now:       time.Now,
		bookmarks: make(map[string]domain.BookmarkEntry),
	}
	if bus != nil {
		idx.token = bus.Subscribe(idx.onEvent)
	}
	return idx
}

// Load restores persisted state without publishing events and returns the
// restored bookmark keys and search texts for seeding the bus.
func (x *Index) Load() (bookmarks, searches []string, err error) {
	if x.persist == nil {
		return nil, nil, nil
	}
	entries, err := x.persist.LoadBookmarks()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load bookmarks: %w", err)
	}
	texts, err := x.persist.LoadRecentSearches()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load recent searches: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	for _, b := range entries {
		x.bookmarks[b.Key()] = b
		bookmarks = append(bookmarks, b.Key())
		if b.Seq > x.seq {
			x.seq = b.Seq
		}
	}
	if len(texts) > x.cap {
		texts = texts[:x.cap]
	}
	x.recent = texts
	return bookmarks, slices.Clone(texts), nil
}

// Close stops listening for archive removals.
func (x *Index) Close() {
	if x.bus != nil && x.token != "" {
		x.bus.Unsubscribe(x.token)
	}
}

func (x *Index) publish(event domain.Event) {
	if x.bus != nil {
		x.bus.Publish(event)
	}
}

func (x *Index) onEvent(event domain.Event) {
	if event.Entity == domain.EntityArchive && event.Kind == domain.EventRemoved {
		if n := x.removeArchive(event.ID); n > 0 {
			x.logger.Debug("removed bookmarks of removed archive", "archive", event.ID, "count", n)
		}
	}
}

// === Bookmarks ===

// AddBookmark stores entry. Adding an existing bookmark refreshes its title
// and keeps its original position.
func (x *Index) AddBookmark(entry domain.BookmarkEntry) error {
	entry.ArchiveID = strings.TrimSpace(entry.ArchiveID)
	entry.PageID = strings.TrimSpace(entry.PageID)
	if entry.ArchiveID == "" {
		return &domain.ValidationError{Field: "archiveId", Value: entry.ArchiveID, Reason: "must not be empty"}
	}
	if entry.PageID == "" {
		return &domain.ValidationError{Field: "pageId", Value: entry.PageID, Reason: "must not be empty"}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	key := entry.Key()
	existing, ok := x.bookmarks[key]
	if ok {
		if existing.Title == entry.Title {
			return nil
		}
		existing.Title = entry.Title
		entry = existing
	} else {
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = x.now()
		}
		x.seq++
		entry.Seq = x.seq
	}

	x.bookmarks[key] = entry
	if x.persist != nil {
		if err := x.persist.SaveBookmark(entry); err != nil {
			x.logger.Error("failed to save bookmark", "error", err, "archive", entry.ArchiveID, "page", entry.PageID)
		}
	}

	if ok {
		x.publish(domain.Updated(domain.EntityBookmark, key, domain.FieldTitle))
	} else {
		x.publish(domain.Inserted(domain.EntityBookmark, key))
	}
	return nil
}

// RemoveBookmark deletes a bookmark. Unknown bookmarks are ignored.
func (x *Index) RemoveBookmark(archiveID, pageID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(domain.BookmarkKey(archiveID, pageID))
}

func (x *Index) removeLocked(key string) bool {
	if _, ok := x.bookmarks[key]; !ok {
		return false
	}
	delete(x.bookmarks, key)
	if x.persist != nil {
		if err := x.persist.DeleteBookmark(key); err != nil {
			x.logger.Error("failed to delete bookmark", "error", err, "key", key)
		}
	}
	x.publish(domain.Removed(domain.EntityBookmark, key))
	return true
}

func (x *Index) removeArchive(archiveID string) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	var keys []string
	for key, b := range x.bookmarks {
		if b.ArchiveID == archiveID {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		x.removeLocked(key)
	}
	return len(keys)
}

// Bookmark returns the bookmark for a page, if any.
func (x *Index) Bookmark(archiveID, pageID string) (domain.BookmarkEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	b, ok := x.bookmarks[domain.BookmarkKey(archiveID, pageID)]
	return b, ok
}

// ListBookmarks returns every bookmark in creation order.
func (x *Index) ListBookmarks() []domain.BookmarkEntry {
	x.mu.RLock()
	out := make([]domain.BookmarkEntry, 0, len(x.bookmarks))
	for _, b := range x.bookmarks {
		out = append(out, b)
	}
	x.mu.RUnlock()

	sortBookmarks(out)
	return out
}

// BookmarksForArchive returns the bookmarks of one archive in creation order.
func (x *Index) BookmarksForArchive(archiveID string) []domain.BookmarkEntry {
	x.mu.RLock()
	var out []domain.BookmarkEntry
	for _, b := range x.bookmarks {
		if b.ArchiveID == archiveID {
			out = append(out, b)
		}
	}
	x.mu.RUnlock()

	sortBookmarks(out)
	return out
}

func sortBookmarks(entries []domain.BookmarkEntry) {
	slices.SortFunc(entries, func(a, b domain.BookmarkEntry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
}

// === Recent searches ===

// RecordSearch moves text to the front of the recent list, adding it if
// new and evicting the oldest entries beyond the cap. Blank text is ignored.
func (x *Index) RecordSearch(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	pos := slices.Index(x.recent, text)
	if pos == 0 {
		return
	}

	next := make([]string, 0, len(x.recent)+1)
	next = append(next, text)
	for i, t := range x.recent {
		if i != pos {
			next = append(next, t)
		}
	}
	var evicted []string
	if len(next) > x.cap {
		evicted = next[x.cap:]
		next = next[:x.cap]
	}
	x.recent = next
	x.saveRecentLocked()

	if pos > 0 {
		x.publish(domain.Updated(domain.EntityRecentSearch, text))
	} else {
		x.publish(domain.Inserted(domain.EntityRecentSearch, text))
	}
	for _, t := range evicted {
		x.publish(domain.Removed(domain.EntityRecentSearch, t))
	}
}

// RecentSearches returns the recent searches, most recent first.
func (x *Index) RecentSearches() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Clone(x.recent)
}

// MatchRecentSearches returns recent searches that fuzzily contain text,
// closest match first. Blank text returns the whole list.
func (x *Index) MatchRecentSearches(text string) []string {
	recent := x.RecentSearches()
	text = strings.TrimSpace(text)
	if text == "" {
		return recent
	}

	ranks := fuzzy.RankFindNormalizedFold(text, recent)
	// Equal distance keeps recency order
	sort.SliceStable(ranks, func(i, j int) bool {
		if ranks[i].Distance != ranks[j].Distance {
			return ranks[i].Distance < ranks[j].Distance
		}
		return ranks[i].OriginalIndex < ranks[j].OriginalIndex
	})

	out := make([]string, len(ranks))
	for i, r := range ranks {
		out[i] = r.Target
	}
	return out
}

// ClearRecentSearches empties the recent list.
func (x *Index) ClearRecentSearches() {
	x.mu.Lock()
	defer x.mu.Unlock()

	cleared := x.recent
	x.recent = nil
	x.saveRecentLocked()
	for _, t := range cleared {
		x.publish(domain.Removed(domain.EntityRecentSearch, t))
	}
}

func (x *Index) saveRecentLocked() {
	if x.persist == nil {
		return
	}
	if err := x.persist.SaveRecentSearches(x.recent); err != nil {
		x.logger.Error("failed to save recent searches", "error", err)
	}
}
