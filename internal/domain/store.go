package domain

// Store handles durable local state (BoltDB, or memory only).
type Store interface {
	// === Archives ===
	LoadArchives() ([]ArchiveRecord, error)
	SaveArchives(recs []ArchiveRecord) error
	DeleteArchive(id string) error

	// === Bookmarks ===
	LoadBookmarks() ([]BookmarkEntry, error)
	SaveBookmark(b BookmarkEntry) error
	DeleteBookmark(key string) error

	// === Recent searches (most recent first) ===
	LoadRecentSearches() ([]string, error)
	SaveRecentSearches(texts []string) error

	// === Preferences ===
	GetPreference(name string) ([]byte, bool)
	SetPreference(name string, data []byte) error

	Close() error
}
