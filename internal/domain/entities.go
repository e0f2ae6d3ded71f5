package domain

import (
	"fmt"
	"strings"
	"time"
)

// OnDeviceState describes where an archive's content bytes live
type OnDeviceState string

const (
	StateUnknown OnDeviceState = ""        // Not provided (merge keeps the stored state)
	StateLocal   OnDeviceState = "local"   // File present and readable
	StateCloud   OnDeviceState = "cloud"   // Known from the catalog, not downloaded
	StateMissing OnDeviceState = "missing" // Was local, file deleted externally
)

// Valid reports whether s is one of the known states.
func (s OnDeviceState) Valid() bool {
	switch s {
	case StateLocal, StateCloud, StateMissing:
		return true
	}
	return false
}

// ArchiveRecord is the catalog entry for one ZIM archive.
//
// Zero values mean "not provided" when the record is passed to Upsert:
// an empty Title keeps the stored title, a nil ArticleCount keeps the stored
// count, and so on.
type ArchiveRecord struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	LanguageCode  string        `json:"languageCode"`
	SizeBytes     uint64        `json:"sizeBytes"`
	CreationDate  time.Time     `json:"creationDate"`
	ArticleCount  *uint64       `json:"articleCount,omitempty"`
	FaviconBytes  []byte        `json:"faviconBytes,omitempty"`
	OnDeviceState OnDeviceState `json:"state"`
	FilePath      string        `json:"filePath,omitempty"`

	// Revision is assigned by the store and bumped on every applied change.
	Revision uint64 `json:"revision"`
}

// HasFavicon reports whether favicon bytes are cached for the record.
func (r ArchiveRecord) HasFavicon() bool {
	return len(r.FaviconBytes) > 0
}

// IsOnDevice reports whether the archive is readable from local storage.
func (r ArchiveRecord) IsOnDevice() bool {
	return r.OnDeviceState == StateLocal
}

// Clone returns a deep copy so callers cannot mutate store-owned slices.
func (r ArchiveRecord) Clone() ArchiveRecord {
	c := r
	if r.ArticleCount != nil {
		n := *r.ArticleCount
		c.ArticleCount = &n
	}
	if r.FaviconBytes != nil {
		c.FaviconBytes = append([]byte(nil), r.FaviconBytes...)
	}
	return c
}

// ArticleCountDescription returns e.g. "1.2M articles" or "" when unknown
func (r ArchiveRecord) ArticleCountDescription() string {
	if r.ArticleCount == nil {
		return ""
	}
	n := *r.ArticleCount
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM articles", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK articles", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d articles", n)
	}
}

// Uint64 returns a pointer to n, for optional counts.
func Uint64(n uint64) *uint64 {
	return &n
}

// Field names a mutable ArchiveRecord field, used in change events.
type Field string

const (
	FieldTitle         Field = "title"
	FieldLanguage      Field = "language"
	FieldSize          Field = "size"
	FieldCreationDate  Field = "creationDate"
	FieldArticleCount  Field = "articleCount"
	FieldFavicon       Field = "favicon"
	FieldOnDeviceState Field = "state"
	FieldFilePath      Field = "filePath"
)

// BookmarkEntry is a user bookmark of a page inside an archive.
// ArchiveID is a weak reference; the archive may no longer exist.
type BookmarkEntry struct {
	ArchiveID string    `json:"archiveId"`
	PageID    string    `json:"pageId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`

	// Seq orders bookmarks created within the same instant.
	Seq uint64 `json:"seq"`
}

// Key returns the identity of the bookmark.
func (b BookmarkEntry) Key() string {
	return BookmarkKey(b.ArchiveID, b.PageID)
}

// BookmarkKey joins an archive id and a page id into a bookmark identity.
func BookmarkKey(archiveID, pageID string) string {
	return archiveID + "\x00" + pageID
}

// SplitBookmarkKey is the inverse of BookmarkKey.
func SplitBookmarkKey(key string) (archiveID, pageID string) {
	archiveID, pageID, _ = strings.Cut(key, "\x00")
	return archiveID, pageID
}
