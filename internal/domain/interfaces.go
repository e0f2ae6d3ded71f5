package domain

import (
	"context"
	"time"
)

// CatalogEntry is raw archive metadata from the remote catalog.
type CatalogEntry struct {
	ID           string
	Title        string
	LanguageCode string
	SizeBytes    uint64
	CreationDate time.Time
	ArticleCount *uint64
}

// OnDiskArchive is a ZIM file found in a library directory.
type OnDiskArchive struct {
	ID        string
	FilePath  string
	SizeBytes uint64
	ModTime   time.Time
	Title     string // Derived from the file name
}

// CatalogClient: Network access to the remote archive catalog
type CatalogClient interface {
	// FetchEntries returns a page of catalog entries and the catalog total
	FetchEntries(ctx context.Context, offset, limit int) ([]CatalogEntry, int, error)
}

// FaviconFetcher downloads the favicon of an archive
type FaviconFetcher interface {
	FetchFavicon(ctx context.Context, archiveID string) ([]byte, error)
}

// ArchiveLister enumerates archives present in local storage
type ArchiveLister interface {
	ListOnDiskArchives(ctx context.Context) ([]OnDiskArchive, error)
	ReadArchive(path string) (OnDiskArchive, error)
}

// ContentReader opens pages inside an archive. It is provided by the
// archive engine and is not implemented in this module.
type ContentReader interface {
	OpenPage(ctx context.Context, archiveID, pageID string) ([]byte, error)
}

// RecordReader is the read side of the archive record store.
type RecordReader interface {
	Get(id string) (ArchiveRecord, bool)
	All() []ArchiveRecord
}

// RecordWriter is the write side of the archive record store.
type RecordWriter interface {
	Upsert(rec ArchiveRecord, opts ...UpsertOption) error
	Remove(ids ...string)
}

// UpsertOptions tune how an upsert merges with the stored record.
type UpsertOptions struct {
	// Resync marks catalog data: it permits missing→cloud, and a cloud
	// state or catalog size sent for a local record is ignored.
	Resync bool
	// ExistingOnly skips records that are not already stored instead of
	// inserting them.
	ExistingOnly bool
	// If, when set, skips records that are not stored or whose stored
	// value fails the check. It runs under the store's writer lock.
	If func(current ArchiveRecord) bool
}

// UpsertOption mutates UpsertOptions
type UpsertOption func(*UpsertOptions)

// WithResync marks the upsert as part of a catalog re-sync.
func WithResync() UpsertOption {
	return func(o *UpsertOptions) { o.Resync = true }
}

// WithExistingOnly makes the upsert a no-op for unknown ids.
func WithExistingOnly() UpsertOption {
	return func(o *UpsertOptions) { o.ExistingOnly = true }
}

// WithCondition applies the upsert only to stored records for which fn
// returns true.
func WithCondition(fn func(current ArchiveRecord) bool) UpsertOption {
	return func(o *UpsertOptions) { o.If = fn }
}
