package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/zimshelf/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketArchives  = []byte("archives")
	bucketBookmarks = []byte("bookmarks")
	bucketSearches  = []byte("searches")
	bucketPrefs     = []byte("prefs")
)

var allBuckets = [][]byte{bucketArchives, bucketBookmarks, bucketSearches, bucketPrefs}

const recentSearchesKey = "recent"

// LibraryStore implements domain.Store using BoltDB.
type LibraryStore struct {
	db *bolt.DB
	mu sync.RWMutex // Protects memory cache

	// In-memory cache for hot-path reads (promoted on access).
	// In memory-only mode this is the whole store.
	cache map[string][]byte
}

// NewLibraryStore opens (or creates) zimshelf.db under dataDir.
// An empty dataDir gives a memory-only store.
func NewLibraryStore(dataDir string) (*LibraryStore, error) {
	if dataDir == "" {
		// Memory-only mode (no persistence)
		return &LibraryStore{cache: make(map[string][]byte)}, nil
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "zimshelf.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &LibraryStore{db: db, cache: make(map[string][]byte)}, nil
}

func (s *LibraryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Generic helpers ===

func cacheKey(bucket []byte, key string) string {
	return string(bucket) + ":" + key
}

func (s *LibraryStore) getRaw(bucket []byte, key string) ([]byte, bool) {
	ck := cacheKey(bucket, key)

	s.mu.RLock()
	if data, ok := s.cache[ck]; ok {
		s.mu.RUnlock()
		return data, true
	}
	s.mu.RUnlock()

	if s.db == nil {
		return nil, false
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if data == nil {
		return nil, false
	}

	// Promote to memory cache
	s.mu.Lock()
	s.cache[ck] = data
	s.mu.Unlock()

	return data, true
}

func (s *LibraryStore) get(bucket []byte, key string, dest interface{}) bool {
	data, ok := s.getRaw(bucket, key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

func (s *LibraryStore) setRaw(bucket []byte, kv map[string][]byte) error {
	s.mu.Lock()
	for k, v := range kv {
		s.cache[cacheKey(bucket, k)] = v
	}
	s.mu.Unlock()

	if s.db == nil {
		return nil // Memory-only mode
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		for k, v := range kv {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *LibraryStore) set(bucket []byte, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.setRaw(bucket, map[string][]byte{key: data})
}

func (s *LibraryStore) delete(bucket []byte, key string) error {
	s.mu.Lock()
	delete(s.cache, cacheKey(bucket, key))
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// values returns every value in bucket, ordered by key.
func (s *LibraryStore) values(bucket []byte) ([][]byte, error) {
	if s.db == nil {
		prefix := string(bucket) + ":"
		s.mu.RLock()
		keys := make([]string, 0)
		for k := range s.cache {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		out := make([][]byte, 0, len(keys))
		for _, k := range keys {
			out = append(out, s.cache[k])
		}
		s.mu.RUnlock()
		return out, nil
	}

	var out [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, v []byte) error {
			data := make([]byte, len(v))
			copy(data, v)
			out = append(out, data)
			return nil
		})
	})
	return out, err
}

// === Archives ===

func (s *LibraryStore) LoadArchives() ([]domain.ArchiveRecord, error) {
	raw, err := s.values(bucketArchives)
	if err != nil {
		return nil, fmt.Errorf("failed to read archives: %w", err)
	}
	recs := make([]domain.ArchiveRecord, 0, len(raw))
	for _, data := range raw {
		var rec domain.ArchiveRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode archive: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *LibraryStore) SaveArchives(recs []domain.ArchiveRecord) error {
	if len(recs) == 0 {
		return nil
	}
	kv := make(map[string][]byte, len(recs))
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		kv[rec.ID] = data
	}
	return s.setRaw(bucketArchives, kv)
}

func (s *LibraryStore) DeleteArchive(id string) error {
	return s.delete(bucketArchives, id)
}

// === Bookmarks ===

func (s *LibraryStore) LoadBookmarks() ([]domain.BookmarkEntry, error) {
	raw, err := s.values(bucketBookmarks)
	if err != nil {
		return nil, fmt.Errorf("failed to read bookmarks: %w", err)
	}
	entries := make([]domain.BookmarkEntry, 0, len(raw))
	for _, data := range raw {
		var b domain.BookmarkEntry
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to decode bookmark: %w", err)
		}
		entries = append(entries, b)
	}
	return entries, nil
}

func (s *LibraryStore) SaveBookmark(b domain.BookmarkEntry) error {
	return s.set(bucketBookmarks, b.Key(), b)
}

func (s *LibraryStore) DeleteBookmark(key string) error {
	return s.delete(bucketBookmarks, key)
}

// === Recent searches ===

func (s *LibraryStore) LoadRecentSearches() ([]string, error) {
	var texts []string
	s.get(bucketSearches, recentSearchesKey, &texts)
	return texts, nil
}

func (s *LibraryStore) SaveRecentSearches(texts []string) error {
	return s.set(bucketSearches, recentSearchesKey, texts)
}

// === Preferences ===

func (s *LibraryStore) GetPreference(name string) ([]byte, bool) {
	return s.getRaw(bucketPrefs, name)
}

func (s *LibraryStore) SetPreference(name string, data []byte) error {
	return s.setRaw(bucketPrefs, map[string][]byte{name: data})
}
