package query

import (
	"sync"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const defaultFoldCacheSize = 4096

// Folder maps strings to a case-folded, diacritic-free, NFC form so that
// "Wikipédia" and "WIKIPEDIA" compare equal. Results are memoized.
type Folder struct {
	cache *lru.Cache[string, string]
	pool  sync.Pool // transform.Transformer; chains are not safe for concurrent use
}

// NewFolder creates a folder that remembers up to size strings.
func NewFolder(size int) *Folder {
	if size <= 0 {
		size = defaultFoldCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		// Only returned for a non-positive size
		panic(err)
	}
	return &Folder{
		cache: cache,
		pool: sync.Pool{New: func() any {
			return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), cases.Fold(), norm.NFC)
		}},
	}
}

// Fold returns the folded form of s.
func (f *Folder) Fold(s string) string {
	if s == "" {
		return ""
	}
	if v, ok := f.cache.Get(s); ok {
		return v
	}

	t := f.pool.Get().(transform.Transformer)
	folded, _, err := transform.String(t, s)
	f.pool.Put(t)
	if err != nil {
		folded = s
	}

	f.cache.Add(s, folded)
	return folded
}
