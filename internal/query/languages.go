package query

import (
	"cmp"
	"slices"

	"github.com/mmcdole/zimshelf/internal/domain"
)

// LanguageCount is a language code and the number of archives in it.
type LanguageCount struct {
	Code  string
	Count int
}

// Languages lists the languages used by recs in code order, or most used
// first when byCount is set. Records without a language are skipped.
func Languages(recs []domain.ArchiveRecord, byCount bool) []LanguageCount {
	counts := make(map[string]int)
	for _, rec := range recs {
		if rec.LanguageCode != "" {
			counts[rec.LanguageCode]++
		}
	}

	out := make([]LanguageCount, 0, len(counts))
	for code, n := range counts {
		out = append(out, LanguageCount{Code: code, Count: n})
	}
	slices.SortFunc(out, func(a, b LanguageCount) int {
		if byCount && a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.Code, b.Code)
	})
	return out
}
