package query

import (
	"strings"

	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/sahilm/fuzzy"
)

// Suggestion is a fuzzy title match.
type Suggestion struct {
	Record         domain.ArchiveRecord
	Folded         string // Folded title the match was made against
	MatchedIndexes []int  // Positions in Folded
	Score          int    // Higher is better
}

// titleIndex implements fuzzy.Source over folded record titles.
type titleIndex struct {
	records []domain.ArchiveRecord
	folded  []string
}

func (idx *titleIndex) String(i int) string { return idx.folded[i] }
func (idx *titleIndex) Len() int            { return len(idx.records) }

// Suggest returns up to limit records whose titles fuzzily match text,
// best first. limit <= 0 means no limit.
func (e *Evaluator) Suggest(text string, records []domain.ArchiveRecord, limit int) []Suggestion {
	pattern := e.folder.Fold(strings.TrimSpace(text))
	if pattern == "" || len(records) == 0 {
		return nil
	}

	idx := &titleIndex{records: records, folded: make([]string, len(records))}
	for i, rec := range records {
		idx.folded[i] = e.folder.Fold(rec.Title)
	}

	matches := fuzzy.FindFrom(pattern, idx)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]Suggestion, len(matches))
	for i, m := range matches {
		out[i] = Suggestion{
			Record:         records[m.Index],
			Folded:         m.Str,
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		}
	}
	return out
}
