// Package query filters, sorts and live-updates views over archive records.
package query

import (
	"cmp"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/mmcdole/zimshelf/internal/domain"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Evaluator runs QuerySpecs against record snapshots.
type Evaluator struct {
	folder    *Folder
	collators sync.Pool // *collate.Collator; not safe for concurrent use
}

// NewEvaluator creates an evaluator that collates titles for locale
// (a BCP 47 tag; empty or invalid falls back to the root collation).
func NewEvaluator(locale string, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	tag := language.Und
	if locale != "" {
		parsed, err := language.Parse(locale)
		if err != nil {
			logger.Warn("invalid collation locale, using root", "locale", locale, "error", err)
		} else {
			tag = parsed
		}
	}
	return &Evaluator{
		folder: NewFolder(defaultFoldCacheSize),
		collators: sync.Pool{New: func() any {
			return collate.New(tag, collate.IgnoreCase, collate.Numeric)
		}},
	}
}

// Folder returns the title folder used for matching.
func (e *Evaluator) Folder() *Folder { return e.folder }

// Evaluate returns the records matching spec in spec order. The input is
// not modified. Equal sort keys are ordered by id ascending.
func (e *Evaluator) Evaluate(spec domain.QuerySpec, records []domain.ArchiveRecord) []domain.ArchiveRecord {
	langs := spec.LanguageSet()
	needle := e.folder.Fold(strings.TrimSpace(spec.TitleSubstring))

	out := make([]domain.ArchiveRecord, 0, len(records))
	for _, rec := range records {
		// Cheapest filter first
		if spec.OnDeviceOnly && !rec.IsOnDevice() {
			continue
		}
		if langs != nil && !langs[rec.LanguageCode] {
			continue
		}
		if needle != "" && !strings.Contains(e.folder.Fold(rec.Title), needle) {
			continue
		}
		out = append(out, rec)
	}

	e.sort(out, spec.SortKey, spec.Ascending)
	return out
}

func (e *Evaluator) sort(recs []domain.ArchiveRecord, key domain.SortKey, ascending bool) {
	var compare func(a, b domain.ArchiveRecord) int

	switch key {
	case domain.SortBySize:
		compare = func(a, b domain.ArchiveRecord) int { return cmp.Compare(a.SizeBytes, b.SizeBytes) }
	case domain.SortByDate:
		compare = func(a, b domain.ArchiveRecord) int { return a.CreationDate.Compare(b.CreationDate) }
	default:
		c := e.collators.Get().(*collate.Collator)
		defer e.collators.Put(c)
		compare = func(a, b domain.ArchiveRecord) int { return c.CompareString(a.Title, b.Title) }
	}

	slices.SortStableFunc(recs, func(a, b domain.ArchiveRecord) int {
		if r := compare(a, b); r != 0 {
			if ascending {
				return r
			}
			return -r
		}
		return strings.Compare(a.ID, b.ID)
	})
}
