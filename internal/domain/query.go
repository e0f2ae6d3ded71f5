package domain

import "fmt"

// SortKey selects the ordering of query results
type SortKey string

const (
	SortByTitle SortKey = "title"
	SortBySize  SortKey = "size"
	SortByDate  SortKey = "date"
)

// ParseSortKey converts a user-supplied string into a SortKey.
func ParseSortKey(s string) (SortKey, error) {
	switch SortKey(s) {
	case SortByTitle, SortBySize, SortByDate:
		return SortKey(s), nil
	case "":
		return SortByTitle, nil
	}
	return "", fmt.Errorf("unknown sort key %q", s)
}

// QuerySpec describes a filtered, sorted view over the archive records.
type QuerySpec struct {
	Languages      []string // Empty = no language filter
	TitleSubstring string   // Case and diacritic insensitive
	OnDeviceOnly   bool
	SortKey        SortKey
	Ascending      bool
}

// LanguageSet returns the language filter as a set (nil when unfiltered).
func (q QuerySpec) LanguageSet() map[string]bool {
	if len(q.Languages) == 0 {
		return nil
	}
	set := make(map[string]bool, len(q.Languages))
	for _, l := range q.Languages {
		set[l] = true
	}
	return set
}

// References reports whether a change to field can alter the result of q.
func (q QuerySpec) References(field Field) bool {
	switch field {
	case FieldOnDeviceState:
		return q.OnDeviceOnly
	case FieldLanguage:
		return len(q.Languages) > 0
	case FieldTitle:
		return q.TitleSubstring != "" || q.sortKey() == SortByTitle
	case FieldSize:
		return q.sortKey() == SortBySize
	case FieldCreationDate:
		return q.sortKey() == SortByDate
	}
	return false
}

func (q QuerySpec) sortKey() SortKey {
	if q.SortKey == "" {
		return SortByTitle
	}
	return q.SortKey
}
