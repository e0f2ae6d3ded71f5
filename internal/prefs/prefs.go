// Package prefs stores typed, versioned user preferences.
//
// Each preference is declared once as a Key with its default. Values are
// stored as JSON envelopes carrying the key's version; a value written by a
// different version, or one that fails to decode, reads as the default.
package prefs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/zimshelf/internal/domain"
)

// Backend is the raw key/value storage behind preferences.
type Backend interface {
	GetPreference(name string) ([]byte, bool)
	SetPreference(name string, data []byte) error
}

// Key declares a preference.
type Key[T any] struct {
	Name    string
	Version int
	Default T
}

// LanguageSortingMode orders the language filter list.
type LanguageSortingMode string

const (
	LanguageAlphabetically LanguageSortingMode = "alphabetically"
	LanguageByCount        LanguageSortingMode = "by_count"
)

// Known preferences
var (
	FilterLanguageCodes = Key[[]string]{Name: "library.filter_language_codes", Version: 1, Default: []string{}}
	SortKey             = Key[domain.SortKey]{Name: "library.sort_key", Version: 1, Default: domain.SortByTitle}
	SortAscending       = Key[bool]{Name: "library.sort_ascending", Version: 1, Default: true}
	OnDeviceOnly        = Key[bool]{Name: "library.on_device_only", Version: 1, Default: false}
	LastRefreshTime     = Key[time.Time]{Name: "library.last_refresh_time", Version: 1}
	AutoRefresh         = Key[bool]{Name: "library.auto_refresh", Version: 1, Default: true}
	LanguageSorting     = Key[LanguageSortingMode]{Name: "library.language_sorting_mode", Version: 1, Default: LanguageAlphabetically}

	// CatalogIDs remembers which archive ids the last catalog refresh listed.
	CatalogIDs = Key[[]string]{Name: "library.catalog_ids", Version: 1, Default: []string{}}
)

type envelope struct {
	Version int             `json:"v"`
	Value   json.RawMessage `json:"value"`
}

// Prefs reads and writes preferences through a backend.
type Prefs struct {
	backend Backend
	logger  *slog.Logger
}

// New creates a preference store over backend.
func New(backend Backend, logger *slog.Logger) *Prefs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prefs{backend: backend, logger: logger}
}

// Get returns the stored value of key, or its default.
func Get[T any](p *Prefs, key Key[T]) T {
	data, ok := p.backend.GetPreference(key.Name)
	if !ok {
		return key.Default
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		p.logger.Warn("failed to decode preference", "key", key.Name, "error", err)
		return key.Default
	}
	if env.Version != key.Version {
		p.logger.Debug("preference version mismatch", "key", key.Name, "stored", env.Version, "want", key.Version)
		return key.Default
	}

	var v T
	if err := json.Unmarshal(env.Value, &v); err != nil {
		p.logger.Warn("failed to decode preference", "key", key.Name, "error", err)
		return key.Default
	}
	return v
}

// Set stores v under key.
func Set[T any](p *Prefs, key Key[T], v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode preference %s: %w", key.Name, err)
	}
	data, err := json.Marshal(envelope{Version: key.Version, Value: raw})
	if err != nil {
		return fmt.Errorf("failed to encode preference %s: %w", key.Name, err)
	}
	if err := p.backend.SetPreference(key.Name, data); err != nil {
		return fmt.Errorf("failed to save preference %s: %w", key.Name, err)
	}
	return nil
}

// QueryDefaults returns the saved library query. Sort direction falls
// back to fallbackAscending for the saved sort key when none is stored.
func (p *Prefs) QueryDefaults(fallbackAscending func(domain.SortKey) bool) domain.QuerySpec {
	key := Get(p, SortKey)
	if _, err := domain.ParseSortKey(string(key)); err != nil {
		key = SortKey.Default
	}

	ascending := SortAscending.Default
	if _, stored := p.backend.GetPreference(SortAscending.Name); stored {
		ascending = Get(p, SortAscending)
	} else if fallbackAscending != nil {
		ascending = fallbackAscending(key)
	}

	return domain.QuerySpec{
		Languages:    Get(p, FilterLanguageCodes),
		OnDeviceOnly: Get(p, OnDeviceOnly),
		SortKey:      key,
		Ascending:    ascending,
	}
}

// SaveQuerySpec remembers the persistent parts of spec. The title
// substring is transient and not stored.
func (p *Prefs) SaveQuerySpec(spec domain.QuerySpec) error {
	langs := spec.Languages
	if langs == nil {
		langs = []string{}
	}
	if err := Set(p, FilterLanguageCodes, langs); err != nil {
		return err
	}
	if err := Set(p, OnDeviceOnly, spec.OnDeviceOnly); err != nil {
		return err
	}
	key := spec.SortKey
	if key == "" {
		key = domain.SortByTitle
	}
	if err := Set(p, SortKey, key); err != nil {
		return err
	}
	return Set(p, SortAscending, spec.Ascending)
}
