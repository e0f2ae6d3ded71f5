package catalog

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/mmcdole/zimshelf/internal/domain"
	"golang.org/x/text/language"
)

const (
	zimMediaType   = "application/x-zim"
	acquisitionRel = "http://opds-spec.org/acquisition"
)

// kiwixFeed captures the catalog elements the Atom parser drops because
// they live in the default namespace.
type kiwixFeed struct {
	TotalResults string       `xml:"totalResults"`
	Entries      []kiwixEntry `xml:"entry"`
}

type kiwixEntry struct {
	ID           string `xml:"id"`
	Language     string `xml:"language"`
	ArticleCount string `xml:"articleCount"`
}

// parseFeed converts an OPDS acquisition feed into catalog entries.
func parseFeed(r io.Reader) ([]domain.CatalogEntry, int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read feed: %w", err)
	}

	feed, err := (&atom.Parser{}).Parse(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse feed: %w", err)
	}

	var extra kiwixFeed
	if err := xml.Unmarshal(data, &extra); err != nil {
		return nil, 0, fmt.Errorf("failed to parse feed: %w", err)
	}
	byID := make(map[string]kiwixEntry, len(extra.Entries))
	for _, e := range extra.Entries {
		byID[strings.TrimSpace(e.ID)] = e
	}

	entries := make([]domain.CatalogEntry, 0, len(feed.Entries))
	for _, item := range feed.Entries {
		entry, ok := toEntry(item, byID[strings.TrimSpace(item.ID)])
		if ok {
			entries = append(entries, entry)
		}
	}

	total := len(entries)
	if s := firstNonEmpty(extra.TotalResults, extValue(feed.Extensions, "totalResults")); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			total = n
		}
	}
	return entries, total, nil
}

func toEntry(item *atom.Entry, extra kiwixEntry) (domain.CatalogEntry, bool) {
	id := archiveID(item.ID)
	if id == "" {
		return domain.CatalogEntry{}, false
	}

	entry := domain.CatalogEntry{
		ID:    id,
		Title: strings.TrimSpace(item.Title),
	}

	acq := acquisitionLink(item.Links)

	lang := firstNonEmpty(extra.Language, extValue(item.Extensions, "language"))
	if lang == "" && acq != nil {
		lang = acq.Hreflang
	}
	entry.LanguageCode = normalizeLanguage(lang)

	if acq != nil && acq.Length != "" {
		if n, err := strconv.ParseUint(acq.Length, 10, 64); err == nil {
			entry.SizeBytes = n
		}
	}

	if s := firstNonEmpty(extra.ArticleCount, extValue(item.Extensions, "articleCount")); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			entry.ArticleCount = domain.Uint64(n)
		}
	}

	switch {
	case extValue(item.Extensions, "issued") != "":
		if t, err := time.Parse(time.RFC3339, extValue(item.Extensions, "issued")); err == nil {
			entry.CreationDate = t.UTC()
		}
	case item.UpdatedParsed != nil:
		entry.CreationDate = item.UpdatedParsed.UTC()
	}

	return entry, true
}

// archiveID strips the urn:uuid: prefix of an Atom entry id.
func archiveID(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= len("urn:uuid:") && strings.EqualFold(raw[:len("urn:uuid:")], "urn:uuid:") {
		raw = raw[len("urn:uuid:"):]
	}
	return strings.ToLower(raw)
}

func acquisitionLink(links []*atom.Link) *atom.Link {
	for _, l := range links {
		if l == nil {
			continue
		}
		if strings.HasPrefix(l.Rel, acquisitionRel) || strings.HasPrefix(l.Type, zimMediaType) {
			return l
		}
	}
	return nil
}

// normalizeLanguage maps catalog codes ("eng", "fra,eng", "en-GB") to a
// two-letter base language where one exists.
func normalizeLanguage(code string) string {
	code, _, _ = strings.Cut(strings.TrimSpace(code), ",")
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return strings.ToLower(code)
	}
	base, _ := tag.Base()
	return base.String()
}

// extValue finds the first extension element called name under any prefix.
func extValue(exts ext.Extensions, name string) string {
	for _, byName := range exts {
		for _, e := range byName[name] {
			if v := strings.TrimSpace(e.Value); v != "" {
				return v
			}
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
