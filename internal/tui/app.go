// Package tui is a terminal browser over a live library query.
package tui

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mmcdole/zimshelf/internal/bookmark"
	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/mmcdole/zimshelf/internal/favicon"
	"github.com/mmcdole/zimshelf/internal/library"
	"github.com/mmcdole/zimshelf/internal/prefs"
	"github.com/mmcdole/zimshelf/internal/query"
	"github.com/mmcdole/zimshelf/internal/tui/styles"
)

// ApplicationState represents the current state of the browser
type ApplicationState int

const (
	StateBrowsing ApplicationState = iota
	StateSearching
)

// Vertical chrome: header, search line, column titles, detail and help
const ChromeHeight = 5

const maxSuggestions = 5

// Opener launches a local archive in a reader
type Opener interface {
	Open(rec domain.ArchiveRecord) error
}

// Services are the library components the browser talks to. Everything
// except Queries may be nil.
type Services struct {
	Queries   *query.Engine
	Records   domain.RecordReader
	Favicons  *favicon.Coordinator
	Bookmarks *bookmark.Index
	Ingestor  *library.Ingestor
	Prefs     *prefs.Prefs
	Reader    Opener
	Logger    *slog.Logger

	// DefaultAscending picks the direction when the sort key changes
	DefaultAscending func(domain.SortKey) bool
}

// Model is the Bubble Tea model for the browser
type Model struct {
	State ApplicationState
	svc   Services

	// Live query
	Spec    domain.QuerySpec
	Results []domain.ArchiveRecord
	Loaded  bool
	feed    *resultsFeed
	handle  query.Handle
	gen     int

	// Search
	Search      textinput.Model
	Suggestions []string

	// Favicons for the visible rows
	faviconCancel context.CancelFunc
	faviconKey    string

	// Refresh
	Refreshing bool
	progress   *progressObserver
	Progress   RefreshProgressMsg

	// UI state
	Cursor       int
	Offset       int
	Width        int
	Height       int
	StatusMsg    string
	StatusIsErr  bool
	SpinnerFrame int
}

// NewModel creates a browser showing spec.
func NewModel(svc Services, spec domain.QuerySpec) Model {
	if svc.Logger == nil {
		svc.Logger = slog.Default()
	}

	ti := textinput.New()
	ti.Placeholder = "Search titles..."
	ti.CharLimit = 100
	ti.Width = 40
	ti.Prompt = "/ "
	ti.PromptStyle = styles.AccentStyle
	ti.TextStyle = lipgloss.NewStyle().Foreground(styles.White)
	ti.PlaceholderStyle = styles.DimStyle
	ti.SetValue(spec.TitleSubstring)

	m := Model{
		State:  StateBrowsing,
		svc:    svc,
		Spec:   spec,
		Search: ti,
		feed:   newResultsFeed(),
	}
	m.subscribe()
	return m
}

// Init starts listening for query results
func (m Model) Init() tea.Cmd {
	return m.feed.wait()
}

// Close releases the live query and outstanding favicon interest.
func (m Model) Close() {
	if m.handle != "" {
		m.svc.Queries.Unsubscribe(m.handle)
	}
	if m.faviconCancel != nil {
		m.faviconCancel()
	}
}

// subscribe replaces the live query with one for m.Spec.
func (m *Model) subscribe() {
	if m.handle != "" {
		m.svc.Queries.Unsubscribe(m.handle)
	}
	gen, fn := m.feed.next()
	m.gen = gen
	m.handle = m.svc.Queries.Subscribe(m.Spec, fn)
}

// setSpec applies a new query and remembers its persistent parts.
func (m *Model) setSpec(spec domain.QuerySpec) {
	m.Spec = spec
	m.subscribe()
	if m.svc.Prefs != nil {
		if err := m.svc.Prefs.SaveQuerySpec(spec); err != nil {
			m.svc.Logger.Error("failed to save query", "error", err)
		}
	}
}

// Update handles all messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width, m.Height = msg.Width, msg.Height
		m.Search.Width = max(msg.Width-4, 10)
		m.clampCursor()
		m.ensureVisibleFavicons()
		return m, nil

	case ResultsMsg:
		if msg.Generation == m.gen {
			m.applyResults(msg.Records)
		}
		return m, m.feed.wait()

	case RefreshProgressMsg:
		m.Progress = msg
		return m, m.progress.wait()

	case RefreshDoneMsg:
		m.Refreshing = false
		m.progress = nil
		if msg.Err != nil {
			m.setStatus("Refresh failed: "+msg.Err.Error(), true)
		} else {
			m.setStatus(refreshSummary(msg.Result), false)
			// Favicons that failed before get another chance
			if m.svc.Favicons != nil {
				m.svc.Favicons.ResetAll()
				m.faviconKey = ""
				m.ensureVisibleFavicons()
			}
		}
		return m, ClearStatusCmd(5 * time.Second)

	case tickMsg:
		if !m.Refreshing {
			return m, nil
		}
		m.SpinnerFrame = (m.SpinnerFrame + 1) % len(styles.SpinnerFrames)
		return m, tickCmd()

	case ClearStatusMsg:
		m.StatusMsg, m.StatusIsErr = "", false
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}
	return m, nil
}

// applyResults swaps in a new emission, keeping the selected archive.
func (m *Model) applyResults(recs []domain.ArchiveRecord) {
	selected := ""
	if rec, ok := m.Selected(); ok {
		selected = rec.ID
	}

	m.Results = recs
	m.Loaded = true
	if selected != "" {
		if i := slices.IndexFunc(recs, func(r domain.ArchiveRecord) bool { return r.ID == selected }); i >= 0 {
			m.Cursor = i
		}
	}
	m.clampCursor()
	m.ensureVisibleFavicons()
}

// Selected returns the record under the cursor.
func (m Model) Selected() (domain.ArchiveRecord, bool) {
	if m.Cursor < 0 || m.Cursor >= len(m.Results) {
		return domain.ArchiveRecord{}, false
	}
	return m.Results[m.Cursor], true
}

// listHeight is the number of rows that fit on screen
func (m Model) listHeight() int {
	if m.Height <= 0 {
		return 20
	}
	return max(m.Height-ChromeHeight-len(m.Suggestions), 1)
}

func (m *Model) clampCursor() {
	if m.Cursor >= len(m.Results) {
		m.Cursor = len(m.Results) - 1
	}
	if m.Cursor < 0 {
		m.Cursor = 0
	}
	h := m.listHeight()
	if m.Cursor < m.Offset {
		m.Offset = m.Cursor
	}
	if m.Cursor >= m.Offset+h {
		m.Offset = m.Cursor - h + 1
	}
	if maxOffset := max(len(m.Results)-h, 0); m.Offset > maxOffset {
		m.Offset = maxOffset
	}
}

// visible returns the rows on screen
func (m Model) visible() []domain.ArchiveRecord {
	if m.Offset >= len(m.Results) {
		return nil
	}
	end := min(m.Offset+m.listHeight(), len(m.Results))
	return m.Results[m.Offset:end]
}

// ensureVisibleFavicons asks for favicons of the rows on screen. Interest
// in rows that scrolled away is dropped so their queued fetches are
// abandoned.
func (m *Model) ensureVisibleFavicons() {
	if m.svc.Favicons == nil {
		return
	}
	var ids []string
	for _, rec := range m.visible() {
		if !rec.HasFavicon() {
			ids = append(ids, rec.ID)
		}
	}
	key := strings.Join(ids, ",")
	if key == m.faviconKey {
		return
	}
	m.faviconKey = key

	// Register the new interest before dropping the old one so rows that
	// stay on screen keep their fetch
	prev := m.faviconCancel
	m.faviconCancel = nil
	if len(ids) > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		m.faviconCancel = cancel
		m.svc.Favicons.Ensure(ctx, ids...)
	}
	if prev != nil {
		prev()
	}
}

func (m *Model) setStatus(msg string, isErr bool) {
	m.StatusMsg, m.StatusIsErr = msg, isErr
}

// languageOptions lists the languages present in the library in the
// order chosen by the language sorting preference.
func (m Model) languageOptions() []string {
	if m.svc.Records == nil {
		return nil
	}
	byCount := m.svc.Prefs != nil && prefs.Get(m.svc.Prefs, prefs.LanguageSorting) == prefs.LanguageByCount
	var langs []string
	for _, l := range query.Languages(m.svc.Records.All(), byCount) {
		langs = append(langs, l.Code)
	}
	return langs
}

// nextLanguage cycles the language filter: all, then each language in turn.
func nextLanguage(current []string, options []string) []string {
	if len(options) == 0 {
		return nil
	}
	if len(current) != 1 {
		return []string{options[0]}
	}
	i := slices.Index(options, current[0])
	if i < 0 || i+1 >= len(options) {
		return nil
	}
	return []string{options[i+1]}
}

// nextSortKey cycles title → size → date.
func nextSortKey(k domain.SortKey) domain.SortKey {
	switch k {
	case domain.SortBySize:
		return domain.SortByDate
	case domain.SortByDate:
		return domain.SortByTitle
	default:
		return domain.SortBySize
	}
}
