package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/zimshelf/internal/domain"
)

// handleKeyMsg handles keyboard input
func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.State == StateSearching {
		return m.handleSearchKey(msg)
	}

	switch {
	case key.Matches(msg, Keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, Keys.Up):
		m.moveCursor(-1)
	case key.Matches(msg, Keys.Down):
		m.moveCursor(1)
	case key.Matches(msg, Keys.PageUp):
		m.moveCursor(-m.listHeight())
	case key.Matches(msg, Keys.PageDown):
		m.moveCursor(m.listHeight())
	case key.Matches(msg, Keys.Home):
		m.moveCursor(-len(m.Results))
	case key.Matches(msg, Keys.End):
		m.moveCursor(len(m.Results))

	case key.Matches(msg, Keys.Search):
		m.State = StateSearching
		m.Search.Focus()
		m.updateSuggestions()
		return m, nil

	case key.Matches(msg, Keys.Escape):
		if m.Spec.TitleSubstring != "" {
			m.Search.SetValue("")
			spec := m.Spec
			spec.TitleSubstring = ""
			m.setSpec(spec)
		}

	case key.Matches(msg, Keys.ToggleDevice):
		spec := m.Spec
		spec.OnDeviceOnly = !spec.OnDeviceOnly
		m.setSpec(spec)

	case key.Matches(msg, Keys.CycleSort):
		spec := m.Spec
		spec.SortKey = nextSortKey(spec.SortKey)
		if m.svc.DefaultAscending != nil {
			spec.Ascending = m.svc.DefaultAscending(spec.SortKey)
		}
		m.setSpec(spec)

	case key.Matches(msg, Keys.Reverse):
		spec := m.Spec
		spec.Ascending = !spec.Ascending
		m.setSpec(spec)

	case key.Matches(msg, Keys.Language):
		spec := m.Spec
		spec.Languages = nextLanguage(spec.Languages, m.languageOptions())
		m.setSpec(spec)

	case key.Matches(msg, Keys.Refresh):
		if m.Refreshing || m.svc.Ingestor == nil {
			return m, nil
		}
		m.Refreshing = true
		m.Progress = RefreshProgressMsg{}
		m.progress = newProgressObserver()
		return m, tea.Batch(RefreshCmd(m.svc.Ingestor, m.progress), m.progress.wait(), tickCmd())

	case key.Matches(msg, Keys.Open):
		rec, ok := m.Selected()
		if !ok || m.svc.Reader == nil {
			return m, nil
		}
		if err := m.svc.Reader.Open(rec); err != nil {
			m.setStatus(err.Error(), true)
		} else {
			m.setStatus("Opened "+rec.Title, false)
		}
		return m, ClearStatusCmd(3 * time.Second)

	case key.Matches(msg, Keys.Bookmark):
		rec, ok := m.Selected()
		if !ok || m.svc.Bookmarks == nil {
			return m, nil
		}
		// The archive's main page stands in for a page the reader would supply
		err := m.svc.Bookmarks.AddBookmark(domain.BookmarkEntry{ArchiveID: rec.ID, PageID: mainPageID, Title: rec.Title})
		if err != nil {
			m.setStatus(err.Error(), true)
		} else {
			m.setStatus("Bookmarked "+rec.Title, false)
		}
		return m, ClearStatusCmd(3 * time.Second)
	}
	return m, nil
}

// mainPageID identifies an archive's landing page in bookmarks
const mainPageID = "main"

// handleSearchKey handles input while the search line is focused
func (m Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyCtrlC:
		return m, tea.Quit

	case key.Matches(msg, Keys.Escape):
		m.State = StateBrowsing
		m.Search.Blur()
		m.Suggestions = nil
		return m, nil

	case key.Matches(msg, Keys.Accept):
		m.State = StateBrowsing
		m.Search.Blur()
		m.Suggestions = nil
		if m.svc.Bookmarks != nil {
			m.svc.Bookmarks.RecordSearch(m.Search.Value())
		}
		return m, nil

	case msg.Type == tea.KeyTab && len(m.Suggestions) > 0:
		// Complete with the best recent search
		m.Search.SetValue(m.Suggestions[0])
		m.Search.CursorEnd()
	}

	var cmd tea.Cmd
	m.Search, cmd = m.Search.Update(msg)

	if text := m.Search.Value(); text != m.Spec.TitleSubstring {
		spec := m.Spec
		spec.TitleSubstring = text
		m.Cursor, m.Offset = 0, 0
		m.setSpec(spec)
	}
	m.updateSuggestions()
	return m, cmd
}

func (m *Model) updateSuggestions() {
	if m.svc.Bookmarks == nil {
		return
	}
	matches := m.svc.Bookmarks.MatchRecentSearches(m.Search.Value())
	if len(matches) > maxSuggestions {
		matches = matches[:maxSuggestions]
	}
	m.Suggestions = matches
}

func (m *Model) moveCursor(delta int) {
	m.Cursor += delta
	m.clampCursor()
	m.ensureVisibleFavicons()
}
