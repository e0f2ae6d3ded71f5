package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/zimshelf/internal/library"
)

// RefreshCmd refreshes the catalog, reporting progress to obs.
func RefreshCmd(in *library.Ingestor, obs *progressObserver) tea.Cmd {
	return func() tea.Msg {
		defer close(obs.ch)
		res, err := in.Refresh(context.Background(), obs.onProgress)
		return RefreshDoneMsg{Result: res, Err: err}
	}
}

// ClearStatusCmd clears the status line after d
func ClearStatusCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return ClearStatusMsg{}
	})
}

func tickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func refreshSummary(r library.RefreshResult) string {
	return fmt.Sprintf("Catalog refreshed: %d archives, %d new, %d removed", r.Fetched, r.Inserted, r.Removed)
}
