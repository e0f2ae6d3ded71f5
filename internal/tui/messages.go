package tui

import (
	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/mmcdole/zimshelf/internal/library"
)

// Message types for the TUI

// ResultsMsg carries a live query emission
type ResultsMsg struct {
	Generation int // Subscription the records belong to
	Records    []domain.ArchiveRecord
}

// RefreshProgressMsg reports catalog paging progress
type RefreshProgressMsg struct {
	Loaded int
	Total  int
}

// RefreshDoneMsg signals the end of a catalog refresh
type RefreshDoneMsg struct {
	Result library.RefreshResult
	Err    error
}

// ClearStatusMsg clears the status line
type ClearStatusMsg struct{}

// tickMsg advances the spinner
type tickMsg struct{}
