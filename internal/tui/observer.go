package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/zimshelf/internal/domain"
)

// resultsFeed adapts live query emissions to Bubble Tea. Only the newest
// emission of the current generation is kept; emissions from an older
// subscription are dropped.
type resultsFeed struct {
	mu         sync.Mutex
	generation int
	latest     *ResultsMsg
	notify     chan struct{}
}

func newResultsFeed() *resultsFeed {
	return &resultsFeed{notify: make(chan struct{}, 1)}
}

// next starts a new generation and returns the callback for its subscription.
func (f *resultsFeed) next() (int, func([]domain.ArchiveRecord)) {
	f.mu.Lock()
	f.generation++
	gen := f.generation
	f.latest = nil
	f.mu.Unlock()

	return gen, func(recs []domain.ArchiveRecord) {
		f.push(gen, recs)
	}
}

func (f *resultsFeed) push(gen int, recs []domain.ArchiveRecord) {
	f.mu.Lock()
	if gen != f.generation {
		f.mu.Unlock()
		return
	}
	f.latest = &ResultsMsg{Generation: gen, Records: recs}
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// wait returns a command delivering the next emission.
func (f *resultsFeed) wait() tea.Cmd {
	return func() tea.Msg {
		for range f.notify {
			f.mu.Lock()
			msg := f.latest
			f.latest = nil
			f.mu.Unlock()
			if msg != nil {
				return *msg
			}
		}
		return nil
	}
}

// progressObserver forwards refresh progress (non-blocking if full).
type progressObserver struct {
	ch chan RefreshProgressMsg
}

func newProgressObserver() *progressObserver {
	return &progressObserver{ch: make(chan RefreshProgressMsg, 1)}
}

func (o *progressObserver) onProgress(loaded, total int) {
	select {
	case o.ch <- RefreshProgressMsg{Loaded: loaded, Total: total}:
	default: // Non-blocking if channel full
	}
}

// wait returns a command delivering the next progress report. It yields
// nil once the refresh has finished and the channel is closed.
func (o *progressObserver) wait() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-o.ch
		if !ok {
			return nil
		}
		return msg
	}
}
