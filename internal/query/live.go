package query

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mmcdole/zimshelf/internal/domain"
)

// Handle identifies a live query subscription.
type Handle string

// Engine evaluates queries against the record store and keeps live
// subscriptions up to date as the store changes.
type Engine struct {
	*Evaluator

	records domain.RecordReader
	bus     domain.Subscriber
	logger  *slog.Logger

	mu     sync.Mutex
	live   map[Handle]*liveQuery
	closed bool
}

// NewEngine creates a query engine over records, listening for changes on bus.
func NewEngine(records domain.RecordReader, bus domain.Subscriber, locale string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Evaluator: NewEvaluator(locale, logger),
		records:   records,
		bus:       bus,
		logger:    logger,
		live:      make(map[Handle]*liveQuery),
	}
}

// Run evaluates spec against the current records.
func (e *Engine) Run(spec domain.QuerySpec) []domain.ArchiveRecord {
	return e.Evaluate(spec, e.records.All())
}

type resultKey struct {
	id       string
	revision uint64
}

type liveQuery struct {
	engine *Engine
	spec   domain.QuerySpec
	fn     func([]domain.ArchiveRecord)
	token  string

	cancelled atomic.Bool

	mu      sync.Mutex // Serializes evaluate + emit
	emitted bool
	last    []resultKey
	members map[string]bool
}

// Subscribe emits the result of spec to fn asynchronously, then again
// whenever a relevant store change alters it. Emissions for one handle
// never overlap and always reflect a store state at least as new as the
// previous emission.
func (e *Engine) Subscribe(spec domain.QuerySpec, fn func([]domain.ArchiveRecord)) Handle {
	h := Handle(uuid.NewString())
	q := &liveQuery{engine: e, spec: spec, fn: fn}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return h
	}
	e.live[h] = q
	e.mu.Unlock()

	// Listen before the initial evaluation so no change can slip between them
	q.token = e.bus.Subscribe(q.onEvent)
	go q.refresh()

	e.logger.Debug("live query subscribed", "handle", h, "sort", spec.SortKey)
	return h
}

// Unsubscribe stops emissions for h. Unknown handles are ignored.
func (e *Engine) Unsubscribe(h Handle) {
	e.mu.Lock()
	q, ok := e.live[h]
	delete(e.live, h)
	e.mu.Unlock()

	if ok {
		q.stop()
	}
}

// Subscriptions returns the number of active live queries.
func (e *Engine) Subscriptions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// Close stops every live query.
func (e *Engine) Close() {
	e.mu.Lock()
	live := e.live
	e.live = make(map[Handle]*liveQuery)
	e.closed = true
	e.mu.Unlock()

	for _, q := range live {
		q.stop()
	}
}

func (q *liveQuery) stop() {
	if q.cancelled.Swap(true) {
		return
	}
	q.engine.bus.Unsubscribe(q.token)
}

func (q *liveQuery) onEvent(event domain.Event) {
	if event.Entity != domain.EntityArchive || q.cancelled.Load() {
		return
	}
	if q.relevant(event) {
		q.refresh()
	}
}

func (q *liveQuery) relevant(event domain.Event) bool {
	switch event.Kind {
	case domain.EventInserted, domain.EventRemoved:
		return true
	}

	for _, f := range event.Fields {
		if q.spec.References(f) {
			return true
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.members[event.ID]
}

func (q *liveQuery) refresh() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled.Load() {
		return
	}

	result := q.engine.Run(q.spec)
	keys := make([]resultKey, len(result))
	for i, rec := range result {
		keys[i] = resultKey{id: rec.ID, revision: rec.Revision}
	}
	if q.emitted && slices.Equal(keys, q.last) {
		return
	}

	q.last = keys
	q.emitted = true
	q.members = make(map[string]bool, len(keys))
	for _, k := range keys {
		q.members[k.id] = true
	}

	q.fn(result)
}
