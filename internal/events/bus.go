// Package events implements the change notification bus.
//
// Every subscriber owns an unbounded FIFO mailbox drained by its own
// goroutine, so Publish never blocks on a slow subscriber and each
// subscriber sees events in publish order.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/zimshelf/internal/domain"
)

// Bus fans events out to subscribers.
type Bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string]*subscriber
	live   map[string]bool // entity/id pairs currently inserted
	closed bool
	wg     sync.WaitGroup
}

// NewBus creates a new bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[string]*subscriber),
		live:   make(map[string]bool),
	}
}

func liveKey(entity domain.Entity, id string) string {
	return string(entity) + "/" + id
}

// Seed marks ids as already inserted, for state restored from disk
// without Inserted events.
func (b *Bus) Seed(entity domain.Entity, ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.live[liveKey(entity, id)] = true
	}
}

// Publish enqueues event for every subscriber and returns immediately.
//
// Inserting an id twice without a removal, or updating/removing an id
// that was never inserted, is a ConsistencyError and panics.
func (b *Bus) Publish(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.checkLifecycle(event)

	for _, s := range b.subs {
		s.enqueue(event)
	}
}

func (b *Bus) checkLifecycle(event domain.Event) {
	key := liveKey(event.Entity, event.ID)
	var detail string
	switch event.Kind {
	case domain.EventInserted:
		if b.live[key] {
			detail = "inserted twice without removal"
		}
		b.live[key] = true
	case domain.EventUpdated:
		if !b.live[key] {
			detail = "updated before insert"
		}
	case domain.EventRemoved:
		if !b.live[key] {
			detail = "removed before insert"
		}
		delete(b.live, key)
	}
	if detail == "" {
		return
	}
	err := &domain.ConsistencyError{Op: "publish " + event.Kind.String(), ID: key, Detail: detail}
	b.logger.Error("event ordering violated", "error", err)
	panic(err)
}

// Subscribe registers fn and returns a token for Unsubscribe.
// fn runs on a goroutine owned by the subscription.
func (b *Bus) Subscribe(fn func(domain.Event)) string {
	s := &subscriber{
		id:     uuid.NewString(),
		fn:     fn,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: b.logger,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return s.id
	}
	b.subs[s.id] = s
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		s.run()
	}()

	b.logger.Debug("bus subscriber added", "token", s.id)
	return s.id
}

// Unsubscribe stops delivery to the subscriber. Pending events are dropped.
// Unknown or already removed tokens are ignored.
func (b *Bus) Unsubscribe(token string) {
	b.mu.Lock()
	s, ok := b.subs[token]
	delete(b.subs, token)
	b.mu.Unlock()

	if ok {
		s.stop()
		b.logger.Debug("bus subscriber removed", "token", token)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Drain waits until every mailbox is empty and no callback is running.
func (b *Bus) Drain(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		if b.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Bus) idle() bool {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.pendingCount() > 0 {
			return false
		}
	}
	return true
}

// Close stops all subscribers and waits for their goroutines.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	b.wg.Wait()
}

type subscriber struct {
	id     string
	fn     func(domain.Event)
	logger *slog.Logger

	mu      sync.Mutex
	queue   []domain.Event
	pending int // queued + being delivered

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (s *subscriber) enqueue(event domain.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.pending++
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default: // Already signalled
	}
}

func (s *subscriber) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			batch := s.queue
			s.queue = nil
			s.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, event := range batch {
				select {
				case <-s.done:
					return
				default:
				}
				s.deliver(event)
				s.mu.Lock()
				s.pending--
				s.mu.Unlock()
			}
		}
	}
}

func (s *subscriber) deliver(event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("bus subscriber panicked", "token", s.id, "event", event.Kind.String(), "id", event.ID, "panic", r)
		}
	}()
	s.fn(event)
}
