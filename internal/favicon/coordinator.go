// Package favicon fetches archive favicons in the background.
//
// Requests for the same archive are deduplicated, at most MaxConcurrent
// fetches run at once, failures are retried with exponential backoff and
// an archive whose retries are exhausted is not tried again until Reset.
package favicon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mmcdole/zimshelf/internal/domain"
	"golang.org/x/time/rate"
)

// State is the fetch state of one archive.
type State string

const (
	StateNone     State = "none"
	StateQueued   State = "queued"
	StateInFlight State = "in_flight"
	StateFailed   State = "failed"
)

// Config tunes the coordinator.
type Config struct {
	MaxConcurrent  int
	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RatePerSecond  float64 // 0 = unlimited
}

// DefaultConfig returns the default coordinator settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  4,
		MaxAttempts:    3,
		AttemptTimeout: 10 * time.Second,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// Records is the part of the record store the coordinator needs.
type Records interface {
	Get(id string) (domain.ArchiveRecord, bool)
	Upsert(rec domain.ArchiveRecord, opts ...domain.UpsertOption) error
}

type job struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	state   State
	waiters int
	stops   []func() bool // Detach waiter AfterFuncs
}

// Coordinator deduplicates and bounds favicon fetches.
type Coordinator struct {
	fetcher domain.FaviconFetcher
	records Records
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger

	ctx    context.Context // Parent of every job
	cancel context.CancelFunc

	mu     sync.Mutex
	cond   *sync.Cond
	jobs   map[string]*job
	queue  []*job
	failed map[string]bool
	closed bool

	wg sync.WaitGroup
}

// NewCoordinator starts cfg.MaxConcurrent workers.
func NewCoordinator(fetcher domain.FaviconFetcher, records Records, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.MaxConcurrent)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		fetcher: fetcher,
		records: records,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*job),
		failed:  make(map[string]bool),
	}
	c.cond = sync.NewCond(&c.mu)

	for i := 0; i < cfg.MaxConcurrent; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

// Ensure queues a fetch for every id whose record exists and has no
// favicon, unless one is already queued, running or has failed. The fetch
// is abandoned once the contexts of all callers interested in it are done.
func (c *Coordinator) Ensure(ctx context.Context, ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	queued := 0
	for _, id := range ids {
		if c.failed[id] {
			continue
		}
		if j, ok := c.jobs[id]; ok {
			c.watch(ctx, j)
			continue
		}

		rec, ok := c.records.Get(id)
		if !ok || rec.HasFavicon() {
			continue
		}

		jctx, cancel := context.WithCancel(c.ctx)
		j := &job{id: id, ctx: jctx, cancel: cancel, state: StateQueued}
		c.jobs[id] = j
		c.queue = append(c.queue, j)
		c.watch(ctx, j)
		queued++
	}

	if queued > 0 {
		c.logger.Debug("favicon fetches queued", "count", queued, "pending", len(c.queue))
		c.cond.Broadcast()
	}
}

// watch registers ctx's interest in j. Caller holds c.mu.
func (c *Coordinator) watch(ctx context.Context, j *job) {
	j.waiters++
	if ctx.Done() == nil {
		// Never cancelled; keeps the job alive
		return
	}
	stop := context.AfterFunc(ctx, func() { c.release(j) })
	j.stops = append(j.stops, stop)
}

// release drops one waiter and abandons the job when none remain.
func (c *Coordinator) release(j *job) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.jobs[j.id] != j {
		return
	}
	j.waiters--
	if j.waiters > 0 {
		return
	}

	switch j.state {
	case StateQueued:
		c.dequeue(j)
		delete(c.jobs, j.id)
		c.logger.Debug("favicon fetch abandoned", "id", j.id)
	case StateInFlight:
		// The worker sees the cancellation and skips the write
		delete(c.jobs, j.id)
		c.logger.Debug("favicon fetch cancelled", "id", j.id)
	}
	j.cancel()
}

func (c *Coordinator) dequeue(j *job) {
	for i, q := range c.queue {
		if q == j {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

// State reports the fetch state of id.
func (c *Coordinator) State(id string) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if j, ok := c.jobs[id]; ok {
		return j.state
	}
	if c.failed[id] {
		return StateFailed
	}
	return StateNone
}

// Reset clears the failed mark of ids so they can be fetched again.
func (c *Coordinator) Reset(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.failed, id)
	}
}

// ResetAll clears every failed mark.
func (c *Coordinator) ResetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = make(map[string]bool)
}

// Close cancels outstanding fetches and waits for the workers to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue = nil
	c.cond.Broadcast()
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) worker() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		j := c.queue[0]
		c.queue = c.queue[1:]
		j.state = StateInFlight
		c.mu.Unlock()

		data, err := c.fetch(j)
		c.finish(j, data, err)
	}
}

// fetch runs up to MaxAttempts attempts with exponential backoff between them.
func (c *Coordinator) fetch(j *job) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.Reset()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(j.ctx); err != nil {
			return nil, err
		}

		data, err := c.attempt(j)
		if err == nil {
			return data, nil
		}
		if j.ctx.Err() != nil {
			return nil, j.ctx.Err()
		}
		lastErr = &domain.FetchError{ArchiveID: j.id, Attempt: attempt, Err: err}
		c.logger.Warn("favicon fetch attempt failed", "id", j.id, "attempt", attempt, "error", err)

		if attempt == c.cfg.MaxAttempts {
			break
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-j.ctx.Done():
			timer.Stop()
			return nil, j.ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (c *Coordinator) attempt(j *job) ([]byte, error) {
	ctx, cancel := context.WithTimeout(j.ctx, c.cfg.AttemptTimeout)
	defer cancel()

	data, err := c.fetcher.FetchFavicon(ctx, j.id)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty favicon")
	}
	return data, nil
}

func (c *Coordinator) finish(j *job, data []byte, err error) {
	c.mu.Lock()
	if c.jobs[j.id] == j {
		delete(c.jobs, j.id)
	}
	for _, stop := range j.stops {
		stop()
	}
	cancelled := j.ctx.Err() != nil
	if err != nil && !cancelled {
		c.failed[j.id] = true
	}
	c.mu.Unlock()
	j.cancel()

	switch {
	case cancelled:
		return
	case err != nil:
		c.logger.Error("failed to fetch favicon", "id", j.id, "error", err)
		return
	}

	rec, ok := c.records.Get(j.id)
	if !ok || rec.HasFavicon() {
		return
	}
	if err := c.records.Upsert(domain.ArchiveRecord{ID: j.id, FaviconBytes: data}, domain.WithExistingOnly()); err != nil {
		c.logger.Error("failed to store favicon", "id", j.id, "error", err)
		return
	}
	c.logger.Debug("favicon stored", "id", j.id, "bytes", len(data))
}
