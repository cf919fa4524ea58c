package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultFlushDelay is the quiet window between the first scheduled write and
// the flush that persists it.
const DefaultFlushDelay = 5 * time.Second

// FlushFunc persists the current state of whatever the coalescer guards.
type FlushFunc func(ctx context.Context) error

// Coalescer collapses bursts of Schedule calls into a single flush per quiet
// window. It owns no data; the flush function snapshots at flush time.
//
// A failed timed flush is logged and re-armed for another window. Since the
// flush function always re-snapshots, the retry writes the latest state, not
// the one that failed.
type Coalescer struct {
	delay  time.Duration
	flush  FlushFunc
	logger zerolog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending bool
	stopped bool
	failed  bool // last flush returned an error

	// timed flushes that passed the pending check; Stop waits for them
	inflight sync.WaitGroup

	// serializes flushes
	flushMu sync.Mutex
}

// NewCoalescer returns a coalescer that calls flush at most once per delay.
func NewCoalescer(delay time.Duration, flush FlushFunc, logger zerolog.Logger) *Coalescer {
	if delay <= 0 {
		delay = DefaultFlushDelay
	}
	return &Coalescer{
		delay:  delay,
		flush:  flush,
		logger: logger,
	}
}

// Delay returns the quiet window.
func (c *Coalescer) Delay() time.Duration {
	return c.delay
}

// Schedule arms a flush unless one is already pending.
func (c *Coalescer) Schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending || c.stopped {
		return
	}

	c.pending = true
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.delay, func() { c.fire(gen) })
}

// Pending reports whether a flush is armed.
func (c *Coalescer) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Coalescer) fire(gen uint64) {
	c.mu.Lock()
	if !c.pending || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.pending = false
	c.timer = nil
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	if err := c.run(context.Background()); err != nil {
		c.logger.Error().Err(err).Dur("retry_in", c.delay).Msg("Coalesced flush failed")
		c.Schedule()
	}
}

// disarm cancels any armed timer and reports whether one was pending.
// Callers must hold c.mu.
func (c *Coalescer) disarm() bool {
	wasPending := c.pending
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = false
	c.gen++
	return wasPending
}

// Flush cancels the armed timer, if any, and flushes immediately.
func (c *Coalescer) Flush(ctx context.Context) error {
	c.mu.Lock()
	c.disarm()
	c.mu.Unlock()

	if err := c.run(ctx); err != nil {
		c.Schedule()
		return err
	}
	return nil
}

// Stop disarms the coalescer for good. It waits for a timed flush that is
// already running, then flushes once more if a write was pending or the last
// flush failed.
func (c *Coalescer) Stop(ctx context.Context) error {
	c.mu.Lock()
	wasPending := c.disarm()
	c.stopped = true
	c.mu.Unlock()

	c.inflight.Wait()

	c.mu.Lock()
	retry := c.failed
	c.mu.Unlock()

	if !wasPending && !retry {
		return nil
	}
	return c.run(ctx)
}

func (c *Coalescer) run(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	err := c.flush(ctx)
	c.mu.Lock()
	c.failed = err != nil
	c.mu.Unlock()
	return err
}
