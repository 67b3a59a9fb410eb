// Package poller owns the periodic timer that drives status polling of an
// in-flight job. At most one Handle is live per Poller, and every exit path
// releases it through a single, idempotent Stop.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/sourcefinder/internal/clock"
)

// DefaultInterval is the tick period used when none is configured.
const DefaultInterval = time.Second

// ErrAlreadyActive is returned by Start while a previous Handle is still live.
var ErrAlreadyActive = errors.New("poller already active")

// TickFunc is invoked once per tick, on the poller's goroutine, with the
// handle's context (cancelled on stop) and the 1-based tick number. It must
// not block; long work belongs in its own goroutine.
type TickFunc func(ctx context.Context, h *Handle, tick int)

// Poller schedules ticks for one job at a time.
type Poller struct {
	clock    clock.Clock
	interval time.Duration

	mu     sync.Mutex
	active *Handle
}

// New creates a Poller ticking every interval.
func New(c clock.Clock, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{clock: c, interval: interval}
}

// Start acquires a fresh Handle and begins ticking. The caller must Stop the
// previous handle first.
func (p *Poller) Start(fn TickFunc) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil && !p.active.Stopped() {
		return nil, ErrAlreadyActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		ticker: p.clock.NewTicker(p.interval),
		ctx:    ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
	}
	p.active = h
	go h.loop(fn)
	return h, nil
}

// Stop cancels the live handle, if any. Calling it with nothing active is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	h := p.active
	p.active = nil
	p.mu.Unlock()

	if h != nil {
		h.Stop()
	}
}

// Active reports whether a live handle exists.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil && !p.active.Stopped()
}

// Interval returns the tick period.
func (p *Poller) Interval() time.Duration { return p.interval }

// Handle is the ownership token for one running ticker and its callback.
type Handle struct {
	ticker  clock.Ticker
	ctx     context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	once    sync.Once
	stopped atomic.Bool
	ticks   atomic.Int64
}

// Stop cancels the handle exactly once. Safe from any goroutine, including
// from inside the tick callback.
func (h *Handle) Stop() {
	h.once.Do(func() {
		h.stopped.Store(true)
		close(h.stopCh)
		h.ticker.Stop()
		h.cancel()
	})
}

// Stopped reports whether Stop has been called.
func (h *Handle) Stopped() bool { return h.stopped.Load() }

// Context is cancelled when the handle stops.
func (h *Handle) Context() context.Context { return h.ctx }

// Ticks returns how many ticks have been dispatched to the callback.
func (h *Handle) Ticks() int { return int(h.ticks.Load()) }

func (h *Handle) loop(fn TickFunc) {
	for {
		select {
		case <-h.stopCh:
			return
		case <-h.ticker.C():
			// Both channels may be ready at once; a stopped handle never dispatches.
			if h.stopped.Load() {
				return
			}
			n := h.ticks.Add(1)
			fn(h.ctx, h, int(n))
		}
	}
}
