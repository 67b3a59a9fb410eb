package clock

import (
	"sync"
	"time"
)

// Fake is a manually driven Clock for tests. Ticks are only delivered when
// Tick is called.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers map[*fakeTicker]struct{}
}

// NewFake returns a Fake clock set to now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now, tickers: make(map[*fakeTicker]struct{})}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward without delivering ticks.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	t := &fakeTicker{
		clock:  f,
		period: d,
		c:      make(chan time.Time),
		done:   make(chan struct{}),
	}
	f.mu.Lock()
	f.tickers[t] = struct{}{}
	f.mu.Unlock()
	return t
}

// Tick advances the clock by one period of the first live ticker and hands a
// tick to every live ticker, blocking until each has been received or stopped.
// It returns the number of ticks delivered.
func (f *Fake) Tick() int {
	f.mu.Lock()
	live := make([]*fakeTicker, 0, len(f.tickers))
	var step time.Duration
	for t := range f.tickers {
		live = append(live, t)
		if step == 0 || t.period < step {
			step = t.period
		}
	}
	f.now = f.now.Add(step)
	now := f.now
	f.mu.Unlock()

	delivered := 0
	for _, t := range live {
		select {
		case t.c <- now:
			delivered++
		case <-t.done:
		}
	}
	return delivered
}

// Tickers returns the number of tickers that have not been stopped.
func (f *Fake) Tickers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

type fakeTicker struct {
	clock  *Fake
	period time.Duration
	c      chan time.Time
	done   chan struct{}
	once   sync.Once
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() {
	t.once.Do(func() {
		t.clock.mu.Lock()
		delete(t.clock.tickers, t)
		t.clock.mu.Unlock()
		close(t.done)
	})
}

var _ Clock = (*Fake)(nil)
