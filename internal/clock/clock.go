// Package clock abstracts periodic scheduling so pollers can be driven by a
// real ticker in production and by hand in tests.
package clock

import "time"

// Clock produces tickers and reports the current time.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers periodic ticks until stopped. Stop is idempotent and no tick
// is delivered once it has returned.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }

// Stop relies on time.Ticker semantics (Go 1.23+): no stale tick is received
// after Stop returns.
func (r *realTicker) Stop() { r.t.Stop() }

var _ Clock = Real{}
