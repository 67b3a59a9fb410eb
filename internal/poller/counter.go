package poller

import "sync"

// Counter counts elapsed ticks for a job. Once frozen it ignores increments,
// so the value stops exactly when polling stops.
type Counter struct {
	mu     sync.Mutex
	n      int
	frozen bool
}

// Inc adds one tick and reports whether it was counted.
func (c *Counter) Inc() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return false
	}
	c.n++
	return true
}

func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset zeroes and unfreezes the counter.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.n = 0
	c.frozen = false
	c.mu.Unlock()
}

func (c *Counter) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

func (c *Counter) Frozen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen
}
