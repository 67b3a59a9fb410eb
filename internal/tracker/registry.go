package tracker

import (
	"sync"

	"github.com/google/uuid"
)

// Factory builds the tracker for a client on first use.
type Factory func(clientID uuid.UUID) *Tracker

// Registry holds one Tracker per client, created lazily.
type Registry struct {
	factory Factory

	mu       sync.Mutex
	trackers map[uuid.UUID]*Tracker
	closed   bool
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:  factory,
		trackers: make(map[uuid.UUID]*Tracker),
	}
}

// Get returns the client's tracker, creating it if needed. After Shutdown it
// returns nil.
func (r *Registry) Get(clientID uuid.UUID) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if t, ok := r.trackers[clientID]; ok {
		return t
	}
	t := r.factory(clientID)
	r.trackers[clientID] = t
	return t
}

// Lookup returns the client's tracker without creating one.
func (r *Registry) Lookup(clientID uuid.UUID) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[clientID]
	return t, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}

// Shutdown closes every tracker, stopping all pollers.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range trackers {
		wg.Add(1)
		go func(t *Tracker) {
			defer wg.Done()
			t.Close()
		}(t)
	}
	wg.Wait()
}
