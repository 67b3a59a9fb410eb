// Package recorder persists tracker snapshots: every snapshot goes to the
// cache for fast reads, and job history rows are written to the store when a
// job starts and when it finishes.
package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sourcefinder/internal/cache"
	"github.com/kiranshivaraju/sourcefinder/internal/store"
	"github.com/kiranshivaraju/sourcefinder/internal/tracker"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
)

const writeTimeout = 5 * time.Second

// Metrics counts failed writes.
type Metrics interface {
	PersistError(target string)
}

type Recorder struct {
	cache   cache.Cache
	store   store.Store
	ttl     time.Duration
	metrics Metrics
}

func New(c cache.Cache, s store.Store, ttl time.Duration, m Metrics) *Recorder {
	return &Recorder{cache: c, store: s, ttl: ttl, metrics: m}
}

// Listener returns a tracker listener recording clientID's snapshots.
// Failures are logged and counted, never returned to the tracker.
func (r *Recorder) Listener(clientID uuid.UUID) tracker.Listener {
	// Listeners are called serially, so lastJob needs no lock.
	var lastJob uuid.UUID
	return func(snap models.JobSnapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := r.cache.SetJobSnapshot(ctx, clientID, snap, r.ttl); err != nil {
			slog.Warn("caching job snapshot failed", "job_id", snap.ID, "version", snap.Version, "error", err)
			r.failed("cache")
		}

		first := snap.ID != lastJob
		lastJob = snap.ID
		if !first && !snap.Phase.Terminal() {
			return
		}
		if err := r.store.SaveJob(ctx, models.RecordFromSnapshot(clientID, snap)); err != nil {
			slog.Error("saving job failed", "job_id", snap.ID, "phase", snap.Phase, "error", err)
			r.failed("store")
		}
	}
}

func (r *Recorder) failed(target string) {
	if r.metrics != nil {
		r.metrics.PersistError(target)
	}
}
