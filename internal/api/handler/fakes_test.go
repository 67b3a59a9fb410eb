package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/sourcefinder/internal/api/middleware"
	"github.com/kiranshivaraju/sourcefinder/internal/cache"
	"github.com/kiranshivaraju/sourcefinder/internal/clock"
	"github.com/kiranshivaraju/sourcefinder/internal/config"
	"github.com/kiranshivaraju/sourcefinder/internal/gateway"
	"github.com/kiranshivaraju/sourcefinder/internal/store"
	"github.com/kiranshivaraju/sourcefinder/internal/tracker"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
)

// --- stub gateway: every submission is pending until the status flips ---

type stubGateway struct {
	mu     sync.Mutex
	status string
	result *models.ResultBundle
}

func (g *stubGateway) complete(b *models.ResultBundle) {
	g.mu.Lock()
	g.status, g.result = "Completed", b
	g.mu.Unlock()
}

func (g *stubGateway) Submit(context.Context, models.Query) (gateway.SubmitOutcome, error) {
	return gateway.SubmitOutcome{}, nil
}

func (g *stubGateway) FetchStatus(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == "" {
		return "Running", nil
	}
	return g.status, nil
}

func (g *stubGateway) FetchResult(context.Context) (*models.ResultBundle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.result, nil
}

func (g *stubGateway) Ready(context.Context) error { return nil }

// --- stub store ---

type stubStore struct {
	store.Store
	jobs    []*models.JobRecord
	total   int
	listErr error
	gotList store.JobFilter
	job     *models.JobRecord
	getErr  error
	keys    []*models.APIKey
	created *models.APIKey
	err     error
	revoked uuid.UUID
}

func (s *stubStore) ListJobs(_ context.Context, f store.JobFilter) ([]*models.JobRecord, int, error) {
	s.gotList = f
	return s.jobs, s.total, s.listErr
}

func (s *stubStore) GetJob(_ context.Context, id, clientID uuid.UUID) (*models.JobRecord, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.job == nil || s.job.ID != id || s.job.ClientID != clientID {
		return nil, store.ErrNotFound
	}
	return s.job, nil
}

func (s *stubStore) CreateAPIKey(_ context.Context, k *models.APIKey) error {
	if s.err != nil {
		return s.err
	}
	s.created = k
	return nil
}

func (s *stubStore) ListAPIKeys(context.Context) ([]*models.APIKey, error) {
	return s.keys, s.err
}

func (s *stubStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	if s.err != nil {
		return s.err
	}
	s.revoked = id
	return nil
}

// --- stub cache ---

type stubCache struct {
	cache.Cache
	snaps  map[uuid.UUID]models.JobSnapshot
	latest *models.JobSnapshot
	err    error
}

func (c *stubCache) GetJobSnapshot(_ context.Context, _, jobID uuid.UUID) (*models.JobSnapshot, bool, error) {
	if c.err != nil {
		return nil, false, c.err
	}
	s, ok := c.snaps[jobID]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

func (c *stubCache) GetLatestJobSnapshot(context.Context, uuid.UUID) (*models.JobSnapshot, bool, error) {
	if c.err != nil {
		return nil, false, c.err
	}
	return c.latest, c.latest != nil, nil
}

// --- fixture ---

type fixture struct {
	gw       *stubGateway
	clock    *clock.Fake
	registry *tracker.Registry
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	f := &fixture{gw: &stubGateway{}, clock: clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))}
	f.registry = tracker.NewRegistry(func(uuid.UUID) *tracker.Tracker {
		return tracker.New(f.gw, f.clock, tracker.Config{Policy: policy, Interval: time.Second})
	})
	t.Cleanup(f.registry.Shutdown)
	return f
}

func newSupersedeFixture(t *testing.T) *fixture {
	return newFixture(t, config.PolicySupersede)
}

func withClient(r *http.Request, id uuid.UUID) *http.Request {
	return r.WithContext(mw.SetClientID(r.Context(), id))
}

func validQuery() map[string]string {
	return map[string]string{
		"sequence":    "ACGTACGTAC",
		"search_mode": string(models.SearchModeBlastn),
		"database":    string(models.DatabaseNT),
	}
}

var errBoom = errors.New("boom")
