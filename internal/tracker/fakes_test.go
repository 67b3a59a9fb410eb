package tracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/sourcefinder/internal/clock"
	"github.com/kiranshivaraju/sourcefinder/internal/gateway"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
	"github.com/stretchr/testify/require"
)

type submitFunc func(ctx context.Context, q models.Query) (gateway.SubmitOutcome, error)

// fakeGateway is a scriptable gateway.Client. Submissions are answered by the
// queued submitFuncs in call order; the last one repeats.
type fakeGateway struct {
	mu        sync.Mutex
	submits   []submitFunc
	status    string
	statusErr error
	result    *models.ResultBundle
	resultErr error

	submitCalls atomic.Int32
	statusCalls atomic.Int32
	resultCalls atomic.Int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{status: "Running"}
}

func (f *fakeGateway) onSubmit(fns ...submitFunc) {
	f.mu.Lock()
	f.submits = append(f.submits, fns...)
	f.mu.Unlock()
}

func (f *fakeGateway) setStatus(label string, err error) {
	f.mu.Lock()
	f.status, f.statusErr = label, err
	f.mu.Unlock()
}

func (f *fakeGateway) setResult(b *models.ResultBundle, err error) {
	f.mu.Lock()
	f.result, f.resultErr = b, err
	f.mu.Unlock()
}

func (f *fakeGateway) Submit(ctx context.Context, q models.Query) (gateway.SubmitOutcome, error) {
	n := int(f.submitCalls.Add(1)) - 1
	f.mu.Lock()
	var fn submitFunc
	switch {
	case len(f.submits) == 0:
	case n < len(f.submits):
		fn = f.submits[n]
	default:
		fn = f.submits[len(f.submits)-1]
	}
	f.mu.Unlock()

	if fn == nil {
		return gateway.SubmitOutcome{}, nil
	}
	return fn(ctx, q)
}

func (f *fakeGateway) FetchStatus(context.Context) (string, error) {
	f.statusCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeGateway) FetchResult(context.Context) (*models.ResultBundle, error) {
	f.resultCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.resultErr
}

func (f *fakeGateway) Ready(context.Context) error { return nil }

// --- submit behaviours ---

func pending() submitFunc {
	return func(context.Context, models.Query) (gateway.SubmitOutcome, error) {
		return gateway.SubmitOutcome{}, nil
	}
}

func immediate(b *models.ResultBundle) submitFunc {
	return func(context.Context, models.Query) (gateway.SubmitOutcome, error) {
		return gateway.SubmitOutcome{Result: b}, nil
	}
}

func failing(err error) submitFunc {
	return func(context.Context, models.Query) (gateway.SubmitOutcome, error) {
		return gateway.SubmitOutcome{}, err
	}
}

// blockUntilCancelled behaves like a long-running submit call that only ends
// when the client disengages.
func blockUntilCancelled() submitFunc {
	return func(ctx context.Context, _ models.Query) (gateway.SubmitOutcome, error) {
		<-ctx.Done()
		return gateway.SubmitOutcome{}, fmt.Errorf("%w: %v", gateway.ErrTransport, ctx.Err())
	}
}

type submitReply struct {
	out gateway.SubmitOutcome
	err error
}

// deferred returns a submit call that resolves when the test sends on the
// returned channel, whether or not the client has disengaged by then.
func deferred() (submitFunc, chan<- submitReply) {
	ch := make(chan submitReply, 1)
	return func(context.Context, models.Query) (gateway.SubmitOutcome, error) {
		r := <-ch
		return r.out, r.err
	}, ch
}

func transportErr() error {
	return fmt.Errorf("%w: timeout: context deadline exceeded", gateway.ErrTransport)
}

// --- metrics ---

type recordingMetrics struct {
	mu         sync.Mutex
	submitted  int
	superseded int
	finished   map[models.Phase]int
	ticks      int
	pollErrors map[string]int
	discarded  map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		finished:   make(map[models.Phase]int),
		pollErrors: make(map[string]int),
		discarded:  make(map[string]int),
	}
}

func (m *recordingMetrics) JobSubmitted() {
	m.mu.Lock()
	m.submitted++
	m.mu.Unlock()
}

func (m *recordingMetrics) JobSuperseded() {
	m.mu.Lock()
	m.superseded++
	m.mu.Unlock()
}

func (m *recordingMetrics) JobFinished(p models.Phase, _ int) {
	m.mu.Lock()
	m.finished[p]++
	m.mu.Unlock()
}

func (m *recordingMetrics) Tick() {
	m.mu.Lock()
	m.ticks++
	m.mu.Unlock()
}

func (m *recordingMetrics) PollError(call string) {
	m.mu.Lock()
	m.pollErrors[call]++
	m.mu.Unlock()
}

func (m *recordingMetrics) DeliveryDiscarded(source string) {
	m.mu.Lock()
	m.discarded[source]++
	m.mu.Unlock()
}

func (m *recordingMetrics) discardedFrom(source string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discarded[source]
}

func (m *recordingMetrics) finishedIn(p models.Phase) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished[p]
}

// --- fixtures ---

type fixture struct {
	tracker *Tracker
	gw      *fakeGateway
	clock   *clock.Fake
	metrics *recordingMetrics
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		gw:      newFakeGateway(),
		clock:   clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		metrics: newRecordingMetrics(),
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	f.tracker = New(f.gw, f.clock, cfg, WithMetrics(f.metrics))
	t.Cleanup(f.tracker.Close)
	return f
}

func acgt() models.Query {
	return models.Query{Sequence: "ACGT", SearchMode: models.SearchModeBlastn, Database: models.DatabaseNT}
}

func bundle(summary string, hits int) *models.ResultBundle {
	b := &models.ResultBundle{
		Summary:       summary,
		TreeImageURL:  "https://assets.example.org/tree.png",
		FullResultURL: "https://assets.example.org/results.txt",
		TopHits:       make([]models.Hit, 0, hits),
	}
	for i := 0; i < hits; i++ {
		b.TopHits = append(b.TopHits, models.Hit{
			Title:           fmt.Sprintf("hit %d", i),
			PublicationLink: fmt.Sprintf("https://pubs.example.org/%d", i),
		})
	}
	return b
}

// waitFor blocks until the tracker's snapshot satisfies cond.
func waitFor(t *testing.T, tr *Tracker, cond func(models.JobSnapshot) bool) models.JobSnapshot {
	t.Helper()
	var last models.JobSnapshot
	require.Eventually(t, func() bool {
		last = tr.Snapshot()
		return cond(last)
	}, 2*time.Second, 2*time.Millisecond, "last snapshot: %+v", last)
	return last
}

func waitTerminal(t *testing.T, tr *Tracker) models.JobSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := tr.Wait(ctx)
	require.NoError(t, err, "last snapshot: %+v", snap)
	return snap
}

func phaseIs(p models.Phase) func(models.JobSnapshot) bool {
	return func(s models.JobSnapshot) bool { return s.Phase == p }
}
