// Package tracker owns one client's search job: it submits the query, drives
// the status poller, and applies the first result to arrive exactly once.
//
// Two event sources feed the job: the submit call's own resolution and the
// per-tick status/result polls. Both converge on reconcile, which only fires
// for the current job instance while it is still active.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sourcefinder/internal/clock"
	"github.com/kiranshivaraju/sourcefinder/internal/config"
	"github.com/kiranshivaraju/sourcefinder/internal/gateway"
	"github.com/kiranshivaraju/sourcefinder/internal/poller"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
)

var (
	ErrInvalidQuery = errors.New("invalid query")
	// ErrJobInFlight is returned by Submit under the reject policy.
	ErrJobInFlight = errors.New("a search is already in flight")
	ErrClosed      = errors.New("tracker closed")
)

// AdvisoryStillProcessing is shown while the submit call failed in transit but
// the job may still finish on the service.
const AdvisoryStillProcessing = "still processing, will update automatically"

// Delivery sources, used in logs and metrics.
const (
	SourceSubmit = "submit"
	SourcePoll   = "poll"
)

// Config tunes a Tracker.
type Config struct {
	// Policy decides what a submission does while a job is active:
	// config.PolicySupersede (default) or config.PolicyReject.
	Policy string
	// Interval is the poll tick period. Defaults to poller.DefaultInterval.
	Interval time.Duration
	// MaxStatusFailures fails the job after this many consecutive failed
	// status polls. 0 disables the cap.
	MaxStatusFailures int
}

// Listener receives every snapshot in Version order. Listeners run on a
// dedicated goroutine, never under the tracker's lock, and must not block for long.
type Listener func(models.JobSnapshot)

type job struct {
	id     uuid.UUID
	query  models.Query
	phase  models.Phase
	handle *poller.Handle
	ctx    context.Context
	cancel context.CancelFunc

	elapsed        poller.Counter
	statusLabel    string
	lastStatusTick int
	statusFailures int

	result      *models.ResultBundle
	errMsg      string
	advisory    string
	submittedAt time.Time
	finishedAt  *time.Time
}

// Tracker is the job state machine for a single client.
type Tracker struct {
	gw      gateway.Client
	poller  *poller.Poller
	clock   clock.Clock
	cfg     Config
	logger  *slog.Logger
	metrics Metrics

	mu        sync.Mutex
	job       *job
	version   uint64
	snap      models.JobSnapshot
	changed   chan struct{}
	closed    bool
	listeners map[int]Listener
	nextID    int
	outbox    []models.JobSnapshot

	wake       chan struct{}
	done       chan struct{}
	dispatched chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(t *Tracker) {
		if m != nil {
			t.metrics = m
		}
	}
}

// WithListener subscribes l before the tracker publishes anything.
func WithListener(l Listener) Option {
	return func(t *Tracker) {
		t.listeners[t.nextID] = l
		t.nextID++
	}
}

// New creates an idle Tracker. Close releases it.
func New(gw gateway.Client, c clock.Clock, cfg Config, opts ...Option) *Tracker {
	if cfg.Policy == "" {
		cfg.Policy = config.PolicySupersede
	}
	t := &Tracker{
		gw:         gw,
		poller:     poller.New(c, cfg.Interval),
		clock:      c,
		cfg:        cfg,
		logger:     slog.Default(),
		metrics:    noopMetrics{},
		snap:       models.IdleSnapshot(),
		changed:    make(chan struct{}),
		listeners:  make(map[int]Listener),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		dispatched: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.dispatch()
	return t
}

// Submit starts a new job for q and returns its first snapshot. The search
// itself runs in the background; observe it with Snapshot, Wait or Subscribe.
func (t *Tracker) Submit(q models.Query) (models.JobSnapshot, error) {
	if err := q.Validate(); err != nil {
		return models.JobSnapshot{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return models.JobSnapshot{}, ErrClosed
	}

	if prev := t.job; prev != nil && prev.phase.Active() {
		if t.cfg.Policy == config.PolicyReject {
			return t.snap, ErrJobInFlight
		}
		t.disengageLocked(prev)
		t.metrics.JobSuperseded()
		t.logger.Info("search superseded", "job_id", prev.id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:          uuid.New(),
		query:       q,
		phase:       models.PhaseSubmitting,
		ctx:         ctx,
		cancel:      cancel,
		statusLabel: models.StatusIdle,
		submittedAt: t.clock.Now(),
	}

	h, err := t.poller.Start(t.onTick(j))
	if err != nil {
		cancel()
		return models.JobSnapshot{}, fmt.Errorf("starting poller: %w", err)
	}
	j.handle = h
	t.job = j
	t.commitLocked()

	t.metrics.JobSubmitted()
	t.logger.Info("search submitted", "job_id", j.id, "mode", q.SearchMode, "database", q.Database)

	go t.runSubmit(j)

	return t.snap, nil
}

// Snapshot returns the current state. Before the first submission it is the
// idle snapshot.
func (t *Tracker) Snapshot() models.JobSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Wait blocks until the current job is terminal (or there is no job) and
// returns that snapshot. A job left active by Close returns ErrClosed.
func (t *Tracker) Wait(ctx context.Context) (models.JobSnapshot, error) {
	for {
		t.mu.Lock()
		snap, changed, closed := t.snap, t.changed, t.closed
		t.mu.Unlock()

		if snap.Phase == models.PhaseIdle || snap.Phase.Terminal() {
			return snap, nil
		}
		if closed {
			return snap, ErrClosed
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Changed returns a channel closed at the next transition after the call.
func (t *Tracker) Changed() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// Subscribe registers l and returns a function that removes it.
func (t *Tracker) Subscribe(l Listener) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = l
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}

// PollerActive reports whether a poll handle is live.
func (t *Tracker) PollerActive() bool { return t.poller.Active() }

// Close stops polling, disengages any active job, and waits until pending
// snapshots have been delivered to listeners. The last snapshot is kept.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		<-t.dispatched
		return
	}
	t.closed = true
	if j := t.job; j != nil && j.phase.Active() {
		t.disengageLocked(j)
	}
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()

	close(t.done)
	<-t.dispatched
}

// --- event sources ---

// runSubmit performs the submit call for j and routes its outcome.
func (t *Tracker) runSubmit(j *job) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in runSubmit", "error", r, "job_id", j.id)
			t.fail(j, "internal error", SourceSubmit)
		}
	}()

	out, err := t.gw.Submit(j.ctx, j.query)
	switch {
	case err == nil && !out.Pending():
		t.reconcile(j, out.Result, SourceSubmit)
	case err == nil:
		t.markInFlight(j, "")
	case gateway.IsTransport(err):
		if j.ctx.Err() != nil {
			// Superseded or already finished by a poll.
			return
		}
		t.logger.Warn("submit call failed in transit, continuing to poll", "job_id", j.id, "error", err)
		t.metrics.PollError("submit")
		t.markInFlight(j, AdvisoryStillProcessing)
	default:
		t.logger.Warn("search rejected", "job_id", j.id, "error", err)
		t.fail(j, gateway.UserMessage(err), SourceSubmit)
	}
}

// onTick builds the poller callback bound to j.
func (t *Tracker) onTick(j *job) poller.TickFunc {
	return func(ctx context.Context, h *poller.Handle, tick int) {
		t.mu.Lock()
		if !t.currentLocked(j) || h.Stopped() || !j.elapsed.Inc() {
			t.mu.Unlock()
			return
		}
		t.commitLocked()
		t.mu.Unlock()

		t.metrics.Tick()
		go t.poll(ctx, j, tick)
	}
}

// poll is one tick's status check, followed by a result fetch once the
// service reports completion.
func (t *Tracker) poll(ctx context.Context, j *job, tick int) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in poll", "error", r, "job_id", j.id, "tick", tick)
		}
	}()

	label, err := t.gw.FetchStatus(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.metrics.PollError("status")
		t.statusFailed(j, tick, err)
		return
	}

	if !t.observeStatus(j, tick, label) {
		return
	}

	bundle, err := t.gw.FetchResult(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.metrics.PollError("result")
		if gateway.IsTransport(err) {
			t.logger.Debug("result fetch failed, retrying next tick", "job_id", j.id, "tick", tick, "error", err)
			return
		}
		t.logger.Warn("result fetch failed", "job_id", j.id, "error", err)
		t.fail(j, gateway.UserMessage(err), SourcePoll)
		return
	}
	if bundle == nil {
		return
	}
	t.reconcile(j, bundle, SourcePoll)
}

// --- transitions ---

// markInFlight moves j from Submitting to InFlight. Later phases are left alone.
func (t *Tracker) markInFlight(j *job, advisory string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.currentLocked(j) || j.phase != models.PhaseSubmitting {
		return
	}
	j.phase = models.PhaseInFlight
	j.advisory = advisory
	t.commitLocked()
}

// observeStatus records label for j and reports whether it signals completion
// while j is still waiting for a result. Responses from older ticks do not
// overwrite a newer label.
func (t *Tracker) observeStatus(j *job, tick int, label string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.currentLocked(j) {
		return false
	}

	dirty := false
	j.statusFailures = 0
	if tick >= j.lastStatusTick {
		j.lastStatusTick = tick
		if label != j.statusLabel {
			j.statusLabel = label
			dirty = true
		}
	}

	completed := gateway.IsCompleted(label)
	if completed && j.phase != models.PhaseReconciling {
		j.phase = models.PhaseReconciling
		dirty = true
	}
	if dirty {
		t.commitLocked()
	}
	return completed
}

func (t *Tracker) statusFailed(j *job, tick int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.currentLocked(j) {
		return
	}
	j.statusFailures++
	t.logger.Debug("status poll failed", "job_id", j.id, "tick", tick, "consecutive", j.statusFailures, "error", err)

	if t.cfg.MaxStatusFailures > 0 && j.statusFailures > t.cfg.MaxStatusFailures {
		t.logger.Warn("giving up after repeated status failures", "job_id", j.id, "failures", j.statusFailures)
		t.failLocked(j, fmt.Sprintf("lost contact with search service after %d status checks", j.statusFailures))
	}
}

// reconcile applies bundle to j if j is still the current, unresolved job.
// The first delivery wins; later ones are discarded.
func (t *Tracker) reconcile(j *job, bundle *models.ResultBundle, source string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.currentLocked(j) {
		t.metrics.DeliveryDiscarded(source)
		t.logger.Debug("late result discarded", "job_id", j.id, "source", source)
		return false
	}

	if j.phase != models.PhaseReconciling {
		j.phase = models.PhaseReconciling
		t.commitLocked()
	}
	j.result = bundle
	j.advisory = ""
	j.errMsg = ""
	t.finishLocked(j, models.PhaseCompleted)
	t.logger.Info("search completed", "job_id", j.id, "source", source, "elapsed_ticks", j.elapsed.Value(), "hits", len(bundle.TopHits))
	return true
}

func (t *Tracker) fail(j *job, msg, source string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.currentLocked(j) {
		t.metrics.DeliveryDiscarded(source)
		return
	}
	t.failLocked(j, msg)
}

func (t *Tracker) failLocked(j *job, msg string) {
	j.errMsg = msg
	j.advisory = ""
	t.finishLocked(j, models.PhaseFailed)
	t.logger.Info("search failed", "job_id", j.id, "error", msg)
}

// finishLocked moves j to a terminal phase and releases the poller in the
// same step.
func (t *Tracker) finishLocked(j *job, phase models.Phase) {
	now := t.clock.Now()
	j.phase = phase
	j.finishedAt = &now
	t.disengageLocked(j)
	t.commitLocked()
	t.metrics.JobFinished(phase, j.elapsed.Value())
}

// currentLocked reports whether j may still change state.
func (t *Tracker) currentLocked(j *job) bool {
	return !t.closed && t.job == j && j.phase.Active()
}

// disengageLocked stops j's poll handle and cancels its outstanding calls.
func (t *Tracker) disengageLocked(j *job) {
	j.elapsed.Freeze()
	if j.handle != nil {
		j.handle.Stop()
	}
	t.poller.Stop()
	j.cancel()
}

// commitLocked publishes a new snapshot of the current job.
func (t *Tracker) commitLocked() {
	j := t.job
	t.version++
	t.snap = models.JobSnapshot{
		ID:           j.id,
		Query:        j.query,
		Phase:        j.phase,
		ElapsedTicks: j.elapsed.Value(),
		StatusLabel:  j.statusLabel,
		Result:       j.result,
		ErrorMessage: j.errMsg,
		Advisory:     j.advisory,
		Version:      t.version,
		SubmittedAt:  j.submittedAt,
		FinishedAt:   j.finishedAt,
	}

	close(t.changed)
	t.changed = make(chan struct{})

	if len(t.listeners) == 0 {
		return
	}
	t.outbox = append(t.outbox, t.snap)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// --- listener dispatch ---

func (t *Tracker) dispatch() {
	defer close(t.dispatched)
	for {
		select {
		case <-t.wake:
			t.flush()
		case <-t.done:
			t.flush()
			return
		}
	}
}

func (t *Tracker) flush() {
	t.mu.Lock()
	batch := t.outbox
	t.outbox = nil
	ids := make([]int, 0, len(t.listeners))
	for id := range t.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, t.listeners[id])
	}
	t.mu.Unlock()

	for _, snap := range batch {
		for _, l := range ls {
			t.notify(l, snap)
		}
	}
}

func (t *Tracker) notify(l Listener, snap models.JobSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in listener", "error", r, "job_id", snap.ID)
		}
	}()
	l(snap)
}
