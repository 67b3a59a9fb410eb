package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/sourcefinder/internal/api/middleware"
	"github.com/kiranshivaraju/sourcefinder/internal/api/response"
	"github.com/kiranshivaraju/sourcefinder/internal/cache"
	"github.com/kiranshivaraju/sourcefinder/internal/tracker"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
)

// Trackers hands out the tracker owning a client's search. Get returns nil
// once the service is shutting down.
type Trackers interface {
	Get(clientID uuid.UUID) *tracker.Tracker
}

type submitRequest struct {
	Sequence   string            `json:"sequence"`
	SearchMode models.SearchMode `json:"search_mode"`
	Database   models.Database   `json:"database"`
}

// NewSubmitSearchHandler returns an http.HandlerFunc for POST /api/v1/search.
// The search runs in the background; the response carries the first snapshot.
func NewSubmitSearchHandler(trackers Trackers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := clientTracker(w, r, trackers)
		if !ok {
			return
		}

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		snap, err := t.Submit(models.Query{
			Sequence:   req.Sequence,
			SearchMode: req.SearchMode,
			Database:   req.Database,
		})
		switch {
		case err == nil:
			response.Accepted(w, snap)
		case errors.Is(err, tracker.ErrInvalidQuery):
			response.Error(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		case errors.Is(err, tracker.ErrJobInFlight):
			response.Error(w, http.StatusConflict, "JOB_IN_FLIGHT",
				"A search is already in flight", snap)
		case errors.Is(err, tracker.ErrClosed):
			shuttingDown(w)
		default:
			response.Internal(w, "submitting search failed", err)
		}
	}
}

// NewCurrentSearchHandler returns an http.HandlerFunc for GET /api/v1/search.
// A client with no search in this process sees its last finished search from
// the cache, or the idle snapshot.
func NewCurrentSearchHandler(trackers Trackers, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := clientTracker(w, r, trackers)
		if !ok {
			return
		}

		snap := t.Snapshot()
		if snap.Phase == models.PhaseIdle && c != nil {
			clientID, _ := mw.GetClientID(r)
			if last, ok := latestFinished(r.Context(), c, clientID); ok {
				snap = last
			}
		}
		response.JSON(w, snap)
	}
}

func latestFinished(ctx context.Context, c cache.Cache, clientID uuid.UUID) (models.JobSnapshot, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	snap, found, err := c.GetLatestJobSnapshot(ctx, clientID)
	if err != nil || !found {
		return models.JobSnapshot{}, false
	}
	// An unfinished job from an earlier process is no longer being tracked.
	if !snap.Phase.Terminal() {
		return models.JobSnapshot{}, false
	}
	return *snap, true
}

func clientTracker(w http.ResponseWriter, r *http.Request, trackers Trackers) (*tracker.Tracker, bool) {
	clientID, ok := mw.GetClientID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing client", nil)
		return nil, false
	}
	t := trackers.Get(clientID)
	if t == nil {
		shuttingDown(w)
		return nil, false
	}
	return t, true
}

func shuttingDown(w http.ResponseWriter) {
	response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "The service is shutting down", nil)
}
