package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/sourcefinder/internal/api/middleware"
	"github.com/kiranshivaraju/sourcefinder/internal/api/response"
	"github.com/kiranshivaraju/sourcefinder/internal/cache"
	"github.com/kiranshivaraju/sourcefinder/internal/store"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

var listablePhases = map[models.Phase]bool{
	models.PhaseSubmitting:  true,
	models.PhaseInFlight:    true,
	models.PhaseReconciling: true,
	models.PhaseCompleted:   true,
	models.PhaseFailed:      true,
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
// Query params: page (default 1), limit (default 20, max 100), phase.
func NewListJobsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, ok := mw.GetClientID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing client", nil)
			return
		}

		q := r.URL.Query()
		page, err := positiveParam(q.Get("page"), 1)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
			return
		}
		limit, err := positiveParam(q.Get("limit"), defaultPageLimit)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
			return
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}

		phase := models.Phase(q.Get("phase"))
		if phase != "" && !listablePhases[phase] {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"phase must be one of submitting, in_flight, reconciling, completed, failed", nil)
			return
		}

		recs, total, err := s.ListJobs(r.Context(), store.JobFilter{
			ClientID: clientID,
			Phase:    phase,
			Page:     page,
			Limit:    limit,
		})
		if err != nil {
			response.Internal(w, "listing jobs failed", err)
			return
		}

		snaps := make([]models.JobSnapshot, 0, len(recs))
		for _, rec := range recs {
			snaps = append(snaps, rec.Snapshot())
		}
		response.Collection(w, snaps, response.NewPaginationMeta(page, limit, total))
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// The cached snapshot is preferred; the store serves jobs that have expired
// from the cache.
func NewGetJobHandler(c cache.Cache, s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, ok := mw.GetClientID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing client", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_ID", "jobID must be a UUID", nil)
			return
		}

		snap, found, err := c.GetJobSnapshot(r.Context(), clientID, jobID)
		if err == nil && found {
			response.JSON(w, snap)
			return
		}

		rec, err := s.GetJob(r.Context(), jobID, clientID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			response.Internal(w, "loading job failed", err)
			return
		}
		response.JSON(w, rec.Snapshot())
	}
}

func positiveParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("not a positive integer")
	}
	return n, nil
}
