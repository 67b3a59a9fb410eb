package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/sourcefinder/internal/api/response"
)

const healthCheckTimeout = 2 * time.Second

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. Every
// check runs concurrently; any failure makes the service degraded.
func NewHealthHandler(checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		results := make([]error, len(names))
		var wg sync.WaitGroup
		for i, name := range names {
			wg.Add(1)
			go func(i int, check Check) {
				defer wg.Done()
				results[i] = check(ctx)
			}(i, checks[name])
		}
		wg.Wait()

		status := make(map[string]string, len(names))
		degraded := false
		for i, name := range names {
			status[name] = "ok"
			if results[i] != nil {
				status[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", status)
			return
		}
		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": status,
		})
	}
}
