package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkOK(context.Context) error   { return nil }
func checkDown(context.Context) error { return errBoom }

func TestHealth_AllOK(t *testing.T) {
	h := NewHealthHandler(map[string]Check{"database": checkOK, "cache": checkOK, "search": checkOK})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Data struct {
			Status   string            `json:"status"`
			Services map[string]string `json:"services"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, "ok", env.Data.Status)
	assert.Equal(t, map[string]string{"database": "ok", "cache": "ok", "search": "ok"}, env.Data.Services)
}

func TestHealth_Degraded(t *testing.T) {
	tests := map[string]map[string]Check{
		"database": {"database": checkDown, "cache": checkOK},
		"cache":    {"database": checkOK, "cache": checkDown},
		"both":     {"database": checkDown, "cache": checkDown},
	}
	for name, checks := range tests {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(checks)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			var env struct {
				Error struct {
					Code    string            `json:"code"`
					Details map[string]string `json:"details"`
				} `json:"error"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
			assert.Equal(t, "DEGRADED", env.Error.Code)
			for svc, check := range checks {
				want := "ok"
				if check(context.Background()) != nil {
					want = "degraded"
				}
				assert.Equal(t, want, env.Error.Details[svc])
			}
		})
	}
}
