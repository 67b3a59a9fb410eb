package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/sourcefinder/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector_NilRegistry(t *testing.T) {
	c := NewCollector(nil)
	require.NotNil(t, c)
	assert.NotNil(t, c.registry)
}

func TestNewCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry())
		NewCollector(prometheus.NewRegistry())
	})
}

func TestJobLifecycle(t *testing.T) {
	c := NewCollector(nil)

	c.JobSubmitted()
	c.JobSubmitted()
	c.JobSubmitted()
	assert.Equal(t, 3.0, testutil.ToFloat64(c.jobsActive))

	c.JobSuperseded()
	c.JobFinished(models.PhaseCompleted, 4)
	c.JobFinished(models.PhaseFailed, 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.jobsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsSuperseded))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsFinished.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.jobsActive))
}

func TestErrorCounters(t *testing.T) {
	c := NewCollector(nil)

	c.Tick()
	c.Tick()
	c.PollError("status")
	c.PollError("status")
	c.PollError("result")
	c.DeliveryDiscarded("submit")
	c.PersistError("store")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ticks))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.pollErrors.WithLabelValues("status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pollErrors.WithLabelValues("result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.discarded.WithLabelValues("submit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.persistErrors.WithLabelValues("store")))
}

func TestHandler_ServesMetrics(t *testing.T) {
	c := NewCollector(nil)
	c.JobSubmitted()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sourcefinder_jobs_submitted_total 1")
	assert.Contains(t, string(body), "sourcefinder_jobs_active 1")
}
