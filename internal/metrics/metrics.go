// Package metrics exposes search tracking counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/kiranshivaraju/sourcefinder/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sourcefinder"

// Collector records tracker events. It satisfies tracker.Metrics.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted  prometheus.Counter
	jobsSuperseded prometheus.Counter
	jobsFinished   *prometheus.CounterVec
	jobTicks       prometheus.Histogram
	jobsActive     prometheus.Gauge
	ticks          prometheus.Counter
	pollErrors     *prometheus.CounterVec
	discarded      *prometheus.CounterVec
	persistErrors  *prometheus.CounterVec
}

// NewCollector creates a Collector registered on reg. A nil reg gets a fresh
// registry, which keeps tests independent.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: reg,
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Searches submitted.",
		}),
		jobsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_superseded_total",
			Help:      "In-flight searches replaced by a newer submission.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Searches that reached a terminal phase.",
		}, []string{"phase"}),
		jobTicks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_elapsed_ticks",
			Help:      "Poll ticks elapsed when a search finished.",
			Buckets:   []float64{0, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Searches currently waiting on the search service.",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Poll ticks dispatched.",
		}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Failed calls to the search service.",
		}, []string{"call"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_discarded_total",
			Help:      "Outcomes that arrived after their search was resolved or replaced.",
		}, []string{"source"}),
		persistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Snapshots that could not be written to the cache or store.",
		}, []string{"target"}),
	}

	reg.MustRegister(
		c.jobsSubmitted,
		c.jobsSuperseded,
		c.jobsFinished,
		c.jobTicks,
		c.jobsActive,
		c.ticks,
		c.pollErrors,
		c.discarded,
		c.persistErrors,
	)
	return c
}

func (c *Collector) JobSubmitted() {
	c.jobsSubmitted.Inc()
	c.jobsActive.Inc()
}

// JobSuperseded counts a replaced job. The replaced job never finishes, so it
// leaves the active gauge here.
func (c *Collector) JobSuperseded() {
	c.jobsSuperseded.Inc()
	c.jobsActive.Dec()
}

func (c *Collector) JobFinished(phase models.Phase, elapsedTicks int) {
	c.jobsFinished.WithLabelValues(string(phase)).Inc()
	c.jobTicks.Observe(float64(elapsedTicks))
	c.jobsActive.Dec()
}

func (c *Collector) Tick() { c.ticks.Inc() }

func (c *Collector) PollError(call string) { c.pollErrors.WithLabelValues(call).Inc() }

func (c *Collector) DeliveryDiscarded(source string) {
	c.discarded.WithLabelValues(source).Inc()
}

// PersistError counts a failed write to "cache" or "store".
func (c *Collector) PersistError(target string) {
	c.persistErrors.WithLabelValues(target).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
