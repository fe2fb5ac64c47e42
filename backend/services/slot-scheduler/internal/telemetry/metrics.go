package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chargeslots/backend/services/slot-scheduler/internal/jobs"
)

const namespace = "slot_scheduler"

// Metrics exposes job run metrics. It observes every run through the job runner.
type Metrics struct {
	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	items    *prometheus.CounterVec
	lastRun  *prometheus.GaugeVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Job runs by outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_run_duration_seconds",
			Help:      "Job run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
		}, []string{"job"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_items_total",
			Help:      "Items handled by job runs, by counter name.",
		}, []string{"job", "counter"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_run_timestamp_seconds",
			Help:      "Unix time the job last finished.",
		}, []string{"job"}),
	}
	reg.MustRegister(
		m.runs,
		m.duration,
		m.items,
		m.lastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRun implements jobs.Observer.
func (m *Metrics) ObserveRun(_ context.Context, r jobs.Report) {
	outcome := "ok"
	switch {
	case r.Failed():
		outcome = "failed"
	case r.Skipped:
		outcome = "skipped"
	}
	m.runs.WithLabelValues(r.Job, outcome).Inc()
	m.duration.WithLabelValues(r.Job).Observe(r.Duration().Seconds())
	for _, k := range r.Keys() {
		if v := r.Counts[k]; v > 0 {
			m.items.WithLabelValues(r.Job, k).Add(float64(v))
		}
	}
	m.lastRun.WithLabelValues(r.Job).Set(float64(r.FinishedAt.Unix()))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
