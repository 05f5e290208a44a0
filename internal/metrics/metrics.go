// Package metrics exposes Prometheus collectors for fit jobs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded by ObserveFit.
const (
	OutcomeConverged = "converged"
	OutcomeStalled   = "not_converged"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the fit collectors.
type Metrics struct {
	FitsTotal   *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Evaluations *prometheus.HistogramVec
	JobsRunning prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "psffit_fits_total",
			Help: "Finished fits by model and outcome.",
		}, []string{"model", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "psffit_fit_duration_seconds",
			Help:    "Wall time of fits.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"model"}),
		Evaluations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "psffit_fit_evaluations",
			Help:    "Loss evaluations per fit.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"model"}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "psffit_jobs_running",
			Help: "Fit jobs currently running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.FitsTotal, m.Duration, m.Evaluations, m.JobsRunning)
	}
	return m
}

// ObserveFit records one finished fit. evaluations is ignored when negative.
func (m *Metrics) ObserveFit(model, outcome string, elapsed time.Duration, evaluations int) {
	m.FitsTotal.WithLabelValues(model, outcome).Inc()
	m.Duration.WithLabelValues(model).Observe(elapsed.Seconds())
	if evaluations >= 0 {
		m.Evaluations.WithLabelValues(model).Observe(float64(evaluations))
	}
}
