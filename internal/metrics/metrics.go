// Package metrics exposes Prometheus collectors for the categorization pipeline.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autocat"

// Metrics holds the pipeline's collectors.
type Metrics struct {
	completionTotal    *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	breakerState       *prometheus.GaugeVec
	attemptsTotal      *prometheus.CounterVec
	categorizations    *prometheus.CounterVec
	jobsInFlight       prometheus.Gauge
	jobOutcomes        *prometheus.CounterVec
	jobDuration        prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		completionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "completions_total",
				Help:      "Completion requests by model and result kind.",
			},
			[]string{"model", "kind"},
		),
		completionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "completion_duration_seconds",
				Help:      "Completion request latency in seconds.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"model"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "breaker_state",
				Help:      "Circuit breaker state per model (0 closed, 1 half-open, 2 open).",
			},
			[]string{"model"},
		),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "model_attempts_total",
				Help:      "Categorization attempts by model, contract mode and result kind.",
			},
			[]string{"model", "mode", "kind"},
		),
		categorizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "categorizations_total",
				Help:      "Categorization results by outcome.",
			},
			[]string{"outcome"},
		),
		jobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "jobs_in_flight",
				Help:      "Background categorizations currently running.",
			},
		),
		jobOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "jobs_total",
				Help:      "Finished background categorizations by outcome.",
			},
			[]string{"outcome"},
		),
		jobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "job_duration_seconds",
				Help:      "Background categorization duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.completionTotal,
			m.completionDuration,
			m.breakerState,
			m.attemptsTotal,
			m.categorizations,
			m.jobsInFlight,
			m.jobOutcomes,
			m.jobDuration,
		)
	}

	return m
}

// ObserveCompletion records one provider call.
func (m *Metrics) ObserveCompletion(model, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.completionTotal.WithLabelValues(model, kind).Inc()
	m.completionDuration.WithLabelValues(model).Observe(elapsed.Seconds())
}

// SetBreakerState records a breaker transition; state is gobreaker's State.String().
func (m *Metrics) SetBreakerState(model, state string) {
	if m == nil {
		return
	}
	var value float64
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(model).Set(value)
}

// ObserveAttempt records one engine attempt against a model.
func (m *Metrics) ObserveAttempt(model, mode, kind string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(model, mode, kind).Inc()
}

// ObserveCategorization records the outcome of one Categorize call.
func (m *Metrics) ObserveCategorization(outcome string) {
	if m == nil {
		return
	}
	m.categorizations.WithLabelValues(outcome).Inc()
}

// JobStarted marks a background categorization as running.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

// JobFinished marks a background categorization as done.
func (m *Metrics) JobFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
	m.jobOutcomes.WithLabelValues(outcome).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
