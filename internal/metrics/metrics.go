// Package metrics exposes the agent's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry so several agents (or tests) never collide.
type Recorder struct {
	registry *prometheus.Registry

	balance        prometheus.Gauge
	accuracy       prometheus.Gauge
	patterns       prometheus.Gauge
	memoryBytes    prometheus.Gauge
	pending        prometheus.Gauge
	decisions      *prometheus.CounterVec
	evaluations    *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	fetchFallbacks prometheus.Counter
	cycleLatency   prometheus.Histogram
}

// New creates a recorder with all instruments registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		balance: f.NewGauge(prometheus.GaugeOpts{
			Name: "neuro_trader_balance",
			Help: "Simulated account balance",
		}),
		accuracy: f.NewGauge(prometheus.GaugeOpts{
			Name: "neuro_trader_accuracy_percent",
			Help: "Accuracy over the last 100 evaluated decisions",
		}),
		patterns: f.NewGauge(prometheus.GaugeOpts{
			Name: "neuro_trader_patterns",
			Help: "Number of discovered experience patterns",
		}),
		memoryBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "neuro_trader_experience_memory_bytes",
			Help: "Serialized size of the experience store",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "neuro_trader_pending_evaluations",
			Help: "Decisions waiting for their evaluation",
		}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "neuro_trader_decisions_total",
			Help: "Decisions made, by side and whether they were forced",
		}, []string{"side", "forced"}),
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "neuro_trader_evaluations_total",
			Help: "Evaluated decisions, by outcome",
		}, []string{"outcome"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "neuro_trader_errors_total",
			Help: "Errors encountered, by type",
		}, []string{"type"}),
		fetchFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "neuro_trader_fetch_fallbacks_total",
			Help: "Fetches answered with synthetic candles",
		}),
		cycleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "neuro_trader_cycle_duration_seconds",
			Help:    "Duration of one polling cycle",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests and for registering extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) RecordDecision(side string, forced bool) {
	f := "false"
	if forced {
		f = "true"
	}
	r.decisions.WithLabelValues(side, f).Inc()
}

func (r *Recorder) RecordEvaluation(correct bool, balance, accuracy float64) {
	outcome := "failure"
	if correct {
		outcome = "success"
	}
	r.evaluations.WithLabelValues(outcome).Inc()
	r.balance.Set(balance)
	r.accuracy.Set(accuracy)
}

func (r *Recorder) RecordExperience(patterns, memoryBytes int) {
	r.patterns.Set(float64(patterns))
	r.memoryBytes.Set(float64(memoryBytes))
}

func (r *Recorder) RecordBalance(balance float64) {
	r.balance.Set(balance)
}

func (r *Recorder) SetPending(n int) {
	r.pending.Set(float64(n))
}

func (r *Recorder) RecordFallback() {
	r.fetchFallbacks.Inc()
}

// RecordError counts an error of the given kind, e.g. "persist" or "predict".
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) ObserveCycle(seconds float64) {
	r.cycleLatency.Observe(seconds)
}
