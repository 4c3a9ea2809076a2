// Package metrics exposes Prometheus instruments for extraction runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/event-extractor/internal/model"
	"github.com/sells-group/event-extractor/internal/resilience"
)

const namespace = "event_extractor"

// Metrics holds the run instruments. A nil *Metrics records nothing.
type Metrics struct {
	urls         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	tokens       *prometheus.CounterVec
	batches      *prometheus.CounterVec
	urlDuration  prometheus.Histogram
	urlsTotal    prometheus.Gauge
	urlsDone     prometheus.Gauge
	etaSeconds   prometheus.Gauge
	runsFinished *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		urls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "urls_processed_total",
			Help:      "URLs processed by terminal outcome",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_failures_total",
			Help:      "Failed attempts by stage and failure kind",
		}, []string{"stage", "kind"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens consumed by stage",
		}, []string{"stage"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relevance_batches_total",
			Help:      "Relevance batches by result",
		}, []string{"result"}),
		urlDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "url_duration_seconds",
			Help:      "Wall time spent on one URL",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		urlsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_urls_total",
			Help:      "URLs loaded for the current run",
		}),
		urlsDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_urls_done",
			Help:      "URLs finished in the current run",
		}),
		etaSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_eta_seconds",
			Help:      "Estimated seconds until the current run finishes extraction",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Runs by terminal status",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.urls, m.failures, m.tokens, m.batches,
		m.urlDuration, m.urlsTotal, m.urlsDone, m.etaSeconds, m.runsFinished,
	)
	return m
}

// ObserveURL records one finished URL.
func (m *Metrics) ObserveURL(outcome model.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.urls.WithLabelValues(string(outcome)).Inc()
	m.urlDuration.Observe(d.Seconds())
}

// Failure records one failed attempt.
func (m *Metrics) Failure(stage string, kind resilience.Kind) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage, string(kind)).Inc()
}

// Tokens adds LLM token usage for a stage.
func (m *Metrics) Tokens(stage string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.tokens.WithLabelValues(stage).Add(float64(n))
}

// Batch records a relevance batch result ("ok" or "failed").
func (m *Metrics) Batch(result string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(result).Inc()
}

// Progress sets the current run's progress gauges.
func (m *Metrics) Progress(done, total int, eta time.Duration) {
	if m == nil {
		return
	}
	m.urlsTotal.Set(float64(total))
	m.urlsDone.Set(float64(done))
	m.etaSeconds.Set(eta.Seconds())
}

// RunFinished records a run's terminal status.
func (m *Metrics) RunFinished(status model.RunStatus) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(string(status)).Inc()
}
