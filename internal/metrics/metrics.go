// Package metrics exposes playback engine telemetry to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine counters and gauges on a private registry.
// It implements engine.Recorder.
type Metrics struct {
	registry          *prometheus.Registry
	pipelinesOpened   *prometheus.CounterVec
	faultsTotal       *prometheus.CounterVec
	retriesScheduled  *prometheus.CounterVec
	fallbacksTotal    prometheus.Counter
	permanentFailures prometheus.Counter
	sessions          *prometheus.GaugeVec
}

// New creates and registers the livewall metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		pipelinesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livewall_pipelines_opened_total",
			Help: "Decode pipelines opened, by loop mode",
		}, []string{"mode"}),
		faultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livewall_faults_total",
			Help: "Pipeline faults observed, by kind",
		}, []string{"kind"}),
		retriesScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livewall_retries_scheduled_total",
			Help: "Pipeline rebuilds scheduled, by attempt number",
		}, []string{"attempt"}),
		fallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livewall_fallbacks_total",
			Help: "Sessions downgraded to the manual restart loop",
		}),
		permanentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livewall_permanent_failures_total",
			Help: "Sessions that failed permanently",
		}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livewall_sessions",
			Help: "Sessions currently in each state",
		}, []string{"state"}),
	}

	registry.MustRegister(
		m.pipelinesOpened,
		m.faultsTotal,
		m.retriesScheduled,
		m.fallbacksTotal,
		m.permanentFailures,
		m.sessions,
		collectors.NewGoCollector(),
	)
	return m
}

// PipelineOpened counts a new pipeline.
func (m *Metrics) PipelineOpened(mode string) {
	m.pipelinesOpened.WithLabelValues(mode).Inc()
}

// FaultObserved counts a pipeline fault.
func (m *Metrics) FaultObserved(kind string) {
	m.faultsTotal.WithLabelValues(kind).Inc()
}

// RetryScheduled counts a scheduled rebuild.
func (m *Metrics) RetryScheduled(attempt int) {
	m.retriesScheduled.WithLabelValues(attemptLabel(attempt)).Inc()
}

// FallbackEntered counts a downgrade to the manual loop.
func (m *Metrics) FallbackEntered() {
	m.fallbacksTotal.Inc()
}

// PermanentFailure counts a permanently failed session.
func (m *Metrics) PermanentFailure() {
	m.permanentFailures.Inc()
}

// StateChanged moves one session between state gauges. An empty from
// means a new session; an empty to means it is gone.
func (m *Metrics) StateChanged(from, to string) {
	if from != "" {
		m.sessions.WithLabelValues(from).Dec()
	}
	if to != "" && to != "torn-down" {
		m.sessions.WithLabelValues(to).Inc()
	}
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func attemptLabel(n int) string {
	switch {
	case n <= 0:
		return "0"
	case n < 10:
		return strconv.Itoa(n)
	default:
		return "10+"
	}
}
