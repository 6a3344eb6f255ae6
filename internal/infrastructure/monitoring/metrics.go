package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Command metrics
	CommandsTotal     *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec
	BusyRejections    prometheus.Counter
	RevisionConflicts prometheus.Counter
	OutputTruncations prometheus.Counter
	PolicyRefusals    prometheus.Counter

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsEvicted prometheus.Counter

	// Collaborator metrics
	StoreErrors   prometheus.Counter
	RuntimeErrors *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
}

// NewMetrics creates a metrics collector with its own registry so multiple
// instances can coexist (tests, embedded use).
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termgate_commands_total",
				Help: "Commands handled, by verb and outcome",
			},
			[]string{"verb", "outcome"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termgate_command_duration_seconds",
				Help:    "End-to-end command handling duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"verb"},
		),
		BusyRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termgate_busy_rejections_total",
				Help: "Commands rejected because a previous command was still running",
			},
		),
		RevisionConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termgate_revision_conflicts_total",
				Help: "Session CAS conflicts observed",
			},
		),
		OutputTruncations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termgate_output_truncations_total",
				Help: "Executions whose captured output exceeded the bound",
			},
		),
		PolicyRefusals: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termgate_policy_refusals_total",
				Help: "Commands refused by the command policy",
			},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termgate_sessions_active",
				Help: "Number of live sessions",
			},
		),
		SessionsEvicted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termgate_sessions_evicted_total",
				Help: "Sessions removed by the janitor",
			},
		),

		StoreErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termgate_store_errors_total",
				Help: "Session store infrastructure errors",
			},
		),
		RuntimeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termgate_runtime_errors_total",
				Help: "Container runtime errors, by kind",
			},
			[]string{"kind"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termgate_ws_connections",
				Help: "Open WebSocket event stream connections",
			},
		),
	}

	registry.MustRegister(collectors.NewGoCollector())

	return m
}

// Handler returns an HTTP handler serving this collector's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records metrics for one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCommand records the outcome of one handled command.
func (m *Metrics) RecordCommand(verb, outcome string, duration time.Duration) {
	m.CommandsTotal.WithLabelValues(verb, outcome).Inc()
	m.CommandDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// RecordRuntimeError records a container runtime error by kind.
func (m *Metrics) RecordRuntimeError(kind string) {
	m.RuntimeErrors.WithLabelValues(kind).Inc()
}
