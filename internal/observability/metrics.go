package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions prometheus.Gauge
	sessionsTotal  prometheus.Counter
	sweepRemoved   prometheus.Counter

	turnsTotal       *prometheus.CounterVec
	turnDuration     prometheus.Histogram
	toolRoundsTotal  prometheus.Counter
	toolRoundsCapped prometheus.Counter

	toolExecutionTotal *prometheus.CounterVec
	toolDuration       *prometheus.HistogramVec

	sandboxExecutionTotal *prometheus.CounterVec
	sourceFileWrites      *prometheus.CounterVec

	connectionsActive prometheus.Gauge
	cancelsTotal      prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
	registry    *prometheus.Registry
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current live session count in the registry.",
				},
			),
			sessionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_created_total",
					Help: "Total sessions created.",
				},
			),
			sweepRemoved: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_swept_total",
					Help: "Total sessions removed by the idle sweeper.",
				},
			),
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turns_total",
					Help: "Completed turns by terminal status.",
				},
				[]string{"status"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "turn_duration_seconds",
					Help:    "Wall-clock duration of a full turn including tool rounds.",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
				},
			),
			toolRoundsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "tool_rounds_total",
					Help: "Total tool-call continuation rounds executed.",
				},
			),
			toolRoundsCapped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "tool_rounds_capped_total",
					Help: "Turns aborted for exceeding the tool-round cap.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_executions_total",
					Help: "Tool executions by capability and status.",
				},
				[]string{"capability", "status"},
			),
			toolDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration by capability.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"capability"},
			),
			sandboxExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sandbox_executions_total",
					Help: "Sandbox command executions by status.",
				},
				[]string{"status"},
			),
			sourceFileWrites: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "source_file_writes_total",
					Help: "File-write tool calls targeting recognized source extensions.",
				},
				[]string{"extension"},
			),
			connectionsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "gateway_connections_active",
					Help: "Currently connected gateway clients.",
				},
			),
			cancelsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "turn_cancels_total",
					Help: "Explicit turn cancellations received.",
				},
			),
		}

		registry = prometheus.NewRegistry()
		registry.MustRegister(
			m.activeSessions,
			m.sessionsTotal,
			m.sweepRemoved,
			m.turnsTotal,
			m.turnDuration,
			m.toolRoundsTotal,
			m.toolRoundsCapped,
			m.toolExecutionTotal,
			m.toolDuration,
			m.sandboxExecutionTotal,
			m.sourceFileWrites,
			m.connectionsActive,
			m.cancelsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered forces metric registration; safe to call from any package init path.
func EnsureRegistered() {
	getMetrics()
}

// MetricsHandler returns an http.Handler serving the module's metrics.
func MetricsHandler() http.Handler {
	getMetrics()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SetActiveSessions sets the active session gauge.
func SetActiveSessions(n int) {
	getMetrics().activeSessions.Set(float64(n))
}

// RecordSessionCreated increments the session creation counter.
func RecordSessionCreated() {
	getMetrics().sessionsTotal.Inc()
}

// RecordSweep records the number of sessions removed by one sweep.
func RecordSweep(removed int) {
	getMetrics().sweepRemoved.Add(float64(removed))
}

// RecordTurn records a finished turn with its terminal status
// (complete, error, cancelled).
func RecordTurn(status string, duration time.Duration) {
	m := getMetrics()
	m.turnsTotal.WithLabelValues(status).Inc()
	m.turnDuration.Observe(duration.Seconds())
}

// RecordToolRound increments the continuation-round counter.
func RecordToolRound() {
	getMetrics().toolRoundsTotal.Inc()
}

// RecordToolRoundCapExceeded counts turns aborted at the round cap.
func RecordToolRoundCapExceeded() {
	getMetrics().toolRoundsCapped.Inc()
}

// RecordToolExecution records one tool execution.
func RecordToolExecution(capability, status string, duration time.Duration) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(capability, status).Inc()
	m.toolDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

// RecordSandboxExecution records one sandbox command execution.
func RecordSandboxExecution(status string) {
	getMetrics().sandboxExecutionTotal.WithLabelValues(status).Inc()
}

// RecordSourceFileWrite counts a file-write tool call targeting a source file.
func RecordSourceFileWrite(extension string) {
	getMetrics().sourceFileWrites.WithLabelValues(extension).Inc()
}

// SetActiveConnections sets the gateway connection gauge.
func SetActiveConnections(n int) {
	getMetrics().connectionsActive.Set(float64(n))
}

// RecordCancel counts an explicit cancellation.
func RecordCancel() {
	getMetrics().cancelsTotal.Inc()
}
