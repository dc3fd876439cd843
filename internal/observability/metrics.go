package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	RetrospectEvents      *prometheus.CounterVec
	OperationErrors       *prometheus.CounterVec
	InProgressRetrospects prometheus.Gauge
	ResidentManagers      prometheus.Gauge
	AssistantLatency      *prometheus.HistogramVec
	AssistantErrors       *prometheus.CounterVec
	WSMessages            *prometheus.CounterVec

	latency *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RetrospectEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrospect_events_total",
			Help:      "Committed retrospect changes by event type.",
		}, []string{"event"}),
		OperationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Failed retrospect operations by operation and error code.",
		}, []string{"operation", "code"}),
		InProgressRetrospects: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_progress_retrospects",
			Help:      "In-progress retrospects across resident managers.",
		}),
		ResidentManagers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resident_managers",
			Help:      "Per-user retrospect managers held in memory.",
		}),
		AssistantLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assistant_latency_ms",
			Help:      "Assistant call latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"operation"}),
		AssistantErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_errors_total",
			Help:      "Assistant errors by provider and operation.",
		}, []string{"provider", "operation"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		latency: newLatencyWindow(256),
	}
}

// ObserveAssistant records one assistant call. code is empty on success.
func (m *Metrics) ObserveAssistant(operation string, d time.Duration, code string) {
	m.AssistantLatency.WithLabelValues(operation).Observe(float64(d.Milliseconds()))
	m.latency.Observe("assistant_"+operation, float64(d.Microseconds())/1000, code)
}

// ObserveOperation feeds the rolling window behind /v1/perf/latency. code is
// the operation's error code, empty on success.
func (m *Metrics) ObserveOperation(operation string, d time.Duration, code string) {
	m.latency.Observe(operation, float64(d.Microseconds())/1000, code)
}

func (m *Metrics) ObserveIndicator(name string) {
	m.latency.ObserveIndicator(name)
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	return m.latency.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
