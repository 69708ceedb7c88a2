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
	ActiveSessions       prometheus.Gauge
	SessionEvents        *prometheus.CounterVec
	ResponseChunks       *prometheus.CounterVec
	AgentFallbacks       *prometheus.CounterVec
	RoomOps              *prometheus.CounterVec
	WSMessages           *prometheus.CounterVec
	PipelineFrames       *prometheus.CounterVec
	Usage                *prometheus.CounterVec
	FirstChunkLatency    prometheus.Histogram
	FirstChunkBudgetMiss prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active voice sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		ResponseChunks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_chunks_total",
			Help:      "Response chunks emitted by source.",
		}, []string{"source"}),
		AgentFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_fallbacks_total",
			Help:      "Agent degradations by stage.",
		}, []string{"stage"}),
		RoomOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_ops_total",
			Help:      "Room service operations by op and result.",
		}, []string{"op", "result"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		PipelineFrames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_frames_total",
			Help:      "Frames observed by the telemetry stage, by kind.",
		}, []string{"kind"}),
		Usage: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_total",
			Help:      "Accumulated media usage by resource.",
		}, []string{"resource"}),
		FirstChunkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_chunk_latency_ms",
			Help:      "Latency from committed utterance to first response chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
		FirstChunkBudgetMiss: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "first_chunk_budget_miss_total",
			Help:      "Responses whose first chunk arrived later than the configured latency budget.",
		}),
	}
}

func (m *Metrics) ObserveFirstChunkLatency(d time.Duration) {
	m.FirstChunkLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
