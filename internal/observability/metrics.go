package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthEvents counts sign-in, sign-up, refresh and sign-out outcomes.
	AuthEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workplace_auth_events_total",
		Help: "Authentication events by kind and outcome",
	}, []string{"event", "outcome"})

	// Mutations counts post, comment and reaction writes by outcome.
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workplace_mutations_total",
		Help: "Row mutations by table, operation and outcome",
	}, []string{"table", "operation", "outcome"})

	// DatabaseQueryLatency records repository latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workplace_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// RedisErrors counts Redis errors by operation.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workplace_redis_errors_total",
		Help: "Redis errors by operation",
	}, []string{"operation"})

	// RealtimeConnections is the number of open change-feed websockets.
	RealtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "workplace_realtime_connections",
		Help: "Open change-feed websocket connections",
	})

	// RealtimeEvents counts change events fanned out to subscribers.
	RealtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workplace_realtime_events_total",
		Help: "Change events delivered by table and type",
	}, []string{"table", "type"})

	// RealtimeDrops counts events dropped because a client's send buffer was full.
	RealtimeDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workplace_realtime_backpressure_drops_total",
		Help: "Change events dropped due to backpressure",
	})

	// GIFCacheLookups counts GIF proxy cache lookups by endpoint and result.
	GIFCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workplace_gif_cache_lookups_total",
		Help: "GIF proxy cache lookups by endpoint and result",
	}, []string{"endpoint", "result"})
)

// Outcome maps an error to the "ok"/"error" label used by the counters above.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
