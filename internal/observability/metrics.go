package observability

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebSocket metrics
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of open WebSocket connections, joined or not",
		},
	)

	WebSocketMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of events written to client send buffers",
		},
		[]string{"type"},
	)

	ChatRoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_rooms_active",
			Help: "Number of token chat rooms with at least one member",
		},
	)

	ChatEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_dropped_total",
			Help: "Inbound events rejected without a broadcast",
		},
		[]string{"reason"},
	)

	// Access oracle metrics
	AccessDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Access checks by outcome",
		},
		[]string{"outcome"},
	)

	OracleRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_request_duration_seconds",
			Help:    "Ledger read latency in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"backend", "status"},
	)

	// Downstream consumer metrics
	SinkPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_sink_publish_total",
			Help: "Canonical messages handed to the message sink",
		},
		[]string{"status"},
	)

	StatsIncrementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stats_increments_total",
			Help: "Chat message counter increments processed by the stats worker",
		},
		[]string{"status"},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "table"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

// RecordDBStats copies connection pool statistics into the DB gauges
func RecordDBStats(db *sql.DB) {
	stats := db.Stats()
	DBConnectionsOpen.Set(float64(stats.OpenConnections))
	DBConnectionsInUse.Set(float64(stats.InUse))
	DBConnectionsIdle.Set(float64(stats.Idle))
}
