package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsCreated counts notifications persisted by type.
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_notifications_created_total",
			Help: "Total number of notifications persisted",
		},
		[]string{"type"},
	)

	// PushDeliveries counts best-effort push attempts by result (delivered|dropped).
	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_push_deliveries_total",
			Help: "Total number of realtime push attempts",
		},
		[]string{"result"},
	)

	// SyncRuns counts sync protocol executions by trigger (connect|manual).
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_sync_runs_total",
			Help: "Total number of sync protocol executions",
		},
		[]string{"trigger"},
	)

	// ActiveConnections tracks currently open websocket connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskflow_active_connections",
			Help: "Number of open realtime connections",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskflow_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
