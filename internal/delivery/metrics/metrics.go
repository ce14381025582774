package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed tracks messages handled successfully per queue
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requeue_messages_processed_total",
			Help: "Total number of messages processed successfully",
		},
		[]string{"queue"},
	)

	// Failures tracks resolved failures by classification and outcome
	Failures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requeue_failures_total",
			Help: "Total number of processing failures by kind and outcome",
		},
		[]string{"queue", "kind", "outcome"},
	)

	// Escalations tracks permanent failures whose cleanup failed
	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requeue_escalations_total",
			Help: "Total number of permanent-failure cleanups escalated to a retry",
		},
		[]string{"queue"},
	)

	// VisibilityErrors tracks failed visibility extensions
	VisibilityErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requeue_visibility_errors_total",
			Help: "Total number of visibility updates rejected by the transport",
		},
		[]string{"queue"},
	)

	// QueueDepth tracks the sampled approximate message count
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "requeue_queue_depth",
			Help: "Approximate number of messages held by the queue",
		},
		[]string{"queue"},
	)

	// ProcessingLatency tracks processor duration
	ProcessingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "requeue_processing_seconds",
			Help:    "Message processing latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// DBConnectionPoolUsage tracks the percentage of open store connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "requeue_db_connection_pool_usage_percent",
			Help: "Failure store connection pool usage percentage",
		},
	)
)
