// Package metrics provides Prometheus metrics for hnsfs clients and servers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hnsfs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hnsfs_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Client operation metrics, labelled by the error kind code or "ok"
	ClientOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hnsfs_client_ops_total",
			Help: "Total number of store client operations",
		},
		[]string{"operation", "result"},
	)

	ClientOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hnsfs_client_op_duration_seconds",
			Help:    "Store client operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ClientBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hnsfs_client_bytes_total",
			Help: "Bytes moved through client streams",
		},
		[]string{"direction"}, // "read", "write"
	)

	// Backend operation metrics
	BackendOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hnsfs_backend_ops_total",
			Help: "Total number of backend operations",
		},
		[]string{"backend_type", "operation"},
	)

	BackendOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hnsfs_backend_op_duration_seconds",
			Help:    "Backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend_type", "operation"},
	)

	// SQL namespace store metrics
	SQLQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hnsfs_sql_queries_total",
			Help: "Total number of namespace database queries",
		},
		[]string{"operation"},
	)

	SQLQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hnsfs_sql_query_duration_seconds",
			Help:    "Namespace database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Lock manager metrics
	LockOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hnsfs_lock_operations_total",
			Help: "Total number of lock operations",
		},
		[]string{"operation", "status"}, // operation: "acquire", "release"; status: "success", "failure"
	)

	LockOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hnsfs_lock_operation_duration_seconds",
			Help:    "Lock operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ActiveLocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hnsfs_active_locks",
			Help: "Number of currently active locks",
		},
	)

	// Entry cache metrics
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hnsfs_cache_lookups_total",
			Help: "Entry cache lookups",
		},
		[]string{"result"}, // "hit", "miss"
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hnsfs_errors_total",
			Help: "Total number of errors by component",
		},
		[]string{"component", "error_type"},
	)
)

// ObserveBackendOp records one backend operation started at start.
func ObserveBackendOp(backendType, operation string, start time.Time) {
	BackendOpsTotal.WithLabelValues(backendType, operation).Inc()
	BackendOpDuration.WithLabelValues(backendType, operation).Observe(time.Since(start).Seconds())
}

// ObserveSQLQuery records one namespace database query started at start.
func ObserveSQLQuery(operation string, start time.Time) {
	SQLQueriesTotal.WithLabelValues(operation).Inc()
	SQLQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
