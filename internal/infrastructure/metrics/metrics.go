package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Delivery results
const (
	ResultDelivered = "delivered"
	ResultRetry     = "retry"
	ResultFailed    = "failed"
	ResultConflict  = "conflict"
	ResultExpired   = "expired"
	ResultError     = "error"
)

// Metrics holds the engine's Prometheus collectors
type Metrics struct {
	Registry *prometheus.Registry

	Deliveries        *prometheus.CounterVec
	SyncOperations    *prometheus.CounterVec
	Materialized      prometheus.Counter
	ScanDuration      prometheus.Histogram
	ReconcileDuration prometheus.Histogram

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remindly_deliveries_total",
				Help: "Delivery attempts by result",
			},
			[]string{"result"},
		),
		SyncOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remindly_sync_operations_total",
				Help: "Calendar reconciliation outcomes by operation and result",
			},
			[]string{"op", "result"},
		),
		Materialized: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "remindly_occurrences_materialized_total",
				Help: "Occurrences inserted by the materializer",
			},
		),
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "remindly_scan_duration_seconds",
				Help:    "Duration of delivery scans",
				Buckets: prometheus.DefBuckets,
			},
		),
		ReconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "remindly_reconcile_duration_seconds",
				Help:    "Duration of calendar reconciliation passes",
				Buckets: prometheus.DefBuckets,
			},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	m.Registry.MustRegister(
		m.Deliveries,
		m.SyncOperations,
		m.Materialized,
		m.ScanDuration,
		m.ReconcileDuration,
		m.HTTPRequests,
		m.HTTPRequestDuration,
	)

	return m
}
