package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	ClustersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbfleet_clusters_total",
			Help: "Total number of managed clusters",
		},
	)

	ClustersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbfleet_clusters_by_state",
			Help: "Number of clusters by the state of their latest cycle",
		},
		[]string{"state"},
	)

	ViewNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbfleet_view_nodes",
			Help: "Number of nodes in the latest view by cluster",
		},
		[]string{"cluster"},
	)

	// Cycle metrics
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbfleet_cycles_total",
			Help: "Total number of convergence cycles by final state",
		},
		[]string{"state"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbfleet_cycle_duration_seconds",
			Help:    "Convergence cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LockAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbfleet_lock_acquisitions_total",
			Help: "Total number of cluster lock attempts by result",
		},
		[]string{"result"},
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbfleet_actions_total",
			Help: "Total number of action invocations by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	SafetyAborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbfleet_safety_aborts_total",
			Help: "Total number of cycles aborted by a view safety check",
		},
		[]string{"reason"},
	)

	// Reconciler metrics
	ReconcileQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbfleet_reconcile_queue_depth",
			Help: "Number of clusters waiting for a convergence cycle",
		},
	)

	// Event metrics
	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbfleet_events_dropped_total",
			Help: "Total number of events dropped by the broker",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbfleet_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbfleet_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ClustersTotal)
	prometheus.MustRegister(ClustersByState)
	prometheus.MustRegister(ViewNodes)
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(LockAcquisitions)
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(SafetyAborts)
	prometheus.MustRegister(ReconcileQueueDepth)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
