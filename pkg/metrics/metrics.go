package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Micro-op metrics
	MicroOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_microops_total",
			Help: "Total number of micro-ops reaching a terminal state, by kind and state",
		},
		[]string{"kind", "state"},
	)

	MicroOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_microop_duration_seconds",
			Help:    "Micro-op execution duration in seconds, by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_queue_depth",
			Help: "Queued (not yet running) micro-ops across all VM queues",
		},
	)

	RunningOps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_running_microops",
			Help: "Micro-ops currently executing on the worker pool",
		},
	)

	// Memory wait metrics
	MemoryWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_memory_wait_seconds",
			Help:    "Time spent waiting for host free memory during builds",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	// Placement metrics
	PlacementDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_placement_decisions_total",
			Help: "Placement outcomes by result (single, pair, fallback, unavailable)",
		},
		[]string{"result"},
	)

	PlacementRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_placement_retries_total",
			Help: "Placement retries triggered by a changed free-memory reading",
		},
	)

	// VM metrics
	VMsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_vms_total",
			Help: "Known VMs by state",
		},
		[]string{"state"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(MicroOpsTotal)
	prometheus.MustRegister(MicroOpDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(RunningOps)
	prometheus.MustRegister(MemoryWaitSeconds)
	prometheus.MustRegister(PlacementDecisions)
	prometheus.MustRegister(PlacementRetries)
	prometheus.MustRegister(VMsTotal)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
