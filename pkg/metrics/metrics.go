package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Silo metrics
	SiloBlocksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doughnut_silo_blocks_total",
			Help: "Total number of blocks held by the local silo",
		},
	)

	SiloUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doughnut_silo_usage_bytes",
			Help: "Bytes currently occupied by the local silo",
		},
	)

	SiloCapacityBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doughnut_silo_capacity_bytes",
			Help: "Configured capacity of the local silo in bytes",
		},
	)

	// Overlay metrics
	OverlayPeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doughnut_overlay_peers_total",
			Help: "Total number of peers currently known to the overlay",
		},
	)

	OverlayDiscoveryEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doughnut_overlay_discovery_events_total",
			Help: "Total number of peer discovery events observed",
		},
	)

	OverlayDisappearanceEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doughnut_overlay_disappearance_events_total",
			Help: "Total number of peer disappearance events observed",
		},
	)

	// Dock transport metrics
	DockConnectionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "doughnut_dock_connections_total",
			Help: "Total number of dock connections by state",
		},
		[]string{"state"},
	)

	DockRPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doughnut_dock_rpc_requests_total",
			Help: "Total number of dock RPCs by method and status",
		},
		[]string{"method", "status"},
	)

	DockRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doughnut_dock_rpc_duration_seconds",
			Help:    "Dock RPC duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Consensus metrics
	PaxosRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doughnut_paxos_rounds_total",
			Help: "Total number of Paxos rounds by outcome",
		},
		[]string{"outcome"},
	)

	PaxosRoundDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "doughnut_paxos_round_duration_seconds",
			Help:    "Time taken to complete a Paxos round in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AsyncQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doughnut_async_queue_depth",
			Help: "Number of write operations pending in the async journal",
		},
	)

	AsyncJournalSpillsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "doughnut_async_journal_spills_total",
			Help: "Total number of times the async queue spilled to disk",
		},
	)

	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doughnut_cache_hits_total",
			Help: "Total number of cache lookups by hit/miss",
		},
		[]string{"result"},
	)

	// Facade operation metrics
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doughnut_operation_duration_seconds",
			Help:    "Facade operation duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doughnut_operations_total",
			Help: "Total number of facade operations by operation and status",
		},
		[]string{"operation", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		SiloBlocksTotal,
		SiloUsageBytes,
		SiloCapacityBytes,
		OverlayPeersTotal,
		OverlayDiscoveryEventsTotal,
		OverlayDisappearanceEventsTotal,
		DockConnectionsTotal,
		DockRPCRequestsTotal,
		DockRPCDuration,
		PaxosRoundsTotal,
		PaxosRoundDuration,
		AsyncQueueDepth,
		AsyncJournalSpillsTotal,
		CacheHitsTotal,
		OperationDuration,
		OperationsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
