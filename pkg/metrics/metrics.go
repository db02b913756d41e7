package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Compiler metrics
var (
	CompilationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sora_sieve_compilations_total",
			Help: "Total number of script compilations",
		},
		[]string{"result"},
	)

	CompileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sora_sieve_compile_duration_seconds",
			Help:    "Duration of script compilations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	BinaryLoadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sora_sieve_binary_load_failures_total",
			Help: "Total number of compiled binaries that could not be loaded",
		},
		[]string{"reason"},
	)
)

// Interpreter metrics
var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sora_sieve_executions_total",
			Help: "Total number of script executions",
		},
		[]string{"result"},
	)

	ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sora_sieve_execution_duration_seconds",
			Help:    "Duration of script executions in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	OperationsExecuted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sora_sieve_operations_executed",
			Help:    "Number of operations executed per run",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	ActionsQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sora_sieve_actions_queued_total",
			Help: "Total number of actions left in results, by kind",
		},
		[]string{"kind"},
	)
)

// Binary cache metrics
var (
	BinaryCacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sora_sieve_binary_cache_operations_total",
			Help: "Total number of compiled binary cache operations",
		},
		[]string{"operation", "result"},
	)

	BinaryCacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sora_sieve_binary_cache_entries",
			Help: "Current number of cached compiled binaries",
		},
		[]string{"tier"},
	)

	BinaryStoreSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sora_sieve_binary_store_size_bytes",
			Help: "Total size of the binaries held by the persistent store",
		},
	)
)

// HTTP API metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sora_sieve_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"route", "status"},
	)
)

// Health metrics
var (
	ComponentHealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sora_sieve_component_health_status",
			Help: "Health of a component (0=unreachable, 1=unhealthy, 2=degraded, 3=healthy)",
		},
		[]string{"component"},
	)
)
