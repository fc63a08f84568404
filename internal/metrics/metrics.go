// Package metrics registers the Prometheus metrics used by the visualizer.
// Import this package from the server entry point so every metric is
// registered before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache metrics.
var (
	// CacheLookups counts per-model cache lookups labelled by result
	// ("hit" or "miss").
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nervis_cache_lookups_total",
			Help: "Total response cache lookups by model and result.",
		},
		[]string{"model", "result"},
	)

	// CacheEvictions counts entries evicted because a model cache was full.
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nervis_cache_evictions_total",
			Help: "Total LRU evictions by model.",
		},
		[]string{"model"},
	)

	// CacheEntries tracks the current number of entries per model cache.
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nervis_cache_entries",
			Help: "Current number of cached results per model.",
		},
		[]string{"model"},
	)

	// CacheReconciles counts registry reconciliations labelled by action
	// ("added" or "removed"), one increment per affected model.
	CacheReconciles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nervis_cache_reconciles_total",
			Help: "Model caches added or removed by configuration reconciliation.",
		},
		[]string{"action"},
	)
)

// Dispatch metrics.
var (
	// DispatchTotal counts dispatches labelled by outcome: "hit", "stored",
	// "empty", "error", "canceled".
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nervis_dispatch_total",
			Help: "Total NER dispatches by model and outcome.",
		},
		[]string{"model", "outcome"},
	)

	// DispatchDuration observes the latency of calls that reached the endpoint.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nervis_dispatch_duration_seconds",
			Help:    "NER endpoint call duration in seconds.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)

	// EndpointErrors counts endpoint failures by error type ("unreachable",
	// "status", "protocol", "circuit_open", "timeout").
	EndpointErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nervis_endpoint_errors_total",
			Help: "Total NER endpoint errors by type.",
		},
		[]string{"model", "error_type"},
	)

	// CircuitBreakerState tracks per-model breaker state:
	// 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nervis_circuit_breaker_state",
			Help: "Circuit breaker state per model (0=closed 1=open 2=half_open).",
		},
		[]string{"model"},
	)

	// RateLimitRejections counts submissions rejected by the inbound limiter.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nervis_rate_limit_rejections_total",
			Help: "Total submissions rejected by rate limiting.",
		},
		[]string{"key_type"},
	)
)
