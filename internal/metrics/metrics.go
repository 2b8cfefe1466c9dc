package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Retry Metrics
var (
	RetryClassifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_classifications_total",
		Help: "The number of failed operations by error class",
	}, []string{"class"})

	RetryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_exhausted_total",
		Help: "The number of operations that failed after all retry attempts",
	}, []string{"operation"})
)

// RPC Metrics
var (
	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_requests_total",
		Help: "The number of JSON-RPC requests issued",
	}, []string{"method"})

	RPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_request_duration_seconds",
		Help:    "Time taken by a single JSON-RPC request",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// Collector Metrics
var (
	CurrentBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_current_block",
		Help: "The next block the collector will scan",
	})

	ChainHead = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_chain_head",
		Help: "The chain head captured at the start of the run",
	})

	EventsCollected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_events_collected",
		Help: "The number of events counted toward the run target",
	})

	BatchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_batch_size",
		Help: "The block range size of the current batch",
	})

	BatchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_batches_processed_total",
		Help: "The number of block batches fully processed",
	})

	EventsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_events_persisted_total",
		Help: "The number of enriched events written to storage",
	})

	RangeTooLarge = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_range_too_large_total",
		Help: "The number of batches rejected by the provider for exceeding its limits",
	})

	Segments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_segments_total",
		Help: "The number of run segments checkpointed and restarted",
	})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collector_batch_duration_seconds",
		Help:    "Time taken to fetch, enrich and persist one batch",
		Buckets: prometheus.DefBuckets,
	})
)
