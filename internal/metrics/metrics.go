package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "keepsake_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "route"},
	)

	FactOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_fact_operations_total",
			Help: "Fact mutations by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_store_retries_total",
			Help: "Transient persistence failures that were retried",
		},
		[]string{"op"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_store_errors_total",
			Help: "Persistence operations that failed after retries",
		},
		[]string{"op"},
	)

	Retrievals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_retrievals_total",
			Help: "Retrievals by mode actually served",
		},
		[]string{"mode"},
	)

	RetrievalDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keepsake_retrieval_degraded_total",
			Help: "Similarity retrievals that fell back to lexical mode",
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_retrieval_cache_lookups_total",
			Help: "Retrieval cache lookups by result",
		},
		[]string{"result"},
	)

	DecayRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_decay_runs_total",
			Help: "Batch decay runs by final status",
		},
		[]string{"status"},
	)

	DecayUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keepsake_decay_facts_updated_total",
			Help: "Facts whose strength was lowered by batch decay",
		},
	)

	DecayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "keepsake_decay_duration_seconds",
			Help: "Batch decay run duration in seconds",
		},
	)

	AuditEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_audit_events_total",
			Help: "Audit events by write result",
		},
		[]string{"result"},
	)

	AuditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keepsake_audit_queue_depth",
			Help: "Audit events buffered and not yet flushed",
		},
	)

	ExtractionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "keepsake_extraction_latency_seconds",
			Help: "Extraction collaborator latency in seconds",
		},
	)
)
