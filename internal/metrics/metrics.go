// Package metrics exposes Prometheus instrumentation for the ingestion
// engine. Collectors are registered on the default registry and served by
// the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderRequests counts provider invocations by provider and outcome.
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fundsync",
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Provider API invocations by outcome.",
	}, []string{"provider", "operation", "outcome"})

	// ProviderCacheHits counts read-through cache hits that bypassed the
	// rate limiter.
	ProviderCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fundsync",
		Subsystem: "provider",
		Name:      "cache_hits_total",
		Help:      "Provider responses served from the read-through cache.",
	}, []string{"provider", "operation"})

	// RateLimitDenials counts acquisitions denied by the budget limiter.
	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fundsync",
		Subsystem: "provider",
		Name:      "rate_limit_denials_total",
		Help:      "Requests denied by the per-provider rate limiter.",
	}, []string{"provider"})

	// ProviderReliability is the smoothed reliability score per provider.
	ProviderReliability = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fundsync",
		Subsystem: "provider",
		Name:      "reliability_score",
		Help:      "Exponentially smoothed provider reliability (0-100).",
	}, []string{"provider"})

	// IngestRecordsWritten counts rows flushed to the time-series store.
	IngestRecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fundsync",
		Subsystem: "ingest",
		Name:      "records_written_total",
		Help:      "Rows flushed to the time-series store by record shape.",
	}, []string{"shape"})

	// IngestFilesProcessed counts files by terminal state.
	IngestFilesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fundsync",
		Subsystem: "ingest",
		Name:      "files_total",
		Help:      "Flat files handled by the bulk pipeline by terminal state.",
	}, []string{"state"})
)
