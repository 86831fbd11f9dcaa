// Package metrics provides Prometheus metrics collection for the caching
// reverse proxy: cache outcomes, origin latency, and coalescing behavior.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cacheproxy"

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.5, 5.0, 10.0, 30.0,
}

var (
	// CacheLookupsTotal counts requests by the X-Cache outcome they were
	// served with: HIT, STALE, MISS, or BYPASS, and "unknown" for responses
	// that carry no X-Cache header.
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total cache lookups by outcome",
		},
		[]string{"status"},
	)

	// OriginFetchLatency tracks how long origin fetches take.
	OriginFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "origin_fetch_latency_seconds",
			Help:      "Origin fetch latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"outcome"}, // ok, transport_error, decode_error
	)

	// RequestLatency tracks end-to-end proxy request latency.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "End-to-end request latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"status"},
	)

	// CoalesceOutcomesTotal counts how miss resolution played out for each
	// request that reached the coalescer: leader, loser_hit (recheck found
	// the leader's write), or loser_fallback (direct uncached fetch after
	// the wait budget expired).
	CoalesceOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesce_outcomes_total",
			Help:      "Total miss resolutions by coalescing outcome",
		},
		[]string{"outcome"},
	)

	// FarTierErrorsTotal counts far-tier (Redis) operation failures that
	// were degraded rather than surfaced to the client.
	FarTierErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "far_tier_errors_total",
			Help:      "Total far tier operation failures, degraded in place",
		},
		// get, stale_get, set, lock_acquire, lock_release, mark_refresh_pending
		[]string{"operation"},
	)

	// StaleRefreshesTotal counts background refresh task outcomes.
	StaleRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_refreshes_total",
			Help:      "Total background stale-refresh task outcomes",
		},
		// refreshed, skipped_lock_held, skipped_not_cacheable, fetch_error, store_error
		[]string{"outcome"},
	)

	// SchedulerQueueDroppedTotal counts refresh tasks dropped because the
	// scheduler's queue was full.
	SchedulerQueueDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_queue_dropped_total",
			Help:      "Total background tasks dropped due to a full scheduler queue",
		},
	)

	// NearTierEntries reports the current near-tier (in-process) entry count.
	NearTierEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "near_tier_entries",
			Help:      "Current number of entries held in the near tier",
		},
	)
)
