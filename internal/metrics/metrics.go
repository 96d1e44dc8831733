// Package metrics provides Prometheus metrics for the completion router:
// request counts, racing outcomes, time-to-first-token, cache and rate
// limiter health.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "answerd"

// TTFTBuckets covers the racing deadlines (600ms/1000ms) with resolution
// around them.
var TTFTBuckets = []float64{
	0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0,
}

var (
	// RequestsTotal counts API requests by route and status code.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"route", "status"},
	)

	// RaceAttempts counts upstream attempts by outcome
	// (won, lost, timeout, error).
	RaceAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "race_attempts_total",
			Help:      "Upstream racing attempts by outcome",
		},
		[]string{"model", "tier", "outcome"},
	)

	// TimeToFirstToken tracks the TTFT of winning attempts.
	TimeToFirstToken = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_first_token_seconds",
			Help:      "Time to first token for winning attempts",
			Buckets:   TTFTBuckets,
		},
		[]string{"tier"},
	)

	// CacheEvents counts semantic cache hits, misses, and capacity
	// evictions.
	CacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "semantic_cache_events_total",
			Help:      "Semantic cache lookups by result",
		},
		[]string{"result"},
	)

	// RateLimitRejections counts requests rejected at the rate limiter.
	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the fixed-window rate limiter",
		},
	)

	// CatalogRefreshFailures counts failed remote catalog fetches.
	CatalogRefreshFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_refresh_failures_total",
			Help:      "Failed model catalog refreshes",
		},
	)
)

// RecordAttempt records one racing attempt outcome.
func RecordAttempt(model, tier, outcome string) {
	RaceAttempts.WithLabelValues(model, tier, outcome).Inc()
}

// RecordTTFT records the winner's time to first token.
func RecordTTFT(tier string, d time.Duration) {
	TimeToFirstToken.WithLabelValues(tier).Observe(d.Seconds())
}
