package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "property_refresh_runs_total",
			Help: "Property cache refresh runs by trigger and final status",
		},
		[]string{"trigger", "status"},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "property_refresh_duration_seconds",
			Help:    "Wall time of property cache refreshes",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	RefreshInProgressRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "property_refresh_rejected_total",
			Help: "Refresh requests rejected because another refresh held the lock",
		},
	)

	ListingsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "property_listings_processed_total",
			Help: "Listings written during refresh by outcome",
		},
		[]string{"outcome"}, // inserted, updated, unchanged, deactivated, skipped
	)

	CacheRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "property_cache_rows",
			Help: "Rows in the property cache by state",
		},
		[]string{"state"},
	)

	MLSRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mls_requests_total",
			Help: "MLS OData requests by outcome",
		},
		[]string{"outcome"}, // success, retry, failure, rejected
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "0 = closed, 1 = half-open, 2 = open",
		},
		[]string{"name"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Relayed form emails by kind and result",
		},
		[]string{"kind", "result"},
	)

	InstagramCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instagram_feed_cache_total",
			Help: "Instagram feed cache lookups",
		},
		[]string{"result"}, // hit, miss, error
	)
)

// SetCacheRows publishes the cache gauges from a stats snapshot.
func SetCacheRows(active, underContract, inactive int) {
	CacheRows.WithLabelValues("active").Set(float64(active))
	CacheRows.WithLabelValues("under_contract").Set(float64(underContract))
	CacheRows.WithLabelValues("inactive").Set(float64(inactive))
}
