// Package metrics defines the Prometheus collectors exported by the matching
// service. Everything is registered on the default registry via promauto and
// scraped from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts API requests by method, path and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "descmatch_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes API latency by path.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "descmatch_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	// MatchersTotal tracks how many matchers are currently registered.
	MatchersTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "descmatch_matchers_total",
			Help: "Number of registered matchers.",
		},
	)

	// IndexedDescriptors tracks the number of descriptors indexed per
	// matcher.
	IndexedDescriptors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "descmatch_indexed_descriptors",
			Help: "Descriptors indexed, per matcher.",
		},
		[]string{"matcher"},
	)

	// BuildDuration observes how long index builds take.
	BuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "descmatch_build_duration_seconds",
			Help:    "Wall time of matcher index builds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	// SearchesTotal counts nearest neighbour queries served, per matcher.
	// Batched searches count every query in the batch.
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "descmatch_searches_total",
			Help: "Nearest neighbour queries served, per matcher.",
		},
		[]string{"matcher"},
	)
)
