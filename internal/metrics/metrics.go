// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "platerank"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being served",
		},
	)

	// TxAttemptsTotal counts aggregate transaction attempts by operation and
	// outcome (committed, retried, exhausted, failed, unknown, resolved).
	TxAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_attempts_total",
			Help:      "Aggregate transaction attempts by outcome",
		},
		[]string{"operation", "outcome"},
	)

	AggregateRecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregate_recompute_duration_seconds",
			Help:      "Time spent recomputing an establishment aggregate inside a transaction",
			Buckets:   prometheus.DefBuckets,
		},
	)

	ReactionTogglesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaction_toggles_total",
			Help:      "Reaction toggles by kind and resulting state",
		},
		[]string{"kind", "state"},
	)

	RankingCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranking_cache_total",
			Help:      "Ranking cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}
