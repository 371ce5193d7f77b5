// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts handled requests by route template, method and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pocali_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"route", "method", "status"},
	)

	// CatalogEntries counts listed images by outcome ("assembled" or "skipped").
	CatalogEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pocali_catalog_entries_total",
			Help: "Total number of listed images, by assembly outcome",
		},
		[]string{"outcome"},
	)

	// CatalogListDuration observes how long storage listings take.
	CatalogListDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pocali_catalog_list_duration_seconds",
			Help:    "Duration of storage listings in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// Uploads counts image uploads by result ("ok", "rejected", "error").
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pocali_uploads_total",
			Help: "Total number of image uploads, by result",
		},
		[]string{"result"},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pocali_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerRequests counts calls through a breaker by result
	// ("success", "failure", "rejected").
	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pocali_circuit_breaker_requests_total",
			Help: "Total number of calls through a circuit breaker, by result",
		},
		[]string{"name", "result"},
	)

	// CircuitBreakerTransitions counts breaker state changes.
	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pocali_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// UsersRegistered counts anonymous identities handed out.
	UsersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pocali_users_registered_total",
			Help: "Total number of registered users",
		},
	)
)
