// Package metrics exposes the Prometheus instruments of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityeye_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cityeye_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	PlatformRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityeye_platform_requests_total",
			Help: "Total number of requests sent to the platform API",
		},
		[]string{"operation", "outcome"}, // "success", "failure", "rejected"
	)

	PlatformRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cityeye_platform_request_duration_seconds",
			Help:    "Platform API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cityeye_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CaptureAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityeye_capture_attempts_total",
			Help: "Reference image capture attempts by outcome",
		},
		[]string{"outcome"}, // "success", "failed", "error", "stale"
	)

	AnalyticsFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityeye_analytics_fetches_total",
			Help: "Analytics fetches by tab, period and outcome",
		},
		[]string{"tab", "period", "outcome"}, // "success", "error", "stale", "skipped"
	)

	EditorSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cityeye_editor_sessions_active",
			Help: "Number of open zone editor sessions",
		},
	)

	DashboardsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cityeye_dashboards_active",
			Help: "Number of open analytics dashboards",
		},
	)

	ZoneSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityeye_zone_submissions_total",
			Help: "Detection zone submissions by outcome",
		},
		[]string{"outcome"},
	)
)
