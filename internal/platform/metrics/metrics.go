package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Safe2Tow collector. It is served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// BackendRequestsTotal counts generative backend calls by operation and outcome (ok/error).
	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safe2tow_backend_requests_total",
			Help: "Total number of generative backend calls.",
		},
		[]string{"operation", "outcome"},
	)

	// BackendLatency records generative backend call latency.
	BackendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safe2tow_backend_latency_seconds",
			Help:    "Latency of generative backend calls.",
			Buckets: []float64{.25, .5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"operation"},
	)

	// BackendRetriesTotal counts retry attempts scheduled after a transient backend failure.
	BackendRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safe2tow_backend_retries_total",
			Help: "Total number of generative backend retries.",
		},
		[]string{"operation"},
	)

	// LookupsTotal counts towing lookups by entry point and result
	// (ok, invalid_query, unavailable, malformed, unrecognized).
	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safe2tow_lookups_total",
			Help: "Total number of towing lookups.",
		},
		[]string{"source", "result"},
	)

	// PlateDecodesTotal counts plate decoder calls by outcome.
	PlateDecodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safe2tow_plate_decodes_total",
			Help: "Total number of license plate decode requests.",
		},
		[]string{"outcome"},
	)

	// RateLimitedTotal counts requests rejected by the in-process rate limiter.
	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safe2tow_rate_limited_total",
			Help: "Total number of requests rejected by rate limiting.",
		},
		[]string{"route"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		BackendRequestsTotal,
		BackendLatency,
		BackendRetriesTotal,
		LookupsTotal,
		PlateDecodesTotal,
		RateLimitedTotal,
	)
}

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
