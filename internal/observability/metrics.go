package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchMatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "courier_dispatch", Name: "matches_total",
		Help: "Total dispatch calls that matched a driver"})
	DispatchExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "courier_dispatch", Name: "exhausted_total",
		Help: "Total dispatch calls that exhausted the search radius"})
	DispatchRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "courier_dispatch", Name: "rounds_per_dispatch",
		Help:    "Radius expansion rounds per dispatch call",
		Buckets: []float64{1, 2, 3, 4, 5, 6}})
	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "courier_dispatch", Name: "dispatch_latency_seconds",
		Help: "Dispatch call latency seconds"})

	SessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "courier_dispatch", Name: "tracking_sessions_open",
		Help: "Number of open tracking sessions"})
	SamplesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "courier_dispatch", Name: "position_samples_accepted_total",
		Help: "Position samples accepted into tracking sessions"})
	SamplesStale = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "courier_dispatch", Name: "position_samples_stale_total",
		Help: "Out-of-order position samples dropped"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "courier_dispatch", Name: "http_requests_total",
			Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "courier_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
