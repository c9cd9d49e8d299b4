package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatescope_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatescope_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	requestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gatescope_http_requests_in_flight",
		Help: "Requests currently being served.",
	})

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatescope_cache_hits_total",
		Help: "Cache hits by tier.",
	}, []string{"tier"})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatescope_cache_misses_total",
		Help: "Cache lookups that fell through to SQL.",
	})

	taskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatescope_task_runs_total",
		Help: "Background task invocations by outcome.",
	}, []string{"task", "outcome"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatescope_task_duration_seconds",
		Help:    "Background task run time.",
		Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
	}, []string{"task"})

	gatewayQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatescope_gateway_queries_total",
		Help: "Gateway DB queries by outcome.",
	}, []string{"outcome"})
)

// ObserveRequest records one finished HTTP request.
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RequestStarted / RequestFinished bracket the in-flight gauge.
func RequestStarted()  { requestsInFlight.Inc() }
func RequestFinished() { requestsInFlight.Dec() }

// ObserveCacheHit records a hit on the named tier ("local", "redis").
func ObserveCacheHit(tier string) { cacheHits.WithLabelValues(tier).Inc() }

// ObserveCacheMiss records a lookup that missed every tier.
func ObserveCacheMiss() { cacheMisses.Inc() }

// ObserveTaskRun records one background task invocation.
func ObserveTaskRun(task string, ok bool, elapsed time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	taskRuns.WithLabelValues(task, outcome).Inc()
	taskDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}

// ObserveGatewayQuery records one gateway DB round trip.
func ObserveGatewayQuery(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	gatewayQueries.WithLabelValues(outcome).Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
