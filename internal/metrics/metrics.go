// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            prometheus.Counter
	fetchesInFlight            prometheus.Gauge
	itemsTotal                 *prometheus.CounterVec
	passesTotal                *prometheus.CounterVec
	frontierURLs               *prometheus.GaugeVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total fetches, labeled by page kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_fetch_bytes_total",
				Help: "Total number of body bytes fetched.",
			},
		)

		fetchesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_fetches_in_flight",
				Help: "Number of fetches currently holding a concurrency slot.",
			},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_total",
				Help: "Items leaving the pipeline, labeled by status.",
			},
			[]string{"status"},
		)

		passesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_passes_total",
				Help: "Crawl passes, labeled by result.",
			},
			[]string{"result"},
		)

		frontierURLs = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_frontier_urls",
				Help: "URLs in each frontier collection.",
			},
			[]string{"state"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status API latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records the outcome of one fetch of the given page kind
// (seed, item, comment or story).
func ObserveFetch(kind, outcome string, bytesFetched int) {
	Init()
	fetchesTotal.WithLabelValues(kind, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.Add(float64(bytesFetched))
	}
}

// IncFetchesInFlight increments the in-flight fetch gauge.
func IncFetchesInFlight() {
	Init()
	fetchesInFlight.Inc()
}

// DecFetchesInFlight decrements the in-flight fetch gauge.
func DecFetchesInFlight() {
	Init()
	fetchesInFlight.Dec()
}

// ObserveItem increments the item counter for status.
func ObserveItem(status string) {
	Init()
	itemsTotal.WithLabelValues(status).Inc()
}

// ObservePass increments the pass counter for result.
func ObservePass(result string) {
	Init()
	passesTotal.WithLabelValues(result).Inc()
}

// SetFrontier publishes the size of each frontier collection.
func SetFrontier(pending, inFlight, done, errored int) {
	Init()
	frontierURLs.WithLabelValues("pending").Set(float64(pending))
	frontierURLs.WithLabelValues("in_flight").Set(float64(inFlight))
	frontierURLs.WithLabelValues("done").Set(float64(done))
	frontierURLs.WithLabelValues("errored").Set(float64(errored))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
