// Package metrics exposes Prometheus collectors for the scanner service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scansTotal                 *prometheus.CounterVec
	scanDurationSeconds        prometheus.Histogram
	scansInFlight              prometheus.Gauge
	fetchTotal                 *prometheus.CounterVec
	robotsFallbackTotal        prometheus.Counter
	robotsDeniedTotal          prometheus.Counter
	robotsTLSTimeoutTotal      prometheus.Counter
	snapshotLoadsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitWaitSeconds       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfscan_scans_total",
				Help: "Total number of completed menu scans, labeled by outcome status.",
			},
			[]string{"status"},
		)

		scanDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gfscan_scan_duration_seconds",
				Help:    "Histogram of end-to-end menu scan durations.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45},
			},
		)

		scansInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gfscan_scans_in_flight",
				Help: "Number of menu scans currently running.",
			},
		)

		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfscan_fetch_total",
				Help: "Total number of page fetches, labeled by result.",
			},
			[]string{"result"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gfscan_robots_fallback_total",
				Help: "Hosts whose robots.txt could not be fetched or parsed and were treated as allow-all.",
			},
		)

		robotsDeniedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gfscan_robots_denied_total",
				Help: "URLs rejected by robots.txt rules.",
			},
		)

		robotsTLSTimeoutTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gfscan_robots_tls_handshake_timeout_total",
				Help: "TLS handshake timeouts encountered while fetching robots.txt.",
			},
		)

		snapshotLoadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfscan_snapshot_loads_total",
				Help: "Snapshot load attempts, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfscan_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gfscan_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gfscan_rate_limit_wait_seconds",
				Help:    "Histogram of per-host rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Collectors are nil until Init runs; observers become no-ops in that case so
// packages can be used without a metrics endpoint.

// ObserveScan records a completed scan.
func ObserveScan(status string, duration time.Duration) {
	if scansTotal == nil {
		return
	}
	scansTotal.WithLabelValues(status).Inc()
	scanDurationSeconds.Observe(duration.Seconds())
}

// IncScansInFlight increments the in-flight scan gauge.
func IncScansInFlight() {
	if scansInFlight != nil {
		scansInFlight.Inc()
	}
}

// DecScansInFlight decrements the in-flight scan gauge.
func DecScansInFlight() {
	if scansInFlight != nil {
		scansInFlight.Dec()
	}
}

// ObserveFetch counts a page fetch by result, e.g. "ok", "robots_denied", "status".
func ObserveFetch(result string) {
	if fetchTotal != nil {
		fetchTotal.WithLabelValues(result).Inc()
	}
}

// ObserveRobotsFallback counts a host treated as allow-all.
func ObserveRobotsFallback() {
	if robotsFallbackTotal != nil {
		robotsFallbackTotal.Inc()
	}
}

// ObserveRobotsDenied counts a URL rejected by robots rules.
func ObserveRobotsDenied() {
	if robotsDeniedTotal != nil {
		robotsDeniedTotal.Inc()
	}
}

// ObserveRobotsTLSHandshakeTimeout counts a robots.txt handshake timeout.
func ObserveRobotsTLSHandshakeTimeout() {
	if robotsTLSTimeoutTotal != nil {
		robotsTLSTimeoutTotal.Inc()
	}
}

// ObserveSnapshotLoad counts a snapshot load by result: "hit", "miss" or "invalid".
func ObserveSnapshotLoad(result string) {
	if snapshotLoadsTotal != nil {
		snapshotLoadsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitWait records the duration of a rate limit wait.
func ObserveRateLimitWait(host string, duration time.Duration) {
	if rateLimitWaitSeconds != nil {
		rateLimitWaitSeconds.WithLabelValues(host).Observe(duration.Seconds())
	}
}
