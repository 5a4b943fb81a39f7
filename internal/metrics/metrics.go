// Package metrics exposes Prometheus collectors for the audit service.
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
	auditsTotal             *prometheus.CounterVec
	auditDurationSeconds    *prometheus.HistogramVec
	auditLastScore          *prometheus.GaugeVec
	checksTotal             *prometheus.CounterVec
	fetchBytesTotal         *prometheus.CounterVec
	scheduleDecisionsTotal  *prometheus.CounterVec
	queueDepth              prometheus.Gauge
	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDurationSecs *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		auditsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_runs_total",
				Help: "Total number of audit runs, labeled by site and final status.",
			},
			[]string{"site", "status"},
		)

		auditDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_duration_seconds",
				Help:    "Histogram of end-to-end audit durations, labeled by site.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"site"},
		)

		auditLastScore = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "audit_last_score",
				Help: "Score of the most recent completed audit, labeled by site.",
			},
			[]string{"site"},
		)

		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_checks_total",
				Help: "Total number of check evaluations, labeled by check and status.",
			},
			[]string{"check", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_fetch_bytes_total",
				Help: "Total bytes fetched during audits, labeled by site.",
			},
			[]string{"site"},
		)

		scheduleDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_decisions_total",
				Help: "Total scheduler decisions, labeled by reason.",
			},
			[]string{"reason"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "audit_queue_depth",
				Help: "Number of audit jobs currently waiting in the queue.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
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

// ObserveAudit records one finished audit run.
func ObserveAudit(site, status string, duration time.Duration, score *int, bytesFetched int) {
	s := SanitizeSite(site)
	auditsTotal.WithLabelValues(s, status).Inc()
	auditDurationSeconds.WithLabelValues(s).Observe(duration.Seconds())
	if score != nil {
		auditLastScore.WithLabelValues(s).Set(float64(*score))
	}
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(s).Add(float64(bytesFetched))
	}
}

// ObserveCheck increments the per-check status counter.
func ObserveCheck(checkID, status string) {
	checksTotal.WithLabelValues(checkID, status).Inc()
}

// ObserveDecision increments the scheduler decision counter.
func ObserveDecision(reason string) {
	scheduleDecisionsTotal.WithLabelValues(reason).Inc()
}

// SetQueueDepth records the current queue backlog.
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecs.WithLabelValues(method, route).Observe(duration.Seconds())
}
