// Package metrics exposes Prometheus collectors for the directory crawler.
package metrics

import (
	"fmt"
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
	pageLoadsTotal             *prometheus.CounterVec
	strategyWinsTotal          *prometheus.CounterVec
	fieldMissesTotal           *prometheus.CounterVec
	entitiesTotal              *prometheus.CounterVec
	scrollPassScrolls          prometheus.Histogram
	recordsMergedTotal         *prometheus.CounterVec
	exportFailuresTotal        *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	lastRunDurationSeconds     prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; the Observe helpers call
// it on first use.
func Init() {
	once.Do(func() {
		pageLoadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawl_page_loads_total",
				Help: "Total number of page navigations, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		strategyWinsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawl_strategy_wins_total",
				Help: "Fields filled, labeled by field and the index of the winning strategy.",
			},
			[]string{"field", "strategy"},
		)

		fieldMissesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawl_field_misses_total",
				Help: "Fields for which every strategy came up empty.",
			},
			[]string{"field"},
		)

		entitiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawl_entities_total",
				Help: "Entities processed, labeled by status.",
			},
			[]string{"status"},
		)

		scrollPassScrolls = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dircrawl_scroll_pass_scrolls",
				Help:    "Number of scrolls performed per scroll-until-stable pass.",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 200},
			},
		)

		recordsMergedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawl_records_merged_total",
				Help: "Records merged into the dataset, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		exportFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawl_export_failures_total",
				Help: "Best-effort export failures, labeled by sink.",
			},
			[]string{"sink"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dircrawl_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dircrawl_http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dircrawl_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		lastRunDurationSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dircrawl_last_run_duration_seconds",
				Help: "Wall-clock duration of the most recent crawl run.",
			},
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

// WriteTextfile dumps the default registry in the node-exporter textfile
// format, for runs too short to be scraped.
func WriteTextfile(path string) error {
	Init()
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// ObservePageLoad counts one navigation.
func ObservePageLoad(site, status string) {
	Init()
	pageLoadsTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// ObserveStrategyWin records which strategy filled field.
func ObserveStrategyWin(field string, strategy int) {
	Init()
	strategyWinsTotal.WithLabelValues(field, strconv.Itoa(strategy)).Inc()
}

// ObserveFieldMiss records a field that fell back to its sentinel.
func ObserveFieldMiss(field string) {
	Init()
	fieldMissesTotal.WithLabelValues(field).Inc()
}

// ObserveEntity counts one entity by outcome (ok, skipped, error).
func ObserveEntity(status string) {
	Init()
	entitiesTotal.WithLabelValues(status).Inc()
}

// ObserveScrollPass records how many scrolls a pass needed.
func ObserveScrollPass(scrolls int) {
	Init()
	scrollPassScrolls.Observe(float64(scrolls))
}

// ObserveMerge records the outcome counts of a dataset merge.
func ObserveMerge(added, updated, skipped int) {
	Init()
	recordsMergedTotal.WithLabelValues("added").Add(float64(added))
	recordsMergedTotal.WithLabelValues("updated").Add(float64(updated))
	recordsMergedTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveExportFailure counts a failed best-effort export.
func ObserveExportFailure(sink string) {
	Init()
	exportFailuresTotal.WithLabelValues(sink).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRunDuration sets the last-run duration gauge.
func ObserveRunDuration(d time.Duration) {
	Init()
	lastRunDurationSeconds.Set(d.Seconds())
}
