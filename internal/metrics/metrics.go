// Package metrics exposes Prometheus collectors for the catalog crawler.
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

// Stage labels.
const (
	StageListing = "listing"
	StageDetail  = "detail"
)

var (
	pagesTotal                 *prometheus.CounterVec
	bytesTotal                 *prometheus.CounterVec
	linksDiscoveredTotal       prometheus.Counter
	recordsTotal               *prometheus.CounterVec
	checkpointWritesTotal      *prometheus.CounterVec
	politenessDelaySeconds     *prometheus.HistogramVec
	discoveryPage              *prometheus.GaugeVec
	detailCursorIndex          prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_pages_total",
				Help: "Total number of pages fetched, labeled by stage and status.",
			},
			[]string{"stage", "status"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_bytes_total",
				Help: "Total number of body bytes fetched, labeled by stage.",
			},
			[]string{"stage"},
		)

		linksDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_links_discovered_total",
				Help: "Total number of detail links appended to the link file.",
			},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_records_total",
				Help: "Detail links processed, labeled by outcome (inserted, duplicate, skipped).",
			},
			[]string{"outcome"},
		)

		checkpointWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_checkpoint_writes_total",
				Help: "Checkpoint and result writes, labeled by target and status.",
			},
			[]string{"target", "status"},
		)

		politenessDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_politeness_delay_seconds",
				Help:    "Histogram of politeness waits between requests.",
				Buckets: []float64{0.1, 0.5, 1, 2, 3, 4, 5, 10},
			},
			[]string{"stage"},
		)

		discoveryPage = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "catalog_discovery_page",
				Help: "Next listing page to fetch, labeled by bucket.",
			},
			[]string{"bucket"},
		)

		detailCursorIndex = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_detail_cursor_index",
				Help: "Index of the next link the detail pipeline will process.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one fetched page. status is "ok" or "error".
func ObservePage(stage, status string, bytesFetched int) {
	Init()
	pagesTotal.WithLabelValues(stage, status).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(stage).Add(float64(bytesFetched))
	}
}

// AddLinksDiscovered adds n to the discovered-links counter.
func AddLinksDiscovered(n int) {
	Init()
	if n > 0 {
		linksDiscoveredTotal.Add(float64(n))
	}
}

// ObserveRecord counts one detail link by outcome.
func ObserveRecord(outcome string) {
	Init()
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCheckpointWrite counts one persistence attempt.
func ObserveCheckpointWrite(target string, err error) {
	Init()
	status := "ok"
	if err != nil {
		status = "error"
	}
	checkpointWritesTotal.WithLabelValues(target, status).Inc()
}

// ObservePolitenessDelay records the duration of a politeness wait.
func ObservePolitenessDelay(stage string, d time.Duration) {
	Init()
	politenessDelaySeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// SetDiscoveryPosition records the next listing page for bucket.
func SetDiscoveryPosition(bucket string, page int) {
	Init()
	discoveryPage.WithLabelValues(bucket).Set(float64(page))
}

// SetDetailCursor records the index of the next link to process.
func SetDetailCursor(index int) {
	Init()
	detailCursorIndex.Set(float64(index))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
