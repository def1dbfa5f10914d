// Package metrics bundles the Prometheus collectors shared by the catalog engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the catalog engine. All methods
// are safe on a nil receiver so components can run without instrumentation.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ItemsScrapedTotal *prometheus.CounterVec
	ExtractSkipped    *prometheus.CounterVec
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	CacheLookups      *prometheus.CounterVec
	CacheWriteErrors  prometheus.Counter
	RefreshTotal      *prometheus.CounterVec
	CatalogSize       prometheus.Gauge
	ProxyPoolSize     prometheus.Gauge
	SessionsOpen      prometheus.Gauge
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_requests_total",
			Help: "Total listing fetches issued by source adapters.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_request_duration_seconds",
			Help:    "Latency of listing page fetches.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsScraped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_items_scraped_total",
			Help: "Total number of listing entries extracted.",
		},
		[]string{"source"},
	)
	extractSkipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_extract_skipped_total",
			Help: "Listing entries skipped during extraction, by reason.",
		},
		[]string{"reason"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_retries_total",
			Help: "Total number of fetch retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_lookups_total",
			Help: "Cache lookups by result.",
		},
		[]string{"result"},
	)
	cacheWriteErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_cache_write_errors_total",
			Help: "Cache writes that failed and were ignored.",
		},
	)
	refreshes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_refresh_total",
			Help: "Completed refresh cycles by outcome.",
		},
		[]string{"outcome"},
	)
	catalogSize := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_records",
			Help: "Records currently held by the catalog store.",
		},
	)
	proxyPool := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_proxy_pool_size",
			Help: "Proxies currently available for rotation.",
		},
	)
	sessionsOpen := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_sessions_open",
			Help: "Fetch sessions acquired and not yet released.",
		},
	)

	registry.MustRegister(requests, requestDuration, itemsScraped, extractSkipped, retries, errorsTotal,
		cacheLookups, cacheWriteErrors, refreshes, catalogSize, proxyPool, sessionsOpen)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		ItemsScrapedTotal: itemsScraped,
		ExtractSkipped:    extractSkipped,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		CacheLookups:      cacheLookups,
		CacheWriteErrors:  cacheWriteErrors,
		RefreshTotal:      refreshes,
		CatalogSize:       catalogSize,
		ProxyPoolSize:     proxyPool,
		SessionsOpen:      sessionsOpen,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records a fetch duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddItems adds n extracted entries for source.
func (m *Metrics) AddItems(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsScrapedTotal.WithLabelValues(source).Add(float64(n))
}

// IncSkipped counts a listing entry dropped during extraction.
func (m *Metrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.ExtractSkipped.WithLabelValues(reason).Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCache records a cache hit or miss.
func (m *Metrics) IncCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// IncCacheWriteError counts an ignored cache write failure.
func (m *Metrics) IncCacheWriteError() {
	if m == nil {
		return
	}
	m.CacheWriteErrors.Inc()
}

// IncRefresh counts a refresh cycle outcome (committed, retained, interrupted).
func (m *Metrics) IncRefresh(outcome string) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(outcome).Inc()
}

// SetCatalogSize records the number of records in the store.
func (m *Metrics) SetCatalogSize(n int) {
	if m == nil {
		return
	}
	m.CatalogSize.Set(float64(n))
}

// SetProxyPoolSize records the number of proxies available.
func (m *Metrics) SetProxyPoolSize(n int) {
	if m == nil {
		return
	}
	m.ProxyPoolSize.Set(float64(n))
}

// SessionOpened and SessionClosed track live sessions.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsOpen.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsOpen.Dec()
}
