// Package metrics provides Prometheus metrics for the analytics service.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eve-trade-analytics/internal/engine"
	"eve-trade-analytics/internal/esi"
)

const defaultNamespace = "eve_trade_analytics"

// Metrics holds all Prometheus metrics for the application.
// It satisfies esi.RequestObserver and engine.BatchObserver.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	// Upstream API
	ESIRequests        *prometheus.CounterVec
	ESIRequestDuration *prometheus.HistogramVec

	// Analysis
	ItemsAnalyzed    *prometheus.CounterVec
	ItemDuration     prometheus.Histogram
	BatchesTotal     *prometheus.CounterVec
	BatchDuration    prometheus.Histogram
	LastBatchItems   *prometheus.GaugeVec
	LastBatchSuccess prometheus.Gauge

	// Caches
	CacheLookups *prometheus.CounterVec
}

// New creates a Metrics instance registered on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		namespace: namespace,

		ESIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "esi",
			Name:      "requests_total",
			Help:      "Total number of ESI requests by endpoint and HTTP status",
		}, []string{"endpoint", "status"}),
		ESIRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "esi",
			Name:      "request_duration_seconds",
			Help:      "ESI request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),

		ItemsAnalyzed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "items_total",
			Help:      "Total number of analyzed items by outcome",
		}, []string{"outcome"}),
		ItemDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "item_duration_seconds",
			Help:      "Per-item load and analysis duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		BatchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "batches_total",
			Help:      "Total number of batch runs by status",
		}, []string{"status"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "batch_duration_seconds",
			Help:      "Batch run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
		LastBatchItems: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "last_batch_items",
			Help:      "Item counts of the most recent completed batch by outcome",
		}, []string{"outcome"}),
		LastBatchSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_batch_timestamp",
			Help:      "Unix timestamp of last completed batch",
		}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "History cache lookups by backend and result",
		}, []string{"backend", "result"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest implements esi.RequestObserver.
func (m *Metrics) ObserveRequest(endpoint string, status int, d time.Duration) {
	m.ESIRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.ESIRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ItemDone implements engine.BatchObserver.
func (m *Metrics) ItemDone(typeID int32, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.ItemsAnalyzed.WithLabelValues(outcome).Inc()
	m.ItemDuration.Observe(d.Seconds())
}

// BatchDone implements engine.BatchObserver.
func (m *Metrics) BatchDone(res *engine.BatchResult, err error) {
	if err != nil || res == nil {
		m.BatchesTotal.WithLabelValues("error").Inc()
		return
	}
	m.BatchesTotal.WithLabelValues("ok").Inc()
	m.BatchDuration.Observe(float64(res.DurationMs) / 1000)
	m.LastBatchItems.WithLabelValues("ok").Set(float64(len(res.Items)))
	m.LastBatchItems.WithLabelValues("failed").Set(float64(len(res.Failed)))
	m.LastBatchSuccess.SetToCurrentTime()
}

// ObserveMemo exports the hit and miss counts of a caller-owned memo.
func (m *Metrics) ObserveMemo(memo *engine.Memo) {
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "memo",
			Name:      "hits_total",
			Help:      "Analysis memo hits",
		}, func() float64 { h, _ := memo.Stats(); return float64(h) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: "memo",
			Name:      "misses_total",
			Help:      "Analysis memo misses",
		}, func() float64 { _, mi := memo.Stats(); return float64(mi) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: "memo",
			Name:      "entries",
			Help:      "Analysis memo entries",
		}, func() float64 { return float64(memo.Len()) }),
	)
}

// InstrumentCache wraps a history cache so lookups are counted under backend.
func (m *Metrics) InstrumentCache(backend string, c esi.HistoryCache) esi.HistoryCache {
	return &instrumentedCache{inner: c, backend: backend, m: m}
}

type instrumentedCache struct {
	inner   esi.HistoryCache
	backend string
	m       *Metrics
}

func (c *instrumentedCache) GetHistory(ctx context.Context, regionID, typeID int32) ([]esi.HistoryEntry, bool) {
	entries, ok := c.inner.GetHistory(ctx, regionID, typeID)
	result := "miss"
	if ok {
		result = "hit"
	}
	c.m.CacheLookups.WithLabelValues(c.backend, result).Inc()
	return entries, ok
}

func (c *instrumentedCache) SetHistory(ctx context.Context, regionID, typeID int32, entries []esi.HistoryEntry) {
	c.inner.SetHistory(ctx, regionID, typeID, entries)
}
