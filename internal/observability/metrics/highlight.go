// Package metrics provides Prometheus metrics for the highlight engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HighlightMetrics contains Prometheus metrics for highlight store,
// tracker and coordinator operations.
type HighlightMetrics struct {
	registry *prometheus.Registry

	// Store operation metrics
	storeOperationsTotal  *prometheus.CounterVec
	storeOperationSeconds *prometheus.HistogramVec
	storeSizeGauge        *prometheus.GaugeVec

	// Tracker metrics
	throttleRejectionsTotal *prometheus.CounterVec
	processedPagesGauge     prometheus.Gauge

	// Coordinator metrics
	coordinatorRunsTotal   *prometheus.CounterVec
	coordinatorRunSeconds  *prometheus.HistogramVec
	notificationsCoalesced prometheus.Counter

	// Persistence metrics
	persistErrorsTotal *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewHighlightMetrics creates and registers highlight metrics on the
// given registry.
func NewHighlightMetrics(registry *prometheus.Registry) (*HighlightMetrics, error) {
	m := &HighlightMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HighlightMetrics) initMetrics() {
	m.storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_store_operations_total",
			Help: "Total number of highlight store operations",
		},
		[]string{"operation", "type", "status"}, // operation: add, remove, query; status: success, noop, error
	)

	m.storeOperationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "highlight_store_operation_duration_seconds",
			Help:    "Time taken for highlight store operations",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"operation"},
	)

	m.storeSizeGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "highlight_store_records",
			Help: "Number of highlight records currently stored",
		},
		[]string{"type"},
	)

	m.throttleRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_throttle_rejections_total",
			Help: "Processing attempts rejected by the per-page throttle",
		},
		[]string{"mode"}, // mode: interactive, auto
	)

	m.processedPagesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "highlight_processed_pages",
		Help: "Number of (file, page) units currently marked processed",
	})

	m.coordinatorRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_coordinator_runs_total",
			Help: "Total number of coordinator reconciliation runs",
		},
		[]string{"source", "status"}, // source: search, entity, manual; status: processed, skipped, failed
	)

	m.coordinatorRunSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "highlight_coordinator_run_duration_seconds",
			Help:    "Time taken for coordinator reconciliation runs",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
		[]string{"source"},
	)

	m.notificationsCoalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "highlight_notifications_coalesced_total",
		Help: "Change notifications absorbed by the debounce window",
	})

	m.persistErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_persist_errors_total",
			Help: "Best-effort persistence failures (in-memory state unaffected)",
		},
		[]string{"operation"},
	)

	m.collectors = []prometheus.Collector{
		m.storeOperationsTotal,
		m.storeOperationSeconds,
		m.storeSizeGauge,
		m.throttleRejectionsTotal,
		m.processedPagesGauge,
		m.coordinatorRunsTotal,
		m.coordinatorRunSeconds,
		m.notificationsCoalesced,
		m.persistErrorsTotal,
	}
}

// Describe implements prometheus.Collector
func (m *HighlightMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *HighlightMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// RecordStoreOperation increments the store operation counter. Nil-safe.
func (m *HighlightMetrics) RecordStoreOperation(operation, highlightType, status string) {
	if m == nil {
		return
	}
	m.storeOperationsTotal.WithLabelValues(operation, highlightType, status).Inc()
}

// RecordStoreDuration observes a store operation duration in seconds. Nil-safe.
func (m *HighlightMetrics) RecordStoreDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.storeOperationSeconds.WithLabelValues(operation).Observe(seconds)
}

// SetStoreSize sets the stored record gauge for a highlight type. Nil-safe.
func (m *HighlightMetrics) SetStoreSize(highlightType string, count int) {
	if m == nil {
		return
	}
	m.storeSizeGauge.WithLabelValues(highlightType).Set(float64(count))
}

// RecordThrottleRejection counts a throttled processing attempt. Nil-safe.
func (m *HighlightMetrics) RecordThrottleRejection(mode string) {
	if m == nil {
		return
	}
	m.throttleRejectionsTotal.WithLabelValues(mode).Inc()
}

// SetProcessedPages sets the processed-unit gauge. Nil-safe.
func (m *HighlightMetrics) SetProcessedPages(count int) {
	if m == nil {
		return
	}
	m.processedPagesGauge.Set(float64(count))
}

// RecordCoordinatorRun counts one reconciliation run outcome. Nil-safe.
func (m *HighlightMetrics) RecordCoordinatorRun(source, status string) {
	if m == nil {
		return
	}
	m.coordinatorRunsTotal.WithLabelValues(source, status).Inc()
}

// RecordCoordinatorDuration observes a reconciliation run duration. Nil-safe.
func (m *HighlightMetrics) RecordCoordinatorDuration(source string, seconds float64) {
	if m == nil {
		return
	}
	m.coordinatorRunSeconds.WithLabelValues(source).Observe(seconds)
}

// RecordNotificationCoalesced counts a change notification absorbed by
// the debounce window. Nil-safe.
func (m *HighlightMetrics) RecordNotificationCoalesced() {
	if m == nil {
		return
	}
	m.notificationsCoalesced.Inc()
}

// RecordPersistError counts a best-effort persistence failure. Nil-safe.
func (m *HighlightMetrics) RecordPersistError(operation string) {
	if m == nil {
		return
	}
	m.persistErrorsTotal.WithLabelValues(operation).Inc()
}
