// Package metrics provides Prometheus metrics for the clanrank service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Reorder core
	commitsTotal    *prometheus.CounterVec
	commitDuration  prometheus.Histogram
	rowWritesTotal  *prometheus.CounterVec
	rowRetriesTotal prometheus.Counter
	sessionsActive  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	listSize        prometheus.Gauge

	// Store
	storeLatency *prometheus.HistogramVec
	storeRecords prometheus.Gauge

	// Notices
	noticesQueued    prometheus.Gauge
	noticesDropped   prometheus.Counter
	noticesDelivered prometheus.Counter
	liveClients      prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // service registry without default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "clanrank",
		subsystem:        "reorder",
		histogramBuckets: prometheus.DefBuckets,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// RefreshInterval reports how often gauges should be refreshed by callers.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

func (m *Manager) initializeMetrics() { //nolint:funlen // flat collector declarations
	auto := promauto.With(m.registry)

	m.commitsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "commits_total",
		Help:      "Reorder commits by outcome (success, partial, failure)",
	}, []string{"outcome"})

	m.commitDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "commit_duration_milliseconds",
		Help:      "Wall time of a full commit including every row write",
		Buckets:   m.histogramBuckets,
	})

	m.rowWritesTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "row_writes_total",
		Help:      "Per-row rank writes by result kind",
	}, []string{"kind"})

	m.rowRetriesTotal = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "row_retries_total",
		Help:      "Row writes retried after a transient failure",
	})

	m.sessionsActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_active",
		Help:      "Open reorder sessions",
	})

	m.sessionsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_total",
		Help:      "Reorder sessions by how they ended (committed, discarded, expired)",
	}, []string{"end"})

	m.listSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "list_size",
		Help:      "Rows in the last committed order",
	})

	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "store",
		Name:      "operation_duration_milliseconds",
		Help:      "Store operation latency",
		Buckets:   m.histogramBuckets,
	}, []string{"driver", "op"})

	m.storeRecords = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "store",
		Name:      "records",
		Help:      "Ranked entities held by the store",
	})

	m.noticesQueued = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "notices",
		Name:      "queued",
		Help:      "Notices waiting for dispatch",
	})

	m.noticesDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "notices",
		Name:      "dropped_total",
		Help:      "Notices dropped because the queue was full or closed",
	})

	m.noticesDelivered = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "notices",
		Name:      "delivered_total",
		Help:      "Notices handed to live clients",
	})

	m.liveClients = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "notices",
		Name:      "live_clients",
		Help:      "Connected websocket clients",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "errors",
		Name:      "by_component_total",
		Help:      "Errors by component and type",
	}, []string{"component", "error_type"})
}

// Reorder core.

// RecordCommit records one finished commit.
func RecordCommit(outcome string, rows int, duration time.Duration) {
	globalManager.commitsTotal.WithLabelValues(outcome).Inc()
	globalManager.commitDuration.Observe(float64(duration.Milliseconds()))
	globalManager.listSize.Set(float64(rows))
}

// RecordRowWrite records the final result of one row write.
func RecordRowWrite(kind string) {
	globalManager.rowWritesTotal.WithLabelValues(kind).Inc()
}

// RecordRowRetry counts a retried row write.
func RecordRowRetry() {
	globalManager.rowRetriesTotal.Inc()
}

// UpdateSessionsActive sets the number of open sessions.
func UpdateSessionsActive(n int) {
	globalManager.sessionsActive.Set(float64(n))
}

// RecordSessionEnd counts a session ending as committed, discarded or expired.
func RecordSessionEnd(how string) {
	globalManager.sessionsTotal.WithLabelValues(how).Inc()
}

// Store.

// RecordStoreLatency observes a store operation.
func RecordStoreLatency(driver, op string, d time.Duration) {
	globalManager.storeLatency.WithLabelValues(driver, op).Observe(float64(d.Microseconds()) / 1000)
}

// UpdateStoreRecords sets the number of stored entities.
func UpdateStoreRecords(n int) {
	globalManager.storeRecords.Set(float64(n))
}

// Notices.

// UpdateNoticesQueued sets the notice backlog.
func UpdateNoticesQueued(n int) {
	globalManager.noticesQueued.Set(float64(n))
}

// RecordNoticeDropped counts a dropped notice.
func RecordNoticeDropped() {
	globalManager.noticesDropped.Inc()
}

// RecordNoticeDelivered counts a delivered notice.
func RecordNoticeDelivered() {
	globalManager.noticesDelivered.Inc()
}

// UpdateLiveClients sets the number of websocket clients.
func UpdateLiveClients(n int) {
	globalManager.liveClients.Set(float64(n))
}

// HTTP.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the registry holding the service metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
