// Package metrics provides Prometheus metrics for the ranktree service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the ranktree service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Ranker core
	scoreChanges      *prometheus.CounterVec
	corruptState      prometheus.Counter
	operationLatency  *prometheus.HistogramVec
	rankedScores      prometheus.Gauge
	setScoresBatches  prometheus.Counter
	setScoresEntities prometheus.Histogram

	// Backend access
	backendReads       prometheus.Counter
	backendKeysRead    prometheus.Counter
	backendWrites      prometheus.Counter
	backendMutations   prometheus.Counter
	transactionChunks  prometheus.Counter
	partialWrites      prometheus.Counter
	backendLatency     *prometheus.HistogramVec
	backendErrorsTotal *prometheus.CounterVec

	// Submission pipeline
	submissionsAccepted  prometheus.Counter
	submissionsDuplicate prometheus.Counter
	queueSize            prometheus.Gauge
	queueCapacity        prometheus.Gauge
	queueUtilization     prometheus.Gauge
	queueEnqueued        prometheus.Counter
	queueDequeued        prometheus.Counter
	queueEnqueueErrors   prometheus.Counter
	workerCount          prometheus.Gauge
	workerBatches        prometheus.Counter
	workerBatchSize      prometheus.Histogram
	workerErrors         prometheus.Counter
	workerLatency        prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ranktree",
		subsystem:        "ranker",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// RefreshInterval returns how often gauges sampled from outside should be refreshed.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// Enabled reports whether recording is active.
func (m *Manager) Enabled() bool { return m.enabled }

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels, Buckets: buckets,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	batchBuckets := []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}

	m.scoreChanges = m.counterVec("score_changes_total", "Entity score changes applied by SetScores, by kind", "kind")
	m.corruptState = m.counter("corrupt_state_total", "SetScores calls aborted because a child count would go negative")
	m.operationLatency = m.histogramVec("operation_latency_milliseconds", "Latency of ranker operations in milliseconds", "op")
	m.rankedScores = m.gauge("ranked_scores", "Number of scores currently tracked by the ranker")
	m.setScoresBatches = m.counter("set_scores_total", "Total number of SetScores calls that issued writes")
	m.setScoresEntities = m.histogram("set_scores_entities", "Entities per SetScores call", batchBuckets)

	m.backendReads = m.counter("backend_reads_total", "Backend read calls")
	m.backendKeysRead = m.counter("backend_keys_read_total", "Keys requested from the backend")
	m.backendWrites = m.counter("backend_writes_total", "Backend transactions committed")
	m.backendMutations = m.counter("backend_mutations_total", "Mutations committed to the backend")
	m.transactionChunks = m.counter("transaction_chunks_total", "Transactions issued by chunked PutAll calls")
	m.partialWrites = m.counter("partial_writes_total", "PutAll calls that failed after committing at least one chunk")
	m.backendLatency = m.histogramVec("backend_latency_milliseconds", "Backend call latency in milliseconds", "call")
	m.backendErrorsTotal = m.counterVec("backend_errors_total", "Backend call failures", "call")

	m.submissionsAccepted = m.counter("submissions_accepted_total", "Score submissions accepted for asynchronous processing")
	m.submissionsDuplicate = m.counter("submissions_duplicate_total", "Score submissions dropped as duplicates")
	m.queueSize = m.gauge("queue_size", "Current size of the submission queue")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the submission queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Submission queue utilization (0-1)")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Submissions enqueued")
	m.queueDequeued = m.counter("queue_dequeued_total", "Submissions dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Submissions rejected by the queue")
	m.workerCount = m.gauge("worker_count", "Number of submission workers")
	m.workerBatches = m.counter("worker_batches_total", "Batches applied by submission workers")
	m.workerBatchSize = m.histogram("worker_batch_size", "Submissions per worker batch", batchBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Worker batches that failed to apply")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Worker batch processing latency in milliseconds", m.histogramBuckets)

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that ended in an error", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}
