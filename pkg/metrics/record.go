package metrics

import (
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Ranker Metrics Functions.

// RecordScoreChange counts one entity change of the given kind
// (inserted, updated, removed, unchanged).
func (m *Manager) RecordScoreChange(kind string, n int) {
	if !m.enabled || n == 0 {
		return
	}
	m.scoreChanges.WithLabelValues(kind).Add(float64(n))
}

// RecordSetScores records one SetScores call that touched entities.
func (m *Manager) RecordSetScores(entities int) {
	if !m.enabled {
		return
	}
	m.setScoresBatches.Inc()
	m.setScoresEntities.Observe(float64(entities))
}

// RecordCorruptState counts an aborted update caused by a negative count.
func (m *Manager) RecordCorruptState() {
	if m.enabled {
		m.corruptState.Inc()
	}
}

// RecordOperationLatency records a ranker operation latency in milliseconds.
func (m *Manager) RecordOperationLatency(op string, latencyMs float64) {
	if m.enabled {
		m.operationLatency.WithLabelValues(op).Observe(latencyMs)
	}
}

// UpdateRankedScores sets the number of tracked scores.
func (m *Manager) UpdateRankedScores(count int64) {
	if m.enabled {
		m.rankedScores.Set(float64(count))
	}
}

// Backend Metrics Functions.

// RecordBackendRead records one read call for the given number of keys.
func (m *Manager) RecordBackendRead(keys int, latencyMs float64) {
	if !m.enabled {
		return
	}
	m.backendReads.Inc()
	m.backendKeysRead.Add(float64(keys))
	m.backendLatency.WithLabelValues("read").Observe(latencyMs)
}

// RecordBackendWrite records one committed transaction.
func (m *Manager) RecordBackendWrite(mutations int, latencyMs float64) {
	if !m.enabled {
		return
	}
	m.backendWrites.Inc()
	m.backendMutations.Add(float64(mutations))
	m.backendLatency.WithLabelValues("write").Observe(latencyMs)
}

// RecordBackendError counts a failed backend call.
func (m *Manager) RecordBackendError(call string) {
	if m.enabled {
		m.backendErrorsTotal.WithLabelValues(call).Inc()
	}
}

// RecordTransactionChunk counts one chunk issued by a chunked write.
func (m *Manager) RecordTransactionChunk() {
	if m.enabled {
		m.transactionChunks.Inc()
	}
}

// RecordPartialWrite counts a chunked write that failed after a commit.
func (m *Manager) RecordPartialWrite() {
	if m.enabled {
		m.partialWrites.Inc()
	}
}

// Submission Metrics Functions.

// RecordSubmissionAccepted counts an accepted submission.
func (m *Manager) RecordSubmissionAccepted() {
	if m.enabled {
		m.submissionsAccepted.Inc()
	}
}

// RecordSubmissionDuplicate counts a duplicate submission.
func (m *Manager) RecordSubmissionDuplicate() {
	if m.enabled {
		m.submissionsDuplicate.Inc()
	}
}

// UpdateQueue sets queue size, capacity and utilization in one call.
func (m *Manager) UpdateQueue(size, capacity int) {
	if !m.enabled {
		return
	}
	m.queueSize.Set(float64(size))
	m.queueCapacity.Set(float64(capacity))
	if capacity > 0 {
		m.queueUtilization.Set(float64(size) / float64(capacity))
	}
}

// RecordQueueEnqueue increments the enqueue counter.
func (m *Manager) RecordQueueEnqueue() {
	if m.enabled {
		m.queueEnqueued.Inc()
	}
}

// RecordQueueDequeue increments the dequeue counter.
func (m *Manager) RecordQueueDequeue() {
	if m.enabled {
		m.queueDequeued.Inc()
	}
}

// RecordQueueEnqueueError increments the enqueue error counter.
func (m *Manager) RecordQueueEnqueueError() {
	if m.enabled {
		m.queueEnqueueErrors.Inc()
	}
}

// UpdateWorkerCount sets the current worker count.
func (m *Manager) UpdateWorkerCount(count int) {
	if m.enabled {
		m.workerCount.Set(float64(count))
	}
}

// RecordWorkerBatch records one applied batch and its latency.
func (m *Manager) RecordWorkerBatch(size int, latencyMs float64) {
	if !m.enabled {
		return
	}
	m.workerBatches.Inc()
	m.workerBatchSize.Observe(float64(size))
	m.workerLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func (m *Manager) RecordWorkerError() {
	if m.enabled {
		m.workerErrors.Inc()
	}
}

// HTTP and Error Metrics Functions.

// RecordHTTPRequest records an HTTP request and its duration.
func (m *Manager) RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func (m *Manager) RecordErrorByComponent(component, errorType string) {
	if m.enabled {
		m.errorRateByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// RecordErrorByType records an error with type and severity labels.
func (m *Manager) RecordErrorByType(errorType, severity string) {
	if m.enabled {
		m.errorRateByType.WithLabelValues(errorType, severity).Inc()
	}
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func (m *Manager) RecordErrorByEndpoint(endpoint, method, errorType string) {
	if m.enabled {
		m.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func (m *Manager) RecordErrorLatency(component, errorType string, latencyMs float64) {
	if m.enabled {
		m.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
	}
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func (m *Manager) UpdateSystemMemoryUsage(bytes uint64) {
	if m.enabled {
		m.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func (m *Manager) UpdateSystemGoroutineCount(count int) {
	if m.enabled {
		m.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func (m *Manager) RecordSystemGCPauseTime(pauseMs float64) {
	if m.enabled {
		m.systemGCPauseTime.Observe(pauseMs)
	}
}

var globalMu sync.RWMutex //nolint:gochecknoglobals // guards globalManager and customRegistry

// Global returns the process-wide manager backing the package-level functions.
func Global() *Manager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalManager
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return customRegistry
}

// Configure replaces the global manager with one built from opts on a fresh
// registry and returns it. Components that already hold the previous
// manager keep recording into it, so call Configure before wiring them.
func Configure(opts ...Option) *Manager {
	reg := prometheus.NewRegistry()
	m := NewManager(append(slices.Clone(opts), WithPrometheusRegistry(reg))...)

	globalMu.Lock()
	defer globalMu.Unlock()
	globalManager, customRegistry = m, reg
	return m
}
