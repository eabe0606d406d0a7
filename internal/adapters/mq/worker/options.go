package worker

import (
	"github.com/okian/ranktree/pkg/logger"
	"github.com/okian/ranktree/pkg/metrics"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithBatchSize sets how many queued submissions one SetScores call may
// cover.
func WithBatchSize(n int) Option {
	return func(w *InMemoryWorker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(w *InMemoryWorker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithBatchHook registers a function called after every applied batch.
func WithBatchHook(fn BatchHook) Option {
	return func(w *InMemoryWorker) {
		w.hook = fn
	}
}

func withSequencer(seq *sequencer) Option {
	return func(w *InMemoryWorker) {
		w.seq = seq
	}
}
