package ranker

import (
	"github.com/okian/ranktree/pkg/logger"
	"github.com/okian/ranktree/pkg/metrics"
)

// Option applies a configuration option to a Ranker.
type Option func(*Ranker)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Ranker) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMaxMutationsPerTransaction caps the number of mutations committed per
// backend transaction. Larger updates are split into several transactions.
func WithMaxMutationsPerTransaction(n int) Option {
	return func(r *Ranker) {
		if n > 0 {
			r.maxMutations = n
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(r *Ranker) {
		if m != nil {
			r.metrics = m
		}
	}
}
