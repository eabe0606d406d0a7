package service

import (
	"github.com/okian/ranktree/internal/adapters/repository"
	"github.com/okian/ranktree/pkg/logger"
	"github.com/okian/ranktree/pkg/metrics"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the submission queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the idempotency set.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithBatchSize sets how many submissions a worker applies per tree update.
func WithBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithBackend sets the storage backend. The caller keeps ownership and
// closes it. Without one the service uses a private memory backend.
func WithBackend(b repository.Backend) Option {
	return func(s *Service) {
		if b != nil {
			s.backend = b
		}
	}
}

// WithRanker selects the ranker name and tree shape.
func WithRanker(name string, scoreRange []int64, branchingFactor int64) Option {
	return func(s *Service) {
		if name != "" {
			s.rankerName = name
		}
		if len(scoreRange) > 0 {
			s.scoreRange = append([]int64(nil), scoreRange...)
		}
		if branchingFactor > 0 {
			s.branchingFactor = branchingFactor
		}
	}
}

// WithMaxMutationsPerTransaction caps the mutations per backend transaction.
func WithMaxMutationsPerTransaction(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxMutations = n
		}
	}
}
