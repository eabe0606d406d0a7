package repository

import (
	"time"

	"github.com/okian/ranktree/pkg/logger"
	"github.com/okian/ranktree/pkg/metrics"
)

// StoreOption applies a configuration option to the NodeStore.
type StoreOption func(*NodeStore)

// WithMaxMutationsPerTransaction caps the mutations per committed chunk.
// The effective limit is the smaller of this value and the backend's own.
func WithMaxMutationsPerTransaction(n int) StoreOption {
	return func(s *NodeStore) {
		if n > 0 {
			s.maxMutations = n
		}
	}
}

// WithLogger sets the logger used to report partial writes.
func WithLogger(l logger.Logger) StoreOption {
	return func(s *NodeStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) StoreOption {
	return func(s *NodeStore) {
		if m != nil {
			s.metrics = m
		}
	}
}

// MemoryOption applies a configuration option to the MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithMemoryMaxMutations sets the per-transaction mutation limit.
func WithMemoryMaxMutations(n int) MemoryOption {
	return func(b *MemoryBackend) {
		if n >= 0 {
			b.maxMutations = n
		}
	}
}

// BoltOption applies a configuration option to the BoltBackend.
type BoltOption func(*BoltBackend)

// WithBoltBucket sets the bucket documents are kept in.
func WithBoltBucket(bucket string) BoltOption {
	return func(b *BoltBackend) {
		if bucket != "" {
			b.bucket = []byte(bucket)
		}
	}
}

// WithBoltMaxMutations sets the per-transaction mutation limit.
func WithBoltMaxMutations(n int) BoltOption {
	return func(b *BoltBackend) {
		if n >= 0 {
			b.maxMutations = n
		}
	}
}

// WithBoltOpenTimeout bounds how long Open waits for the file lock.
func WithBoltOpenTimeout(d time.Duration) BoltOption {
	return func(b *BoltBackend) {
		if d > 0 {
			b.openTimeout = d
		}
	}
}
