package repository

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// defaultMemoryMaxMutations mirrors the small transaction limits of hosted
// document stores so chunking is exercised by default.
const defaultMemoryMaxMutations = 500

// BackendStats counts calls made against a MemoryBackend.
type BackendStats struct {
	Gets      int64
	MultiGets int64
	Applies   int64
	Mutations int64
}

// Reads returns the total number of read calls.
func (s BackendStats) Reads() int64 { return s.Gets + s.MultiGets }

// MemoryBackend is an in-process Backend. Apply holds the write lock for the
// whole batch, which makes each call atomic with respect to readers.
type MemoryBackend struct {
	mu           sync.RWMutex
	data         map[string][]byte
	maxMutations int
	closed       bool

	gets      atomic.Int64
	multiGets atomic.Int64
	applies   atomic.Int64
	mutations atomic.Int64
}

// NewMemoryBackend constructs an empty in-memory backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{
		data:         make(map[string][]byte),
		maxMutations: defaultMemoryMaxMutations,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Get implements Backend.
func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.gets.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBackendClosed
	}
	v, ok := b.data[key]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	return bytes.Clone(v), nil
}

// GetMulti implements Backend.
func (b *MemoryBackend) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.multiGets.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBackendClosed
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := b.data[k]; ok {
			out[k] = bytes.Clone(v)
		}
	}
	return out, nil
}

// Apply implements Backend.
func (b *MemoryBackend) Apply(ctx context.Context, muts []Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.maxMutations > 0 && len(muts) > b.maxMutations {
		return fmt.Errorf("%d mutations, limit %d: %w", len(muts), b.maxMutations, ErrTooManyWrites)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	for _, m := range muts {
		if m.Delete {
			delete(b.data, m.Key)
			continue
		}
		b.data[m.Key] = bytes.Clone(m.Value)
	}
	b.applies.Add(1)
	b.mutations.Add(int64(len(muts)))
	return nil
}

// MaxMutations implements Backend.
func (b *MemoryBackend) MaxMutations() int { return b.maxMutations }

// Close implements Backend. Further calls fail with ErrBackendClosed.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Len returns the number of stored documents.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Stats returns call counters since construction or the last ResetStats.
func (b *MemoryBackend) Stats() BackendStats {
	return BackendStats{
		Gets:      b.gets.Load(),
		MultiGets: b.multiGets.Load(),
		Applies:   b.applies.Load(),
		Mutations: b.mutations.Load(),
	}
}

// ResetStats zeroes the call counters.
func (b *MemoryBackend) ResetStats() {
	b.gets.Store(0)
	b.multiGets.Store(0)
	b.applies.Store(0)
	b.mutations.Store(0)
}
