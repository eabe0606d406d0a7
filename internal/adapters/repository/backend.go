// Package repository persists ranker trees in a transactional key-value
// backend. It owns the key layout, the document encoding and the chunking
// of writes to the backend's per-transaction mutation limit.
package repository

import (
	"context"
	"net/url"
)

// Mutation is one write inside a backend transaction. Delete removes Key and
// ignores Value.
type Mutation struct {
	Key    string
	Value  []byte
	Delete bool
}

// Backend is the key-value engine a ranker is layered on. Implementations
// must be comparable; rankers key their write locks by backend value.
type Backend interface {
	// Get returns the document at key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// GetMulti returns the documents present among keys; absent keys are omitted.
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)
	// Apply commits all mutations atomically. It fails with ErrTooManyWrites
	// when len(muts) exceeds MaxMutations.
	Apply(ctx context.Context, muts []Mutation) error
	// MaxMutations is the per-transaction mutation limit; 0 means unlimited.
	MaxMutations() int
	Close() error
}

// CreateKey derives a stable key for localName of the given namespace under
// parent. An empty parent yields a top-level key. Local names are
// path-escaped so a key never needs a secondary index to be found again.
func CreateKey(namespace, parent, localName string) string {
	k := namespace + ":" + url.PathEscape(localName)
	if parent == "" {
		return k
	}
	return parent + "/" + k
}
