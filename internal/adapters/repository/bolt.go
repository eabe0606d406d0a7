package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultBoltPath is the database file used when no path is configured.
	DefaultBoltPath = "ranktree.db"

	// DefaultBoltBucket is the bucket documents are stored in.
	DefaultBoltBucket = "ranktree"

	defaultBoltOpenTimeout = 5 * time.Second
)

// BoltBackend is a durable Backend on a single bbolt file. Every Apply runs
// in one bolt write transaction, so a chunk is committed or rolled back as a
// whole. Reads use read-only transactions and never block each other.
type BoltBackend struct {
	db           *bolt.DB
	path         string
	bucket       []byte
	maxMutations int
	openTimeout  time.Duration
}

// OpenBoltBackend opens (or creates) the database at path and ensures the
// bucket exists.
func OpenBoltBackend(path string, opts ...BoltOption) (*BoltBackend, error) {
	b := &BoltBackend{
		path:        strings.TrimSpace(path),
		bucket:      []byte(DefaultBoltBucket),
		openTimeout: defaultBoltOpenTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.path == "" {
		b.path = DefaultBoltPath
	}

	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: b.openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt database %q: %w", b.path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(b.bucket); err != nil {
			return fmt.Errorf("create bucket %q: %w", b.bucket, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	b.db = db
	return b, nil
}

// Path returns the database file path.
func (b *BoltBackend) Path() string { return b.path }

// Get implements Backend.
func (b *BoltBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return fmt.Errorf("bucket %q not found", b.bucket)
		}
		// Bolt values are only valid inside the transaction.
		value = bytes.Clone(bucket.Get([]byte(key)))
		return nil
	})
	if err != nil {
		return nil, mapBoltErr(err)
	}
	if value == nil {
		return nil, fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	return value, nil
}

// GetMulti implements Backend. All keys are read in one transaction.
func (b *BoltBackend) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return fmt.Errorf("bucket %q not found", b.bucket)
		}
		for _, k := range keys {
			if v := bucket.Get([]byte(k)); v != nil {
				out[k] = bytes.Clone(v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapBoltErr(err)
	}
	return out, nil
}

// Apply implements Backend.
func (b *BoltBackend) Apply(ctx context.Context, muts []Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.maxMutations > 0 && len(muts) > b.maxMutations {
		return fmt.Errorf("%d mutations, limit %d: %w", len(muts), b.maxMutations, ErrTooManyWrites)
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.bucket)
		if bucket == nil {
			return fmt.Errorf("bucket %q not found", b.bucket)
		}
		for _, m := range muts {
			var err error
			if m.Delete {
				err = bucket.Delete([]byte(m.Key))
			} else {
				err = bucket.Put([]byte(m.Key), m.Value)
			}
			if err != nil {
				return fmt.Errorf("mutate %q: %w", m.Key, err)
			}
		}
		return nil
	})
	return mapBoltErr(err)
}

// MaxMutations implements Backend.
func (b *BoltBackend) MaxMutations() int { return b.maxMutations }

// Close implements Backend.
func (b *BoltBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func mapBoltErr(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return fmt.Errorf("%w: %w", ErrBackendClosed, err)
	}
	return err
}
