// Package ranker maintains a counting tree over a bounded integer score space
// in a transactional key-value backend and answers rank and inverse-rank
// queries in O(log_b(range)) backend round trips.
//
// Every node stores, per child, how many tracked scores fall into that
// child's sub-range. The rank of a score is the sum of the counts of all
// children to its right along its root-to-leaf path.
//
// Writes to one ranker are serialized in process: every Ranker opened on the
// same backend and handle shares one write lock, held from the read of the
// prior state to the last committed transaction. Readers take no lock.
// Writes that need more than one transaction are not atomic as a whole, and
// concurrent readers may observe the intermediate state.
package ranker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/okian/ranktree/internal/adapters/repository"
	"github.com/okian/ranktree/internal/domain/tree"
	"github.com/okian/ranktree/pkg/logger"
	"github.com/okian/ranktree/pkg/metrics"
)

const rankerNamespace = "ranker"

// Handle is the serializable reference to a ranker; it is the key of the
// ranker's definition document.
type Handle string

// HandleFor returns the handle of the ranker created with definitionName.
func HandleFor(definitionName string) Handle {
	return Handle(repository.CreateKey(rankerNamespace, "", definitionName))
}

type lockKey struct {
	backend repository.Backend
	handle  Handle
}

var writeLocks sync.Map // lockKey -> *sync.Mutex

func writeLock(backend repository.Backend, handle Handle) *sync.Mutex {
	mu, _ := writeLocks.LoadOrStore(lockKey{backend: backend, handle: handle}, new(sync.Mutex))
	return mu.(*sync.Mutex)
}

// Ranker is a counting tree bound to one backend.
type Ranker struct {
	def     tree.Definition
	handle  Handle
	store   *repository.NodeStore
	writeMu *sync.Mutex

	maxMutations int
	logger       logger.Logger
	metrics      *metrics.Manager
}

// Create validates and stores a new ranker definition under definitionName.
// Creating an existing name again with the same definition returns the
// existing ranker; a different definition fails with ErrDefinitionConflict.
func Create(ctx context.Context, backend repository.Backend, definitionName string, scoreRange []int64, branchingFactor int64, opts ...Option) (*Ranker, error) {
	def, err := tree.NewDefinition(scoreRange, branchingFactor)
	if err != nil {
		return nil, fmt.Errorf("create ranker %q: %w", definitionName, err)
	}
	handle := HandleFor(definitionName)

	existing, err := repository.GetDefinition(ctx, backend, string(handle))
	switch {
	case err == nil:
		if !existing.Equal(def) {
			return nil, fmt.Errorf("create ranker %q: stored %v/%d, requested %v/%d: %w",
				definitionName, existing.Pairs(), existing.BranchingFactor, def.Pairs(), def.BranchingFactor, ErrDefinitionConflict)
		}
	case errors.Is(err, repository.ErrNotFound):
		if err := repository.PutDefinition(ctx, backend, string(handle), def); err != nil {
			return nil, fmt.Errorf("create ranker %q: %w", definitionName, err)
		}
	default:
		return nil, fmt.Errorf("create ranker %q: %w", definitionName, err)
	}

	r := newRanker(backend, handle, def, opts...)
	r.logger.Debug(ctx, "ranker ready",
		logger.String("handle", string(handle)),
		logger.Any("score_range", def.Pairs()),
		logger.Int64("branching_factor", def.BranchingFactor),
	)
	return r, nil
}

// Load opens the ranker referenced by handle. It fails with ErrNotFound when
// no definition is stored there and with ErrInvalidDefinition when the
// stored definition is malformed.
func Load(ctx context.Context, backend repository.Backend, handle Handle, opts ...Option) (*Ranker, error) {
	def, err := repository.GetDefinition(ctx, backend, string(handle))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load ranker %q: %w: %w", handle, ErrNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("load ranker %q: %w", handle, err)
	}
	return newRanker(backend, handle, def, opts...), nil
}

func newRanker(backend repository.Backend, handle Handle, def tree.Definition, opts ...Option) *Ranker {
	r := &Ranker{
		def:     def,
		handle:  handle,
		writeMu: writeLock(backend, handle),
		logger:  logger.Nop(),
		metrics: metrics.Global(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.store = repository.NewNodeStore(backend, string(handle),
		repository.WithMaxMutationsPerTransaction(r.maxMutations),
		repository.WithLogger(r.logger),
		repository.WithMetrics(r.metrics),
	)
	return r
}

// Handle returns the reference needed to Load this ranker again.
func (r *Ranker) Handle() Handle { return r.handle }

// Definition returns the tree shape of this ranker.
func (r *Ranker) Definition() tree.Definition {
	return tree.Definition{
		ScoreRange:      slices.Clone(r.def.ScoreRange),
		BranchingFactor: r.def.BranchingFactor,
	}
}
