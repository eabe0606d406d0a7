package ranker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/ranktree/internal/adapters/repository"
	"github.com/okian/ranktree/internal/domain/tree"
)

// FindRank returns the number of tracked scores strictly higher than score.
// The score does not have to be held by any entity.
func (r *Ranker) FindRank(ctx context.Context, score tree.Score) (int64, error) {
	ranks, err := r.FindRanks(ctx, []tree.Score{score})
	if err != nil {
		return 0, err
	}
	return ranks[0], nil
}

// FindRanks returns the rank of each score. All paths are resolved before
// any read, and the union of their nodes is fetched in one batch.
func (r *Ranker) FindRanks(ctx context.Context, scores []tree.Score) ([]int64, error) {
	start := time.Now()
	defer func() {
		r.metrics.RecordOperationLatency("find_ranks", float64(time.Since(start).Milliseconds()))
	}()

	paths := make([][]tree.NodeChild, len(scores))
	var ids []uint64
	for i, s := range scores {
		path, err := r.def.FindNodeIDs(s)
		if err != nil {
			return nil, fmt.Errorf("find rank of %s: %w", s, err)
		}
		paths[i] = path
		for _, nc := range path {
			ids = append(ids, nc.NodeID)
		}
	}

	nodes, err := r.store.GetNodes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find ranks: %w", err)
	}

	ranks := make([]int64, len(scores))
	for i, path := range paths {
		var rank int64
		for _, nc := range path {
			n, ok := nodes[nc.NodeID]
			if !ok {
				// Nodes are created top-down, so nothing below an absent node exists.
				break
			}
			for j := nc.Child + 1; j < int64(len(n.ChildCounts)); j++ {
				rank += n.ChildCounts[j]
			}
		}
		ranks[i] = rank
	}
	return ranks, nil
}

// FindScore returns the score at position rank in descending order, and the
// rank shared by every entity holding that score. It fails with ErrNotFound
// when rank is negative or not below TotalRankedScores.
func (r *Ranker) FindScore(ctx context.Context, rank int64) (tree.Score, int64, error) {
	start := time.Now()
	defer func() {
		r.metrics.RecordOperationLatency("find_score", float64(time.Since(start).Milliseconds()))
	}()
	return r.findScore(ctx, rank, false)
}

// FindScoreApproximate behaves like FindScore but stops descending as soon
// as no higher scores remain to be skipped, and returns the highest score of
// the sub-range reached. The result is an upper bound of the exact score and
// the tie rank is exact for that bound. Rank 0 is answered without reading
// the backend. Callers use it to bound a top-N query cheaply.
func (r *Ranker) FindScoreApproximate(ctx context.Context, rank int64) (tree.Score, int64, error) {
	start := time.Now()
	defer func() {
		r.metrics.RecordOperationLatency("find_score_approximate", float64(time.Since(start).Milliseconds()))
	}()
	if rank == 0 {
		return r.def.MaxScore(), 0, nil
	}
	return r.findScore(ctx, rank, true)
}

func (r *Ranker) findScore(ctx context.Context, rank int64, approximate bool) (tree.Score, int64, error) {
	if rank < 0 {
		return nil, 0, fmt.Errorf("find score at rank %d: %w", rank, ErrNotFound)
	}

	ranges := r.def.ScoreRange
	budget := rank
	var (
		id      uint64
		skipped int64
	)
	for {
		n, err := r.store.GetNode(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			if id == 0 {
				return nil, 0, fmt.Errorf("find score at rank %d: empty ranker: %w", rank, ErrNotFound)
			}
			return nil, 0, fmt.Errorf("find score at rank %d: node %d counted but missing: %w", rank, id, ErrCorruptState)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("find score at rank %d: %w", rank, err)
		}
		if int64(len(n.ChildCounts)) != r.def.BranchingFactor {
			return nil, 0, fmt.Errorf("find score at rank %d: node %d has %d child counts: %w", rank, id, len(n.ChildCounts), ErrCorruptState)
		}

		child := int64(-1)
		for i := r.def.BranchingFactor - 1; i >= 0; i-- {
			c := n.ChildCounts[i]
			if c > budget {
				child = i
				break
			}
			budget -= c
			skipped += c
		}
		if child < 0 {
			if id == 0 {
				return nil, 0, fmt.Errorf("find score at rank %d: only %d ranked: %w", rank, skipped, ErrNotFound)
			}
			return nil, 0, fmt.Errorf("find score at rank %d: node %d holds fewer scores than its parent counts: %w", rank, id, ErrCorruptState)
		}

		next, err := r.def.ChildScoreRange(ranges, child)
		if err != nil {
			return nil, 0, fmt.Errorf("find score at rank %d: %w", rank, err)
		}
		if tree.IsSingleton(next) || (approximate && budget == 0) {
			return tree.Highest(next), skipped, nil
		}
		ranges = next
		id = r.def.ChildNodeID(id, child)
	}
}

// TotalRankedScores returns the number of tracked scores.
func (r *Ranker) TotalRankedScores(ctx context.Context) (int64, error) {
	n, err := r.store.GetNode(ctx, 0)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("total ranked scores: %w", err)
	}
	total := n.Total()
	r.metrics.UpdateRankedScores(total)
	return total, nil
}

// GetScore returns the current score of name, or ErrNotFound.
func (r *Ranker) GetScore(ctx context.Context, name string) (tree.Score, error) {
	rec, err := r.store.GetScore(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("score of %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("score of %q: %w", name, err)
	}
	return rec.Value, nil
}

// FindEntityRank returns the rank and current score of name, or ErrNotFound
// when name is not tracked.
func (r *Ranker) FindEntityRank(ctx context.Context, name string) (int64, tree.Score, error) {
	score, err := r.GetScore(ctx, name)
	if err != nil {
		return 0, nil, err
	}
	rank, err := r.FindRank(ctx, score)
	if err != nil {
		return 0, nil, err
	}
	return rank, score, nil
}
