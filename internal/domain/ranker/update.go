package ranker

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/okian/ranktree/internal/adapters/repository"
	"github.com/okian/ranktree/internal/domain/tree"
	"github.com/okian/ranktree/pkg/logger"
)

// UpdateResult summarizes what a SetScores call changed.
type UpdateResult struct {
	Inserted  int
	Updated   int
	Removed   int
	Unchanged int
}

// Changed returns the number of entities whose score record was written.
func (u UpdateResult) Changed() int { return u.Inserted + u.Updated + u.Removed }

// Increment applies count deltas to the tree and writes the given score
// record upserts and deletes along with them. Zero deltas are dropped. Nodes
// not yet stored start from all-zero counts. If any count would become
// negative the call fails with ErrCorruptState and nothing is written.
func (r *Ranker) Increment(ctx context.Context, deltas map[tree.NodeChild]int64, upserts []repository.ScoreRecord, deletes []string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.increment(ctx, deltas, upserts, deletes)
}

// increment requires writeMu.
func (r *Ranker) increment(ctx context.Context, deltas map[tree.NodeChild]int64, upserts []repository.ScoreRecord, deletes []string) error {
	b := r.def.BranchingFactor
	ids := make([]uint64, 0, len(deltas))
	seen := make(map[uint64]struct{}, len(deltas))
	for nc, d := range deltas {
		if d == 0 {
			continue
		}
		if nc.Child < 0 || nc.Child >= b {
			return fmt.Errorf("increment node %d child %d: child index outside [0,%d): %w", nc.NodeID, nc.Child, b, ErrOutOfRange)
		}
		if _, ok := seen[nc.NodeID]; !ok {
			seen[nc.NodeID] = struct{}{}
			ids = append(ids, nc.NodeID)
		}
	}
	if len(ids) == 0 && len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}
	slices.Sort(ids)

	nodes, err := r.store.GetNodes(ctx, ids)
	if err != nil {
		return fmt.Errorf("increment: %w", err)
	}

	touched := make([]*repository.Node, 0, len(ids))
	for _, id := range ids {
		n, ok := nodes[id]
		if !ok {
			n = &repository.Node{ID: id, ChildCounts: make([]int64, b)}
			nodes[id] = n
		}
		if int64(len(n.ChildCounts)) != b {
			r.corrupt(ctx, id, -1, int64(len(n.ChildCounts)))
			return fmt.Errorf("increment: node %d has %d child counts, want %d: %w", id, len(n.ChildCounts), b, ErrCorruptState)
		}
		touched = append(touched, n)
	}

	for nc, d := range deltas {
		if d == 0 {
			continue
		}
		n := nodes[nc.NodeID]
		next := n.ChildCounts[nc.Child] + d
		if next < 0 {
			r.corrupt(ctx, nc.NodeID, nc.Child, next)
			return fmt.Errorf("increment: node %d child %d would drop to %d: %w", nc.NodeID, nc.Child, next, ErrCorruptState)
		}
		n.ChildCounts[nc.Child] = next
	}

	if err := r.store.PutAll(ctx, touched, upserts, deletes); err != nil {
		return fmt.Errorf("increment: %w", err)
	}
	return nil
}

func (r *Ranker) corrupt(ctx context.Context, id uint64, child, value int64) {
	r.metrics.RecordCorruptState()
	r.logger.Warn(ctx, "refusing to persist corrupt node",
		logger.String("handle", string(r.handle)),
		logger.Uint64("node", id),
		logger.Int64("child", child),
		logger.Int64("value", value),
	)
}

// SetScore sets the score of one entity. A nil score removes it.
func (r *Ranker) SetScore(ctx context.Context, name string, score tree.Score) (UpdateResult, error) {
	return r.SetScores(ctx, map[string]tree.Score{name: score})
}

// SetScores sets the scores of several entities in one tree update. A nil
// score removes the entity. Entities whose score does not change are not
// written. Every new score is checked against the definition before the
// backend is touched.
func (r *Ranker) SetScores(ctx context.Context, changes map[string]tree.Score) (UpdateResult, error) {
	var res UpdateResult
	if len(changes) == 0 {
		return res, nil
	}
	start := time.Now()
	defer func() {
		r.metrics.RecordOperationLatency("set_scores", float64(time.Since(start).Milliseconds()))
	}()

	names := slices.Sorted(maps.Keys(changes))
	for _, name := range names {
		if s := changes[name]; s != nil {
			if err := r.def.Contains(s); err != nil {
				return res, fmt.Errorf("set score of %q: %w", name, err)
			}
		}
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	prior, err := r.store.GetScores(ctx, names)
	if err != nil {
		return res, fmt.Errorf("set scores: %w", err)
	}

	buckets := make(map[string]int64)
	values := make(map[string]tree.Score)
	bump := func(s tree.Score, d int64) {
		k := s.Key()
		buckets[k] += d
		values[k] = s
	}

	var (
		upserts []repository.ScoreRecord
		deletes []string
	)
	for _, name := range names {
		next := changes[name]
		prev, had := prior[name]
		switch {
		case !had && next == nil:
			res.Unchanged++
			continue
		case had && next != nil && prev.Value.Equal(next):
			res.Unchanged++
			continue
		}

		if had {
			bump(prev.Value, -1)
		}
		if next == nil {
			deletes = append(deletes, name)
			res.Removed++
			continue
		}
		bump(next, 1)
		upserts = append(upserts, repository.ScoreRecord{Name: name, Value: next.Clone()})
		if had {
			res.Updated++
		} else {
			res.Inserted++
		}
	}
	if res.Changed() == 0 {
		return res, nil
	}

	deltas := make(map[tree.NodeChild]int64)
	for k, d := range buckets {
		if d == 0 {
			continue
		}
		path, err := r.def.FindNodeIDs(values[k])
		if err != nil {
			// Only a stored record can fail here; new scores were checked above.
			return res, fmt.Errorf("set scores: stored score %s: %w: %w", k, ErrCorruptState, err)
		}
		for _, nc := range path {
			deltas[nc] += d
		}
	}

	if err := r.increment(ctx, deltas, upserts, deletes); err != nil {
		return res, fmt.Errorf("set scores: %w", err)
	}

	r.metrics.RecordSetScores(len(changes))
	r.metrics.RecordScoreChange("inserted", res.Inserted)
	r.metrics.RecordScoreChange("updated", res.Updated)
	r.metrics.RecordScoreChange("removed", res.Removed)
	r.logger.Debug(ctx, "scores applied",
		logger.String("handle", string(r.handle)),
		logger.Int("inserted", res.Inserted),
		logger.Int("updated", res.Updated),
		logger.Int("removed", res.Removed),
		logger.Int("unchanged", res.Unchanged),
		logger.Int("nodes", len(deltas)),
	)
	return res, nil
}
