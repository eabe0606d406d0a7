// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/okian/ranktree/internal/domain/tree"
)

// Submission is one requested score change for an entity.
type Submission struct {
	ID         string     // unique id for idempotency
	Entity     string     // ranked entity name
	Score      tree.Score // new score; nil removes the entity
	ReceivedAt time.Time
}

// IsRemoval reports whether the submission removes the entity.
func (s Submission) IsRemoval() bool { return s.Score == nil }

// Coalesce folds submissions into one score change per entity. For each
// entity the most recently received submission wins; submissions with equal
// ReceivedAt keep their input order.
func Coalesce(subs []Submission) map[string]tree.Score {
	latest := make(map[string]Submission, len(subs))
	for _, s := range subs {
		if prev, ok := latest[s.Entity]; ok && s.ReceivedAt.Before(prev.ReceivedAt) {
			continue
		}
		latest[s.Entity] = s
	}
	out := make(map[string]tree.Score, len(latest))
	for entity, s := range latest {
		out[entity] = s.Score
	}
	return out
}
