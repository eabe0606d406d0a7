package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/okian/ranktree/internal/domain/tree"
)

type definitionDoc struct {
	ScoreRange      []int64 `json:"score_range"`
	BranchingFactor int64   `json:"branching_factor"`
}

// GetDefinition reads the ranker definition stored at rootKey. It returns
// ErrNotFound when nothing is stored there and an error wrapping both
// ErrDecode and tree.ErrInvalidDefinition when the document is malformed.
func GetDefinition(ctx context.Context, backend Backend, rootKey string) (tree.Definition, error) {
	raw, err := backend.Get(ctx, rootKey)
	if err != nil {
		return tree.Definition{}, fmt.Errorf("get definition %q: %w", rootKey, err)
	}
	var doc definitionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return tree.Definition{}, fmt.Errorf("definition %q: %w: %w: %w", rootKey, ErrDecode, tree.ErrInvalidDefinition, err)
	}
	def, err := tree.NewDefinition(doc.ScoreRange, doc.BranchingFactor)
	if err != nil {
		return tree.Definition{}, fmt.Errorf("definition %q: %w: %w", rootKey, ErrDecode, err)
	}
	return def, nil
}

// PutDefinition stores def at rootKey in a single transaction.
func PutDefinition(ctx context.Context, backend Backend, rootKey string, def tree.Definition) error {
	raw, err := json.Marshal(definitionDoc{ScoreRange: def.Pairs(), BranchingFactor: def.BranchingFactor})
	if err != nil {
		return fmt.Errorf("encode definition %q: %w", rootKey, err)
	}
	if err := backend.Apply(ctx, []Mutation{{Key: rootKey, Value: raw}}); err != nil {
		return fmt.Errorf("put definition %q: %w", rootKey, err)
	}
	return nil
}
