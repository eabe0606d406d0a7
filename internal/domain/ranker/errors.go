package ranker

import (
	"errors"

	"github.com/okian/ranktree/internal/domain/tree"
)

// Sentinel error kinds for ranker operations.
var (
	ErrCorruptState       = errors.New("ranker state is corrupt")
	ErrNotFound           = errors.New("not found")
	ErrDefinitionConflict = errors.New("ranker already exists with a different definition")

	ErrInvalidDefinition = tree.ErrInvalidDefinition
	ErrOutOfRange        = tree.ErrOutOfRange
)
