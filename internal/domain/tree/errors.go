package tree

import "errors"

// Sentinel error kinds for tree arithmetic. These allow errors.Is/As from callers.
var (
	ErrInvalidDefinition = errors.New("invalid ranker definition")
	ErrOutOfRange        = errors.New("score out of range")
	ErrNoChildren        = errors.New("score range has no children")
)
