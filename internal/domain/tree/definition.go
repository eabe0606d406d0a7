package tree

import (
	"fmt"
	"math/bits"
	"slices"
)

// Definition fixes the shape of one ranking tree.
type Definition struct {
	// ScoreRange holds one [Low, High) per score component, most significant first.
	ScoreRange []Range
	// BranchingFactor is the number of children per node.
	BranchingFactor int64
}

// NewDefinition builds a Definition from the flat pairs form
// [min0, max0, min1, max1, ...] and validates it.
func NewDefinition(pairs []int64, branchingFactor int64) (Definition, error) {
	if len(pairs) == 0 || len(pairs)%2 != 0 {
		return Definition{}, fmt.Errorf("score range needs a non-empty even number of bounds, got %d: %w", len(pairs), ErrInvalidDefinition)
	}
	ranges := make([]Range, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		ranges = append(ranges, Range{Low: pairs[i], High: pairs[i+1]})
	}
	d := Definition{ScoreRange: ranges, BranchingFactor: branchingFactor}
	if err := d.Validate(); err != nil {
		return Definition{}, err
	}
	return d, nil
}

// Validate checks the definition invariants. It also rejects a score space
// of exactly one score, which would need no node at all, and trees whose
// deepest node id would not fit in 64 bits.
func (d Definition) Validate() error {
	if len(d.ScoreRange) == 0 {
		return fmt.Errorf("empty score range: %w", ErrInvalidDefinition)
	}
	if d.BranchingFactor <= 1 {
		return fmt.Errorf("branching factor %d must be > 1: %w", d.BranchingFactor, ErrInvalidDefinition)
	}
	for i, r := range d.ScoreRange {
		if r.High <= r.Low {
			return fmt.Errorf("component %d range %s is empty: %w", i, r, ErrInvalidDefinition)
		}
	}
	if d.MaxDepth() == 0 {
		return fmt.Errorf("score range %v holds a single score: %w", d.ScoreRange, ErrInvalidDefinition)
	}
	if _, ok := d.maxNodeID(); !ok {
		return fmt.Errorf("tree of depth %d with branching factor %d overflows 64-bit node ids: %w",
			d.MaxDepth(), d.BranchingFactor, ErrInvalidDefinition)
	}
	return nil
}

// Pairs returns the flat [min0, max0, ...] form.
func (d Definition) Pairs() []int64 {
	out := make([]int64, 0, 2*len(d.ScoreRange))
	for _, r := range d.ScoreRange {
		out = append(out, r.Low, r.High)
	}
	return out
}

// Equal reports whether two definitions describe the same tree.
func (d Definition) Equal(o Definition) bool {
	return d.BranchingFactor == o.BranchingFactor && slices.Equal(d.ScoreRange, o.ScoreRange)
}

// MaxScore returns the highest representable score.
func (d Definition) MaxScore() Score { return Highest(d.ScoreRange) }

// MinScore returns the lowest representable score.
func (d Definition) MinScore() Score {
	out := make(Score, len(d.ScoreRange))
	for i, r := range d.ScoreRange {
		out[i] = r.Low
	}
	return out
}

// Contains returns an ErrOutOfRange error unless s has one component per
// range and every component lies inside its range.
func (d Definition) Contains(s Score) error {
	if len(s) != len(d.ScoreRange) {
		return fmt.Errorf("score %s has %d components, want %d: %w", s, len(s), len(d.ScoreRange), ErrOutOfRange)
	}
	for i, r := range d.ScoreRange {
		if !r.Contains(s[i]) {
			return fmt.Errorf("score %s component %d not in %s: %w", s, i, r, ErrOutOfRange)
		}
	}
	return nil
}

// ChildNodeID returns the id of child index child of node parent.
func (d Definition) ChildNodeID(parent uint64, child int64) uint64 {
	return ChildNodeID(parent, child, d.BranchingFactor)
}

// ParentNodeID returns the parent of id, or false for the root.
func (d Definition) ParentNodeID(id uint64) (uint64, bool) {
	return ParentNodeID(id, d.BranchingFactor)
}

// ChildScoreRange subdivides the first component of ranges that is not yet
// a single value and returns the ranges of child index child. Components are
// resolved strictly left to right: a later component is never split while an
// earlier one still spans more than one value.
func (d Definition) ChildScoreRange(ranges []Range, child int64) ([]Range, error) {
	for i, r := range ranges {
		if r.Width() > 1 {
			out := slices.Clone(ranges)
			out[i] = ChildRange(r, child, d.BranchingFactor)
			return out, nil
		}
	}
	return nil, fmt.Errorf("ranges %v: %w", ranges, ErrNoChildren)
}

// FindNodeIDs returns the root-to-leaf path of score s as (node, child)
// pairs. The path stops once every component has narrowed to one value; the
// node that would sit below the last pair is never materialized.
func (d Definition) FindNodeIDs(s Score) ([]NodeChild, error) {
	if err := d.Contains(s); err != nil {
		return nil, err
	}
	cur := slices.Clone(d.ScoreRange)
	path := make([]NodeChild, 0, d.MaxDepth())
	var node uint64
	for i := range cur {
		for cur[i].Width() > 1 {
			child, r, err := WhichChild(cur[i].Low, cur[i].High, s[i], d.BranchingFactor)
			if err != nil {
				return nil, fmt.Errorf("component %d: %w", i, err)
			}
			cur[i] = r
			path = append(path, NodeChild{NodeID: node, Child: child})
			node = d.ChildNodeID(node, child)
		}
	}
	return path, nil
}

// MaxDepth returns an upper bound on the length of any FindNodeIDs path.
func (d Definition) MaxDepth() int {
	b := uint64(d.BranchingFactor)
	if b < 2 {
		return 0
	}
	depth := 0
	for _, r := range d.ScoreRange {
		// The widest child of a width-w range has width ceil(w/b).
		for w := r.Width(); w > 1; depth++ {
			q := w / b
			if w%b != 0 {
				q++
			}
			w = q
		}
	}
	return depth
}

// maxNodeID returns the largest id a path can reference, or false on overflow.
func (d Definition) maxNodeID() (uint64, bool) {
	b := uint64(d.BranchingFactor)
	var id uint64
	for level := 1; level < d.MaxDepth(); level++ {
		hi, lo := bits.Mul64(id, b)
		if hi != 0 {
			return 0, false
		}
		next, carry := bits.Add64(lo, b, 0)
		if carry != 0 {
			return 0, false
		}
		id = next
	}
	return id, true
}
