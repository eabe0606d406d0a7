// Package tree holds the pure arithmetic of the ranking tree: which child of
// a node a score falls into, the score sub-range of each child, and the
// implicit node addressing scheme. Nothing in this package performs I/O.
//
// The tree is a complete b-ary tree over the score space. The root has id 0
// and the children of node n occupy the contiguous block n*b+1 .. n*b+b, so a
// node's identity and its score sub-range are both derivable from arithmetic
// alone; no adjacency is ever stored.
package tree

import (
	"fmt"
	"math/bits"
)

// Range is a half-open interval [Low, High) of one score component.
type Range struct {
	Low  int64 `json:"low"`
	High int64 `json:"high"`
}

// Width returns High-Low. It is computed in uint64 so the full int64 span
// does not overflow.
func (r Range) Width() uint64 { return uint64(r.High) - uint64(r.Low) }

// Contains reports whether v lies in [Low, High).
func (r Range) Contains(v int64) bool { return v >= r.Low && v < r.High }

// IsSingleton reports whether the range denotes exactly one value.
func (r Range) IsSingleton() bool { return r.High > r.Low && r.Width() == 1 }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Low, r.High) }

// NodeChild addresses one child counter: child index Child of node NodeID.
type NodeChild struct {
	NodeID uint64
	Child  int64
}

// scaled returns floor(x*w/b) with exact 128-bit intermediate arithmetic.
// Callers guarantee 0 <= x <= b, which keeps the quotient below 2^64.
func scaled(x, w, b uint64) uint64 {
	hi, lo := bits.Mul64(x, w)
	q, _ := bits.Div64(hi, lo, b)
	return q
}

// ChildRange returns the sub-range of child x when r is split into b
// partitions. Boundaries sit at Low + floor(x*(High-Low)/b), so the b
// children are contiguous, non-overlapping and cover r exactly. When the
// width is smaller than b some children are empty (Low == High).
func ChildRange(r Range, x, b int64) Range {
	w := r.Width()
	return Range{
		Low:  r.Low + int64(scaled(uint64(x), w, uint64(b))),
		High: r.Low + int64(scaled(uint64(x+1), w, uint64(b))),
	}
}

// WhichChild returns the unique child x of [low, high) whose partition holds
// want, i.e. x*(high-low)/b <= want-low < (x+1)*(high-low)/b, together with
// that child's range. It evaluates x = ceil((want-low+1)*b/(high-low)) - 1
// with integer arithmetic only.
func WhichChild(low, high, want, b int64) (int64, Range, error) {
	if b <= 1 {
		return 0, Range{}, fmt.Errorf("branching factor %d: %w", b, ErrInvalidDefinition)
	}
	r := Range{Low: low, High: high}
	if high <= low || !r.Contains(want) {
		return 0, Range{}, fmt.Errorf("%d not in %s: %w", want, r, ErrOutOfRange)
	}

	w := r.Width()
	off := uint64(want) - uint64(low)

	// off < w, so off+1 cannot wrap and (off+1)*b < w*2^64.
	hi, lo := bits.Mul64(off+1, uint64(b))
	q, rem := bits.Div64(hi, lo, w)
	if rem != 0 {
		q++
	}
	x := int64(q) - 1
	return x, ChildRange(r, x, b), nil
}

// ChildNodeID returns the id of child index child of node parent.
func ChildNodeID(parent uint64, child, b int64) uint64 {
	return parent*uint64(b) + 1 + uint64(child)
}

// ParentNodeID returns the parent of id. The root has no parent.
func ParentNodeID(id uint64, b int64) (uint64, bool) {
	if id == 0 {
		return 0, false
	}
	return (id - 1) / uint64(b), true
}

// ChildIndex returns the position of id among its parent's children.
func ChildIndex(id uint64, b int64) (int64, bool) {
	if id == 0 {
		return 0, false
	}
	return int64((id - 1) % uint64(b)), true
}

// IsSingleton reports whether every component range denotes a single value.
func IsSingleton(ranges []Range) bool {
	for _, r := range ranges {
		if !r.IsSingleton() {
			return false
		}
	}
	return true
}

// Highest returns the highest score inside ranges.
func Highest(ranges []Range) Score {
	out := make(Score, len(ranges))
	for i, r := range ranges {
		out[i] = r.High - 1
	}
	return out
}
