package tree

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Score is an ordered tuple of integer components, most significant first.
type Score []int64

// Key returns the canonical string form of the score, e.g. "100,5".
// Two scores share a bucket exactly when their keys are equal.
func (s Score) Key() string {
	var b strings.Builder
	for i, v := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(v, 10))
	}
	return b.String()
}

// String implements fmt.Stringer.
func (s Score) String() string { return s.Key() }

// Equal reports whether both scores have the same components.
func (s Score) Equal(o Score) bool { return slices.Equal(s, o) }

// Clone returns a copy that does not share the backing array.
func (s Score) Clone() Score {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}

// ParseScore parses the form produced by Score.Key.
func ParseScore(key string) (Score, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("parse score %q: empty", key)
	}
	parts := strings.Split(key, ",")
	out := make(Score, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse score %q: component %d: %w", key, i, err)
		}
		out[i] = v
	}
	return out, nil
}
