// Package ranking turns a display order into concrete rank values.
package ranking

import (
	"fmt"
)

// Default scheme constants.
const (
	DefaultBase = 1000
	DefaultStep = 50
)

// Option applies a configuration option to the Linear scheme.
type Option func(*Linear)

// WithBase sets the rank value of the top position.
func WithBase(base int64) Option {
	return func(l *Linear) {
		if base > 0 {
			l.base = base
		}
	}
}

// WithStep sets the gap between consecutive positions.
func WithStep(step int64) Option {
	return func(l *Linear) {
		if step > 0 {
			l.step = step
		}
	}
}

// Assignment is the rank value computed for one position.
type Assignment struct {
	ID        string `json:"id"`
	Position  int    `json:"position"` // 0-based index in the committed order
	RankValue int64  `json:"rank_value"`
}

// Linear assigns rank(i) = base - i*step. The whole window is rewritten on
// every commit, so ranks carry no history between commits.
type Linear struct {
	base int64
	step int64
}

// NewLinear creates a Linear scheme.
func NewLinear(opts ...Option) *Linear {
	l := &Linear{base: DefaultBase, step: DefaultStep}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Base returns the rank value of position 0.
func (l *Linear) Base() int64 { return l.base }

// Step returns the gap between positions.
func (l *Linear) Step() int64 { return l.step }

// Capacity is the longest order whose lowest rank stays non-negative.
func (l *Linear) Capacity() int {
	return int(l.base/l.step) + 1
}

// ValueAt returns the rank value for a 0-based position.
func (l *Linear) ValueAt(position int) int64 {
	return l.base - int64(position)*l.step
}

// Assign computes one assignment per id. It fails with ErrRankOverflow when
// the order is too long for base and step, and with ErrDuplicateID when an id
// appears twice.
func (l *Linear) Assign(order []string) ([]Assignment, error) {
	if len(order) > l.Capacity() {
		return nil, fmt.Errorf("%w: %d positions, capacity %d (base %d, step %d)",
			ErrRankOverflow, len(order), l.Capacity(), l.base, l.step)
	}
	seen := make(map[string]struct{}, len(order))
	out := make([]Assignment, len(order))
	for i, id := range order {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
		out[i] = Assignment{ID: id, Position: i, RankValue: l.ValueAt(i)}
	}
	return out, nil
}
