// Package reorder captures a user's intended ordering of a bounded list
// before anything is persisted.
//
// A Session is owned by a single caller and is not safe for concurrent use.
package reorder

import (
	"fmt"
	"slices"
	"strings"

	"github.com/okian/clanrank/internal/domain/model"
)

// DefaultMaxSize bounds a session when no option overrides it.
const DefaultMaxSize = 20

// Direction of an adjacent move.
type Direction int

// Directions.
const (
	Up Direction = iota + 1
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection accepts "up" or "down" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// Option applies a configuration option to a Session.
type Option func(*Session)

// WithMaxSize bounds how many ids a session may hold.
func WithMaxSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// Session is the in-memory capture of a desired order.
type Session struct {
	initial  []string
	order    []string
	index    map[string]struct{}
	versions map[string]int64
	maxSize  int
	closed   bool
}

// Begin snapshots entities in their displayed order, remembering each row's
// version for guarded commits. The slice must already be sorted for display
// and contain the whole window.
func Begin(entities []model.RankedEntity, opts ...Option) (*Session, error) {
	s, err := BeginIDs(model.IDs(entities), opts...)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		s.versions[e.ID] = e.Version
	}
	return s, nil
}

// BeginIDs snapshots a bare id order. Guarded commits are not possible
// without versions.
func BeginIDs(ids []string, opts ...Option) (*Session, error) {
	s := &Session{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(s)
	}
	if len(ids) > s.maxSize {
		return nil, fmt.Errorf("%w: %d ids, limit %d", ErrListTooLarge, len(ids), s.maxSize)
	}

	s.index = make(map[string]struct{}, len(ids))
	s.versions = make(map[string]int64, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, ErrEmptyID
		}
		if _, dup := s.index[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		s.index[id] = struct{}{}
	}
	s.initial = slices.Clone(ids)
	s.order = slices.Clone(ids)
	return s, nil
}

// Order returns a copy of the current order.
func (s *Session) Order() []string {
	return slices.Clone(s.order)
}

// Len returns the number of ids in the session.
func (s *Session) Len() int { return len(s.order) }

// Changed reports whether the current order differs from the snapshot.
func (s *Session) Changed() bool {
	return !slices.Equal(s.initial, s.order)
}

// Versions returns the row versions captured by Begin. Ids captured through
// BeginIDs are absent.
func (s *Session) Versions() map[string]int64 {
	out := make(map[string]int64, len(s.versions))
	for id, v := range s.versions {
		out[id] = v
	}
	return out
}

// Closed reports whether End or Discard was called.
func (s *Session) Closed() bool { return s.closed }

// MoveAdjacent swaps id with its neighbour in direction dir. Moving the first
// id up or the last id down leaves the order unchanged and reports
// moved=false without an error.
func (s *Session) MoveAdjacent(id string, dir Direction) (order []string, moved bool, err error) {
	if err := s.check(id); err != nil {
		return nil, false, err
	}
	i := slices.Index(s.order, id)
	var j int
	switch dir {
	case Up:
		j = i - 1
	case Down:
		j = i + 1
	default:
		return nil, false, fmt.Errorf("%w: %s", ErrInvalidDirection, dir)
	}
	if j < 0 || j >= len(s.order) {
		return s.Order(), false, nil
	}
	s.order[i], s.order[j] = s.order[j], s.order[i]
	return s.Order(), true, nil
}

// ReorderByInsertion removes movedID and reinserts it immediately before
// beforeID. An empty beforeID appends movedID at the end.
func (s *Session) ReorderByInsertion(movedID, beforeID string) ([]string, error) {
	if err := s.check(movedID); err != nil {
		return nil, err
	}
	if beforeID == movedID {
		return nil, fmt.Errorf("%w: %s cannot be inserted before itself", ErrInvalidEntityReference, movedID)
	}
	if beforeID != "" {
		if _, ok := s.index[beforeID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidEntityReference, beforeID)
		}
	}

	i := slices.Index(s.order, movedID)
	s.order = slices.Delete(s.order, i, i+1)
	if beforeID == "" {
		s.order = append(s.order, movedID)
		return s.Order(), nil
	}
	j := slices.Index(s.order, beforeID)
	s.order = slices.Insert(s.order, j, movedID)
	return s.Order(), nil
}

// End closes the session and returns the final order for commit.
func (s *Session) End() ([]string, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	s.closed = true
	return s.Order(), nil
}

// Discard closes the session without producing an order.
func (s *Session) Discard() {
	s.closed = true
}

func (s *Session) check(id string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if _, ok := s.index[id]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidEntityReference, id)
	}
	return nil
}
