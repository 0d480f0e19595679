// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RankedEntity is one row of the manually ranked list.
type RankedEntity struct {
	ID        string    // opaque, immutable once created
	Nickname  string    // display label; never part of the ordering
	RankValue int64     // higher value ranks higher; not unique, not contiguous
	Version   int64     // bumped on every rank write
	CreatedAt time.Time // secondary sort key
	UpdatedAt time.Time // set by every writer
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.NewString()
}

// RanksBefore reports whether a is displayed above b.
// Ordering: rank DESC, created ASC, id ASC.
func RanksBefore(a, b RankedEntity) bool {
	if a.RankValue != b.RankValue {
		return a.RankValue > b.RankValue
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return strings.Compare(a.ID, b.ID) < 0
}

// IDs returns the identifiers of entities in order.
func IDs(entities []RankedEntity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.ID
	}
	return out
}

// Notice tells other admin screens that the stored order changed.
type Notice struct {
	Kind      string    `json:"kind"` // order_committed
	SessionID string    `json:"session_id,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Order     []string  `json:"order"`
	Succeeded int       `json:"succeeded"`
	Total     int       `json:"total"`
	At        time.Time `json:"at"`
}

// NoticeOrderCommitted is the kind of notice sent after every commit attempt.
const NoticeOrderCommitted = "order_committed"
