// Package types contains common types used across the application
package types

import (
	"time"

	"github.com/okian/clanrank/internal/domain/model"
)

// Medal labels for the podium positions.
const (
	MedalGold   = "gold"
	MedalSilver = "silver"
	MedalBronze = "bronze"
)

// Entry is the read shape of a ranked list row.
type Entry struct {
	Position  int       `json:"position"` // 1-based display position
	ID        string    `json:"id"`
	Nickname  string    `json:"nickname,omitempty"`
	RankValue int64     `json:"rank_value"`
	Version   int64     `json:"version"`
	Medal     string    `json:"medal,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MedalFor returns the medal for a 1-based position, or "" outside the podium.
func MedalFor(position int) string {
	switch position {
	case 1:
		return MedalGold
	case 2:
		return MedalSilver
	case 3:
		return MedalBronze
	default:
		return ""
	}
}

// EntriesFrom converts an ordered slice of entities into display entries.
func EntriesFrom(entities []model.RankedEntity) []Entry {
	out := make([]Entry, len(entities))
	for i, e := range entities {
		out[i] = Entry{
			Position:  i + 1,
			ID:        e.ID,
			Nickname:  e.Nickname,
			RankValue: e.RankValue,
			Version:   e.Version,
			Medal:     MedalFor(i + 1),
			UpdatedAt: e.UpdatedAt,
		}
	}
	return out
}
