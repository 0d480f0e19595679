// Package repository holds the ranked list stores and their errors.
package repository

import (
	"context"

	"github.com/okian/clanrank/internal/domain/model"
)

// RankUpdate is one rank write. ExpectedVersion of zero writes
// unconditionally; any other value makes the write a compare-and-swap on the
// row version.
type RankUpdate struct {
	ID              string
	RankValue       int64
	ExpectedVersion int64
}

// Store provides read/write access to the ranked list.
type Store interface {
	// FetchOrdered returns at most limit entities ordered by rank DESC,
	// created ASC, id ASC. Returns ErrInvalidLimit when limit < 1.
	FetchOrdered(ctx context.Context, limit int) ([]model.RankedEntity, error)

	// UpdateRank sets one row's rank value, bumps its version and stamps
	// UpdatedAt. Returns ErrNotFound, ErrConflict, ErrUnauthorized or
	// ErrTransient.
	UpdateRank(ctx context.Context, u RankUpdate) (model.RankedEntity, error)
}

// Admin is the full store surface used by the service and seeding.
type Admin interface {
	Store

	// Get returns a single entity or ErrNotFound.
	Get(ctx context.Context, id string) (model.RankedEntity, error)
	// Insert adds a new entity. Returns ErrDuplicate if the id exists.
	Insert(ctx context.Context, e model.RankedEntity) (model.RankedEntity, error)
	// Delete removes an entity or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
	// Count returns the number of stored entities.
	Count(ctx context.Context) (int, error)
	// Close releases background resources.
	Close() error
}
