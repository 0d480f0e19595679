package repository

import (
	"context"
	"fmt"

	"github.com/okian/clanrank/internal/domain/access"
	"github.com/okian/clanrank/internal/domain/model"
	"github.com/okian/clanrank/pkg/metrics"
)

// AuthorizedStore rejects rank writes from callers that may not reorder.
// Reads pass through.
type AuthorizedStore struct {
	Admin
}

// Authorized wraps a store with access checks on writes.
func Authorized(inner Admin) *AuthorizedStore {
	return &AuthorizedStore{Admin: inner}
}

// UpdateRank checks the context actor before delegating.
func (s *AuthorizedStore) UpdateRank(ctx context.Context, u RankUpdate) (model.RankedEntity, error) {
	if err := access.RequireReorder(ctx); err != nil {
		metrics.RecordErrorByComponent("repository", "unauthorized")
		return model.RankedEntity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return s.Admin.UpdateRank(ctx, u)
}

// Insert checks the context actor before delegating.
func (s *AuthorizedStore) Insert(ctx context.Context, e model.RankedEntity) (model.RankedEntity, error) {
	if err := access.RequireReorder(ctx); err != nil {
		return model.RankedEntity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return s.Admin.Insert(ctx, e)
}

// Delete checks the context actor before delegating.
func (s *AuthorizedStore) Delete(ctx context.Context, id string) error {
	if err := access.RequireReorder(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return s.Admin.Delete(ctx, id)
}
