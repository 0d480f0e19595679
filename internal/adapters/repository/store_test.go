package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/clanrank/internal/domain/model"
)

// Both stores must produce the same ordering for the same rows, ties
// included.
func TestStores_SameOrdering(t *testing.T) {
	rows := []model.RankedEntity{
		{ID: "c", RankValue: 900, CreatedAt: epoch},
		{ID: "a", RankValue: 900, CreatedAt: epoch},
		{ID: "z", RankValue: 900, CreatedAt: epoch.Add(-time.Hour)},
		{ID: "m", RankValue: 1000, CreatedAt: epoch.Add(time.Hour)},
		{ID: "b", RankValue: 50, CreatedAt: epoch},
		{ID: "k", RankValue: -5, CreatedAt: epoch},
	}
	want := []string{"m", "z", "a", "c", "b", "k"}

	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			for _, r := range rows {
				mustInsert(t, s, r)
			}
			got, err := s.FetchOrdered(ctx, 100)
			require.NoError(t, err)
			assert.Equal(t, want, model.IDs(got))

			top, err := s.FetchOrdered(ctx, 3)
			require.NoError(t, err)
			assert.Equal(t, want[:3], model.IDs(top))
		})
	}
}

func TestStores_RewriteWindow(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			for i := 0; i < 5; i++ {
				mustInsert(t, s, model.RankedEntity{ID: fmt.Sprintf("p%d", i), RankValue: int64(1000 - i*50), CreatedAt: epoch})
			}
			// Reverse the list the way a commit would.
			for i, id := range []string{"p4", "p3", "p2", "p1", "p0"} {
				_, err := s.UpdateRank(ctx, RankUpdate{ID: id, RankValue: int64(1000 - i*50)})
				require.NoError(t, err)
			}
			got, err := s.FetchOrdered(ctx, 5)
			require.NoError(t, err)
			assert.Equal(t, []string{"p4", "p3", "p2", "p1", "p0"}, model.IDs(got))
			for _, e := range got {
				assert.Equal(t, int64(2), e.Version)
			}
		})
	}
}

func TestStores_EmptyID(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			mustInsert(t, s, model.RankedEntity{ID: "p1", RankValue: 1000, CreatedAt: epoch})

			_, err := s.UpdateRank(ctx, RankUpdate{RankValue: 5})
			assert.ErrorIs(t, err, ErrInvalidID)
			_, err = s.Get(ctx, "")
			assert.ErrorIs(t, err, ErrInvalidID)

			got, err := s.Get(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, int64(1000), got.RankValue)
		})
	}
}

func storeFactories(t *testing.T) map[string]func(t *testing.T) Admin {
	t.Helper()
	return map[string]func(t *testing.T) Admin{
		"memory": func(t *testing.T) Admin {
			s := NewTreapStore(context.Background())
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"sqlite": func(t *testing.T) Admin {
			return newMemorySQLite(t)
		},
	}
}
