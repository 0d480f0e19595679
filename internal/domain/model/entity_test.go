package model_test

import (
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/okian/clanrank/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRanksBefore(t *testing.T) {
	Convey("Given entities with distinct and equal rank values", t, func() {
		t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		entities := []model.RankedEntity{
			{ID: "c", RankValue: 900, CreatedAt: t0},
			{ID: "b", RankValue: 950, CreatedAt: t0.Add(time.Hour)},
			{ID: "a", RankValue: 950, CreatedAt: t0.Add(time.Hour)},
			{ID: "d", RankValue: 950, CreatedAt: t0},
		}

		Convey("When sorted with RanksBefore", func() {
			sort.Slice(entities, func(i, j int) bool { return model.RanksBefore(entities[i], entities[j]) })

			Convey("Then rank desc, created asc, id asc decide the order", func() {
				So(model.IDs(entities), ShouldResemble, []string{"d", "a", "b", "c"})
			})
		})
	})
}

func TestNewID(t *testing.T) {
	Convey("Given a generated id", t, func() {
		id := model.NewID()

		Convey("Then it should be a valid uuid and unique", func() {
			_, err := uuid.Parse(id)
			So(err, ShouldBeNil)
			So(model.NewID(), ShouldNotEqual, id)
		})
	})
}
