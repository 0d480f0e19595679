package service_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/clanrank/internal/adapters/repository"
	service "github.com/okian/clanrank/internal/app"
	"github.com/okian/clanrank/internal/domain/access"
	"github.com/okian/clanrank/internal/domain/model"
	"github.com/okian/clanrank/internal/domain/reconcile"
	"github.com/okian/clanrank/internal/domain/reorder"
	"github.com/okian/clanrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

var (
	owner = access.WithActor(context.Background(), access.Actor{Name: "owner", Role: access.RoleOwner})
	admin = access.WithActor(context.Background(), access.Actor{Name: "admin", Role: access.RoleAdmin})
	user  = access.WithActor(context.Background(), access.Actor{Name: "viewer", Role: access.RoleUser})
)

// startSeeded starts a memory-backed service holding players p1..pn ranked
// in that order.
func startSeeded(n int, opts ...service.Option) *service.Service {
	svc := service.New(opts...)
	So(svc.Start(context.Background()), ShouldBeNil)
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("p%d", i+1)
	}
	_, err := svc.Seed(owner, names)
	So(err, ShouldBeNil)
	return svc
}

func nicknames(svc *service.Service, limit int) []string {
	entries, err := svc.Leaderboard(context.Background(), limit)
	So(err, ShouldBeNil)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Nickname
	}
	return out
}

func idOf(svc *service.Service, nickname string) string {
	entries, err := svc.Leaderboard(context.Background(), 100)
	So(err, ShouldBeNil)
	for _, e := range entries {
		if e.Nickname == nickname {
			return e.ID
		}
	}
	return ""
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["maxListSize"], ShouldEqual, 20)
			So(stats["baseRankValue"], ShouldEqual, int64(1000))
			So(stats["rankStep"], ShouldEqual, int64(50))
		})
	})

	Convey("Given a service whose window cannot fit the rank range", t, func() {
		svc := service.New(service.WithRankScheme(100, 50), service.WithMaxListSize(10))

		Convey("Then Start refuses to run", func() {
			So(svc.Start(context.Background()), ShouldNotBeNil)
		})
	})

	Convey("Given an unknown store driver", t, func() {
		svc := service.New(service.WithStoreDriver("pebble", ""))
		err := svc.Start(context.Background())
		So(errors.Is(err, service.ErrUnknownDriver), ShouldBeTrue)
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New()
		So(svc.Start(context.Background()), ShouldBeNil)
		So(svc.GetStats()["started"], ShouldEqual, true)

		Convey("When stopping the service", func() {
			svc.Stop()

			Convey("Then it should be marked as stopped and reject calls", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
				_, err := svc.Leaderboard(context.Background(), 5)
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})

			Convey("And stopping twice is safe", func() {
				svc.Stop()
			})
		})
	})
}

func TestService_SessionFlow(t *testing.T) {
	Convey("Given five seeded players", t, func() {
		svc := startSeeded(5)
		defer svc.Stop()

		So(nicknames(svc, 10), ShouldResemble, []string{"p1", "p2", "p3", "p4", "p5"})
		p2, p4, p5 := idOf(svc, "p2"), idOf(svc, "p4"), idOf(svc, "p5")

		Convey("When an admin moves p2 up, drops p5 before p4 and commits", func() {
			view, err := svc.BeginSession(admin, 0)
			So(err, ShouldBeNil)
			So(view.Order, ShouldHaveLength, 5)
			So(view.Entries[0].Medal, ShouldEqual, "gold")

			view, moved, err := svc.Move(admin, view.ID, p2, reorder.Up)
			So(err, ShouldBeNil)
			So(moved, ShouldBeTrue)
			So(view.Changed, ShouldBeTrue)

			view, err = svc.Insert(admin, view.ID, p5, p4)
			So(err, ShouldBeNil)

			res, err := svc.Commit(admin, view.ID)

			Convey("Then every row is written and a reload shows the new order", func() {
				So(err, ShouldBeNil)
				So(res.Outcome(), ShouldEqual, reconcile.Success)
				So(res.Message(), ShouldEqual, "reordered 5 of 5")
				So(nicknames(svc, 10), ShouldResemble, []string{"p2", "p1", "p3", "p5", "p4"})

				entries, _ := svc.Leaderboard(context.Background(), 5)
				So(entries[0].RankValue, ShouldEqual, int64(1000))
				So(entries[4].RankValue, ShouldEqual, int64(800))
			})

			Convey("And the session is gone", func() {
				_, err := svc.Session(admin, view.ID)
				So(errors.Is(err, service.ErrSessionNotFound), ShouldBeTrue)
			})
		})

		Convey("When moving the top player up", func() {
			view, _ := svc.BeginSession(admin, 0)
			_, moved, err := svc.Move(admin, view.ID, view.Order[0], reorder.Up)

			Convey("Then it is a no-op", func() {
				So(err, ShouldBeNil)
				So(moved, ShouldBeFalse)
			})
		})

		Convey("When moving an id outside the window", func() {
			view, _ := svc.BeginSession(admin, 3)
			_, _, err := svc.Move(admin, view.ID, p5, reorder.Up)
			So(errors.Is(err, reorder.ErrInvalidEntityReference), ShouldBeTrue)
			So(service.IsClientError(err), ShouldBeTrue)
		})

		Convey("When a session is discarded", func() {
			view, _ := svc.BeginSession(admin, 0)
			So(svc.Discard(admin, view.ID), ShouldBeNil)

			Convey("Then it can no longer be used and nothing was written", func() {
				_, err := svc.Commit(admin, view.ID)
				So(errors.Is(err, service.ErrSessionNotFound), ShouldBeTrue)
				So(nicknames(svc, 10), ShouldResemble, []string{"p1", "p2", "p3", "p4", "p5"})
			})
		})

		Convey("When another admin touches someone else's session", func() {
			view, _ := svc.BeginSession(admin, 0)
			_, err := svc.Session(owner, view.ID)
			So(errors.Is(err, service.ErrSessionNotFound), ShouldBeTrue)
		})

		Convey("When a window larger than the maximum is requested", func() {
			_, err := svc.BeginSession(admin, 21)
			So(errors.Is(err, reorder.ErrListTooLarge), ShouldBeTrue)
		})
	})
}

func TestService_Access(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := startSeeded(3)
		defer svc.Stop()

		Convey("Plain users can read but not reorder", func() {
			_, err := svc.Leaderboard(user, 3)
			So(err, ShouldBeNil)

			_, err = svc.BeginSession(user, 0)
			So(errors.Is(err, access.ErrForbidden), ShouldBeTrue)

			_, _, err = svc.MovePlayer(user, idOf(svc, "p2"), reorder.Up)
			So(errors.Is(err, access.ErrForbidden), ShouldBeTrue)

			_, err = svc.Seed(user, []string{"x"})
			So(errors.Is(err, repository.ErrUnauthorized), ShouldBeTrue)
		})

		Convey("Anonymous callers cannot reorder", func() {
			_, err := svc.BeginSession(context.Background(), 0)
			So(errors.Is(err, access.ErrForbidden), ShouldBeTrue)
		})
	})
}

func TestService_ConcurrentAdmins(t *testing.T) {
	Convey("Given two admins who opened sessions on the same list", t, func() {
		svc := startSeeded(3)
		defer svc.Stop()

		first, err := svc.BeginSession(admin, 0)
		So(err, ShouldBeNil)
		second, err := svc.BeginSession(owner, 0)
		So(err, ShouldBeNil)

		_, _, err = svc.Move(admin, first.ID, first.Order[2], reorder.Up)
		So(err, ShouldBeNil)
		_, _, err = svc.Move(owner, second.ID, second.Order[0], reorder.Down)
		So(err, ShouldBeNil)

		Convey("When both commit", func() {
			res1, err1 := svc.Commit(admin, first.ID)
			res2, err2 := svc.Commit(owner, second.ID)

			Convey("Then the later commit conflicts instead of silently overwriting", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(res1.Outcome(), ShouldEqual, reconcile.Success)
				So(res2.Outcome(), ShouldEqual, reconcile.Failure)
				So(res2.OnlyKind(reconcile.KindConflict), ShouldBeTrue)
				So(nicknames(svc, 3), ShouldResemble, []string{"p1", "p3", "p2"})
			})
		})
	})

	Convey("Given optimistic concurrency switched off", t, func() {
		svc := startSeeded(3, service.WithOptimisticConcurrency(false))
		defer svc.Stop()

		first, _ := svc.BeginSession(admin, 0)
		second, _ := svc.BeginSession(owner, 0)
		_, _, _ = svc.Move(admin, first.ID, first.Order[2], reorder.Up)
		_, _, _ = svc.Move(owner, second.ID, second.Order[0], reorder.Down)

		Convey("Then the last commit wins", func() {
			_, _ = svc.Commit(admin, first.ID)
			res, err := svc.Commit(owner, second.ID)
			So(err, ShouldBeNil)
			So(res.Outcome(), ShouldEqual, reconcile.Success)
			So(nicknames(svc, 3), ShouldResemble, []string{"p2", "p1", "p3"})
		})
	})
}

func TestService_MovePlayer(t *testing.T) {
	Convey("Given four seeded players", t, func() {
		svc := startSeeded(4)
		defer svc.Stop()

		Convey("When moving p3 up", func() {
			res, moved, err := svc.MovePlayer(admin, idOf(svc, "p3"), reorder.Up)

			Convey("Then the change is committed at once", func() {
				So(err, ShouldBeNil)
				So(moved, ShouldBeTrue)
				So(res.Outcome(), ShouldEqual, reconcile.Success)
				So(nicknames(svc, 4), ShouldResemble, []string{"p1", "p3", "p2", "p4"})
				So(svc.GetStats()["activeSessions"], ShouldEqual, 0)
			})
		})

		Convey("When moving the last player down", func() {
			res, moved, err := svc.MovePlayer(admin, idOf(svc, "p4"), reorder.Down)

			Convey("Then nothing is written", func() {
				So(err, ShouldBeNil)
				So(moved, ShouldBeFalse)
				So(res.Total, ShouldEqual, 0)
				So(svc.GetStats()["activeSessions"], ShouldEqual, 0)
			})
		})

		Convey("When moving an unknown player", func() {
			_, _, err := svc.MovePlayer(admin, "ghost", reorder.Up)
			So(errors.Is(err, reorder.ErrInvalidEntityReference), ShouldBeTrue)
		})
	})
}

func TestService_ReorderTo(t *testing.T) {
	Convey("Given five seeded players", t, func() {
		svc := startSeeded(5)
		defer svc.Stop()

		Convey("When placing p4 and p2 on top", func() {
			res, err := svc.ReorderTo(owner, []string{idOf(svc, "p4"), idOf(svc, "p2")})

			Convey("Then the rest keep their relative order", func() {
				So(err, ShouldBeNil)
				So(res.Outcome(), ShouldEqual, reconcile.Success)
				So(nicknames(svc, 5), ShouldResemble, []string{"p4", "p2", "p1", "p3", "p5"})
			})
		})

		Convey("When an id is unknown", func() {
			_, err := svc.ReorderTo(owner, []string{"ghost"})
			So(errors.Is(err, reorder.ErrInvalidEntityReference), ShouldBeTrue)
			So(svc.GetStats()["activeSessions"], ShouldEqual, 0)
		})

		Convey("When an id is listed twice", func() {
			p1, p2 := idOf(svc, "p1"), idOf(svc, "p2")
			_, err := svc.ReorderTo(owner, []string{p2, p1, p2})

			Convey("Then it is rejected as bad input and nothing moves", func() {
				So(errors.Is(err, reorder.ErrDuplicateID), ShouldBeTrue)
				So(service.IsClientError(err), ShouldBeTrue)
				So(svc.GetStats()["activeSessions"], ShouldEqual, 0)
				So(nicknames(svc, 5), ShouldResemble, []string{"p1", "p2", "p3", "p4", "p5"})
			})
		})
	})
}

func TestService_StopWhileReading(t *testing.T) {
	Convey("Given sessions being read while the service stops", t, func() {
		svc := startSeeded(4)
		view, err := svc.BeginSession(admin, 0)
		So(err, ShouldBeNil)

		var wg sync.WaitGroup
		done := make(chan struct{})
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-done:
						return
					default:
					}
					_, _ = svc.Session(admin, view.ID)
					_, _ = svc.BeginSession(owner, 2)
				}
			}()
		}
		time.Sleep(10 * time.Millisecond)
		svc.Stop()
		close(done)
		wg.Wait()

		Convey("Then readers see ErrNotStarted instead of a closed store", func() {
			_, err := svc.Session(admin, view.ID)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.BeginSession(owner, 2)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})
	})
}

func TestService_ExpireIdle(t *testing.T) {
	Convey("Given a service with a controllable clock", t, func() {
		var mu sync.Mutex
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}
		advance := func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		}

		svc := startSeeded(2, service.WithClock(clock), service.WithSessionTTL(time.Minute))
		defer svc.Stop()

		view, err := svc.BeginSession(admin, 0)
		So(err, ShouldBeNil)
		So(view.ExpiresAt, ShouldEqual, clock().Add(time.Minute))

		Convey("When the session is used within the TTL it survives", func() {
			advance(45 * time.Second)
			_, err := svc.Session(admin, view.ID)
			So(err, ShouldBeNil)
			advance(45 * time.Second)
			So(svc.ExpireIdle(context.Background()), ShouldEqual, 0)
		})

		Convey("When the session idles past the TTL it is dropped", func() {
			advance(2 * time.Minute)
			So(svc.ExpireIdle(context.Background()), ShouldEqual, 1)
			_, err := svc.Session(admin, view.ID)
			So(errors.Is(err, service.ErrSessionNotFound), ShouldBeTrue)
		})
	})
}

func TestService_SQLiteDriver(t *testing.T) {
	Convey("Given a service on a SQLite file", t, func() {
		path := filepath.Join(t.TempDir(), "clanrank.db")
		svc := startSeeded(3, service.WithStoreDriver("sqlite", path))

		view, err := svc.BeginSession(owner, 0)
		So(err, ShouldBeNil)
		_, _, err = svc.Move(owner, view.ID, view.Order[1], reorder.Up)
		So(err, ShouldBeNil)
		res, err := svc.Commit(owner, view.ID)
		So(err, ShouldBeNil)
		So(res.Outcome(), ShouldEqual, reconcile.Success)
		svc.Stop()

		Convey("Then the order survives a restart", func() {
			again := service.New(service.WithStoreDriver("sqlite", path))
			So(again.Start(context.Background()), ShouldBeNil)
			defer again.Stop()
			So(nicknames(again, 3), ShouldResemble, []string{"p2", "p1", "p3"})
		})
	})
}

func TestService_InjectedStore(t *testing.T) {
	Convey("Given an injected store", t, func() {
		store := repository.NewTreapStore(context.Background(),
			repository.WithEntities(model.RankedEntity{ID: "x", Nickname: "x", RankValue: 10}))
		defer store.Close()

		svc := service.New(service.WithStore(store))
		So(svc.Start(context.Background()), ShouldBeNil)
		svc.Stop()

		Convey("Then stopping the service leaves it open", func() {
			got, err := store.FetchOrdered(context.Background(), 5)
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 1)
		})
	})
}
