package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/clanrank/internal/adapters/http/api"
	"github.com/okian/clanrank/internal/adapters/repository"
	service "github.com/okian/clanrank/internal/app"
	"github.com/okian/clanrank/internal/domain/access"
	"github.com/okian/clanrank/internal/domain/model"
	"github.com/okian/clanrank/internal/domain/reconcile"
	"github.com/okian/clanrank/internal/domain/types"
	"github.com/okian/clanrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const (
	ownerToken = "owner-secret"
	adminToken = "admin-secret"
	userToken  = "user-secret"
)

type fixture struct {
	svc    *service.Service
	router http.Handler
}

func newFixture(players int, opts ...service.Option) *fixture {
	svc := service.New(opts...)
	So(svc.Start(context.Background()), ShouldBeNil)

	names := make([]string, players)
	for i := range names {
		names[i] = fmt.Sprintf("p%d", i+1)
	}
	_, err := svc.Seed(access.WithActor(context.Background(), access.System), names)
	So(err, ShouldBeNil)

	auth, err := api.ParseTokens(map[string]string{
		ownerToken: "owner",
		adminToken: "admin",
		userToken:  "user",
	})
	So(err, ShouldBeNil)

	srv := api.NewServer(svc, api.WithAuthenticator(auth))
	return &fixture{svc: svc, router: srv.Router()}
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) leaderboard() []types.Entry {
	rec := f.do(http.MethodGet, "/leaderboard?limit=20", "", nil)
	So(rec.Code, ShouldEqual, http.StatusOK)
	var entries []types.Entry
	So(json.Unmarshal(rec.Body.Bytes(), &entries), ShouldBeNil)
	return entries
}

func (f *fixture) nicknames() []string {
	entries := f.leaderboard()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Nickname
	}
	return out
}

func (f *fixture) idOf(nickname string) string {
	for _, e := range f.leaderboard() {
		if e.Nickname == nickname {
			return e.ID
		}
	}
	return ""
}

type commitBody struct {
	Outcome   string   `json:"outcome"`
	Message   string   `json:"message"`
	Summary   string   `json:"summary"`
	Succeeded []string `json:"succeeded"`
	Total     int      `json:"total"`
	Failed    []struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	} `json:"failed"`
}

func TestHealthAndMetrics(t *testing.T) {
	Convey("Given a running API", t, func() {
		f := newFixture(1)
		defer f.svc.Stop()

		Convey("GET /healthz reports ok", func() {
			rec := f.do(http.MethodGet, "/healthz", "", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"status":"ok"`)
		})

		Convey("GET /metrics exposes the service registry", func() {
			f.do(http.MethodGet, "/healthz", "", nil)
			rec := f.do(http.MethodGet, "/metrics", "", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "http_requests_total")
		})

		Convey("GET /stats returns service statistics", func() {
			rec := f.do(http.MethodGet, "/stats", "", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			var stats map[string]any
			So(json.Unmarshal(rec.Body.Bytes(), &stats), ShouldBeNil)
			So(stats["started"], ShouldEqual, true)
			So(stats["totalPlayers"], ShouldEqual, float64(1))
		})
	})
}

func TestLeaderboard(t *testing.T) {
	Convey("Given five players", t, func() {
		f := newFixture(5)
		defer f.svc.Stop()

		Convey("The top three carry medals", func() {
			entries := f.leaderboard()
			So(entries, ShouldHaveLength, 5)
			So(entries[0].Position, ShouldEqual, 1)
			So(entries[0].Medal, ShouldEqual, "gold")
			So(entries[1].Medal, ShouldEqual, "silver")
			So(entries[2].Medal, ShouldEqual, "bronze")
			So(entries[3].Medal, ShouldBeEmpty)
		})

		Convey("A bad limit is rejected", func() {
			So(f.do(http.MethodGet, "/leaderboard?limit=abc", "", nil).Code, ShouldEqual, http.StatusBadRequest)
			So(f.do(http.MethodGet, "/leaderboard?limit=0", "", nil).Code, ShouldEqual, http.StatusBadRequest)
			So(f.do(http.MethodGet, "/leaderboard?limit=21", "", nil).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A missing limit returns the full window", func() {
			rec := f.do(http.MethodGet, "/leaderboard", "", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
		})
	})
}

func TestAuth(t *testing.T) {
	Convey("Given a running API", t, func() {
		f := newFixture(3)
		defer f.svc.Stop()

		Convey("An unknown token is rejected", func() {
			So(f.do(http.MethodGet, "/leaderboard", "nope", nil).Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("Users and anonymous callers cannot open sessions", func() {
			So(f.do(http.MethodPost, "/reorder/sessions", userToken, nil).Code, ShouldEqual, http.StatusForbidden)
			So(f.do(http.MethodPost, "/reorder/sessions", "", nil).Code, ShouldEqual, http.StatusForbidden)
		})

		Convey("A session is invisible to other actors", func() {
			rec := f.do(http.MethodPost, "/reorder/sessions", adminToken, nil)
			So(rec.Code, ShouldEqual, http.StatusCreated)
			var view service.SessionView
			So(json.Unmarshal(rec.Body.Bytes(), &view), ShouldBeNil)

			So(f.do(http.MethodGet, "/reorder/sessions/"+view.ID, ownerToken, nil).Code, ShouldEqual, http.StatusNotFound)
			So(f.do(http.MethodGet, "/reorder/sessions/"+view.ID, adminToken, nil).Code, ShouldEqual, http.StatusOK)
		})
	})

	Convey("Given tokens with an unknown role", t, func() {
		_, err := api.ParseTokens(map[string]string{"t": "superuser"})
		So(errors.Is(err, access.ErrUnknownRole), ShouldBeTrue)
	})
}

func TestSessionRoutes(t *testing.T) {
	Convey("Given an admin session over four players", t, func() {
		f := newFixture(4)
		defer f.svc.Stop()

		p1, p3, p4 := f.idOf("p1"), f.idOf("p3"), f.idOf("p4")

		rec := f.do(http.MethodPost, "/reorder/sessions", adminToken, map[string]int{"limit": 4})
		So(rec.Code, ShouldEqual, http.StatusCreated)
		var view service.SessionView
		So(json.Unmarshal(rec.Body.Bytes(), &view), ShouldBeNil)
		So(view.Order, ShouldHaveLength, 4)
		base := "/reorder/sessions/" + view.ID

		Convey("When moving p3 up, inserting p1 before p4 and committing", func() {
			rec := f.do(http.MethodPost, base+"/move", adminToken, map[string]string{"id": p3, "direction": "up"})
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"moved":true`)

			rec = f.do(http.MethodPost, base+"/insert", adminToken, map[string]string{"id": p1, "before_id": p4})
			So(rec.Code, ShouldEqual, http.StatusOK)

			rec = f.do(http.MethodPost, base+"/commit", adminToken, nil)

			Convey("Then the order is saved", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var body commitBody
				So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
				So(body.Outcome, ShouldEqual, "success")
				So(body.Summary, ShouldEqual, "order saved")
				So(body.Message, ShouldEqual, "reordered 4 of 4")
				So(f.nicknames(), ShouldResemble, []string{"p3", "p2", "p1", "p4"})
			})

			Convey("And the session is closed", func() {
				So(f.do(http.MethodGet, base, adminToken, nil).Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When the request is malformed", func() {
			So(f.do(http.MethodPost, base+"/move", adminToken, map[string]string{"id": p3, "direction": "sideways"}).Code,
				ShouldEqual, http.StatusBadRequest)
			So(f.do(http.MethodPost, base+"/move", adminToken, map[string]string{"direction": "up"}).Code,
				ShouldEqual, http.StatusBadRequest)
			So(f.do(http.MethodPost, base+"/insert", adminToken, map[string]string{"id": "ghost"}).Code,
				ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the session is discarded", func() {
			So(f.do(http.MethodDelete, base, adminToken, nil).Code, ShouldEqual, http.StatusNoContent)
			So(f.do(http.MethodPost, base+"/commit", adminToken, nil).Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When another admin commits first", func() {
			other := f.do(http.MethodPost, "/reorder/sessions", ownerToken, nil)
			var otherView service.SessionView
			So(json.Unmarshal(other.Body.Bytes(), &otherView), ShouldBeNil)
			f.do(http.MethodPost, "/reorder/sessions/"+otherView.ID+"/move", ownerToken,
				map[string]string{"id": p4, "direction": "up"})
			So(f.do(http.MethodPost, "/reorder/sessions/"+otherView.ID+"/commit", ownerToken, nil).Code,
				ShouldEqual, http.StatusOK)

			f.do(http.MethodPost, base+"/move", adminToken, map[string]string{"id": p3, "direction": "up"})
			rec := f.do(http.MethodPost, base+"/commit", adminToken, nil)

			Convey("Then the stale commit conflicts", func() {
				So(rec.Code, ShouldEqual, http.StatusConflict)
				var body commitBody
				So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
				So(body.Outcome, ShouldEqual, "failure")
				So(body.Failed, ShouldNotBeEmpty)
				So(body.Failed[0].Kind, ShouldEqual, "conflict")
			})
		})
	})
}

func TestPlayerRoutes(t *testing.T) {
	Convey("Given three players", t, func() {
		f := newFixture(3)
		defer f.svc.Stop()

		Convey("Moving p2 up commits at once", func() {
			rec := f.do(http.MethodPost, "/players/"+f.idOf("p2")+"/move", adminToken, map[string]string{"direction": "up"})
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"moved":true`)
			So(f.nicknames(), ShouldResemble, []string{"p2", "p1", "p3"})
		})

		Convey("Moving the top player up is a no-op", func() {
			rec := f.do(http.MethodPost, "/players/"+f.idOf("p1")+"/move", adminToken, map[string]string{"direction": "up"})
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"moved":false`)
		})

		Convey("Reordering puts the given ids on top", func() {
			rec := f.do(http.MethodPost, "/players/reorder", ownerToken, map[string][]string{"ids": {f.idOf("p3")}})
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(f.nicknames(), ShouldResemble, []string{"p3", "p1", "p2"})
		})

		Convey("Reordering with a repeated id answers 400", func() {
			p1, p2 := f.idOf("p1"), f.idOf("p2")
			rec := f.do(http.MethodPost, "/players/reorder", ownerToken, map[string][]string{"ids": {p2, p1, p2}})
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(f.nicknames(), ShouldResemble, []string{"p1", "p2", "p3"})
		})

		Convey("Users cannot move players", func() {
			rec := f.do(http.MethodPost, "/players/"+f.idOf("p2")+"/move", userToken, map[string]string{"direction": "up"})
			So(rec.Code, ShouldEqual, http.StatusForbidden)
		})
	})
}

// flakyStore fails every rank write after the first allowed ones.
type flakyStore struct {
	repository.Admin
	allowed int
	err     error
}

func (s *flakyStore) UpdateRank(ctx context.Context, u repository.RankUpdate) (model.RankedEntity, error) {
	if s.allowed > 0 {
		s.allowed--
		return s.Admin.UpdateRank(ctx, u)
	}
	return model.RankedEntity{}, s.err
}

func TestCommitStatus(t *testing.T) {
	Convey("Given a store that stops accepting writes", t, func() {
		inner := repository.NewTreapStore(context.Background())
		defer inner.Close()
		store := &flakyStore{Admin: inner, err: errors.New("disk on fire")}

		f := newFixture(3, service.WithStore(store), service.WithTransientRetries(0))
		defer f.svc.Stop()

		Convey("Then a partial write answers 207", func() {
			store.allowed = 1
			rec := f.do(http.MethodPost, "/players/reorder", ownerToken, map[string][]string{"ids": {f.idOf("p2")}})
			So(rec.Code, ShouldEqual, http.StatusMultiStatus)
			var body commitBody
			So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
			So(body.Outcome, ShouldEqual, string(reconcile.Partial))
			So(strings.HasPrefix(body.Summary, "warning: reordered 1 of 3"), ShouldBeTrue)
		})

		Convey("Then a total failure answers 502", func() {
			store.allowed = 0
			rec := f.do(http.MethodPost, "/players/reorder", ownerToken, map[string][]string{"ids": {f.idOf("p2")}})
			So(rec.Code, ShouldEqual, http.StatusBadGateway)
		})
	})
}

func TestErrorMapping(t *testing.T) {
	Convey("Given a stopped service", t, func() {
		svc := service.New()
		So(svc.Start(context.Background()), ShouldBeNil)
		srv := api.NewServer(svc)
		router := srv.Router()
		svc.Stop()

		Convey("Reads answer 503", func() {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/leaderboard", nil))
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}
