// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/okian/clanrank/internal/adapters/repository"
	service "github.com/okian/clanrank/internal/app"
	"github.com/okian/clanrank/internal/domain/access"
	"github.com/okian/clanrank/internal/domain/reconcile"
	"github.com/okian/clanrank/internal/domain/reorder"
	"github.com/okian/clanrank/internal/domain/types"
	"github.com/okian/clanrank/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	LeaderboardDependencies
	SessionDependencies
	PlayerDependencies
	StatsProvider

	// Live serves the websocket endpoint for order notices.
	Live() http.Handler
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	leaderboardHandler *LeaderboardHandler
	sessionHandler     *SessionHandler
	playerHandler      *PlayerHandler
	live               http.Handler
	auth               *Authenticator
	allowedOrigins     []string
	requestTimeout     time.Duration
	logger             logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, reorder.DefaultMaxSize),
		sessionHandler:     NewSessionHandler(deps),
		playerHandler:      NewPlayerHandler(deps),
		live:               deps.Live(),
		auth:               NewAuthenticator(nil),
		requestTimeout:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("http")
	}
	return s
}

// Router builds the chi router with middleware and every route attached.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.auth.Middleware)

	s.Register(r)
	return r
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(r chi.Router) {
	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/metrics", MetricsMiddleware(s.healthHandler.HandleMetrics, "metrics"))
	// The websocket upgrade must not sit behind a timeout.
	r.Get("/live", s.live.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))

		r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
		r.Get("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))

		r.Route("/reorder/sessions", func(r chi.Router) {
			r.Post("/", MetricsMiddleware(s.sessionHandler.HandleBegin, "session_begin"))
			r.Get("/{id}", MetricsMiddleware(s.sessionHandler.HandleGet, "session_get"))
			r.Delete("/{id}", MetricsMiddleware(s.sessionHandler.HandleDiscard, "session_discard"))
			r.Post("/{id}/move", MetricsMiddleware(s.sessionHandler.HandleMove, "session_move"))
			r.Post("/{id}/insert", MetricsMiddleware(s.sessionHandler.HandleInsert, "session_insert"))
			r.Post("/{id}/commit", MetricsMiddleware(s.sessionHandler.HandleCommit, "session_commit"))
		})

		r.Post("/players/{id}/move", MetricsMiddleware(s.playerHandler.HandleMove, "player_move"))
		r.Post("/players/reorder", MetricsMiddleware(s.playerHandler.HandleReorder, "player_reorder"))
	})
}

// ListenAndServe runs an HTTP server on addr until ctx is cancelled, then
// shuts it down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "http server listening", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	s.logger.Info(ctx, "shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps a service error onto a status and code.
func writeServiceError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), service.IsClientError(err):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, access.ErrForbidden), errors.Is(err, repository.ErrUnauthorized):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, reorder.ErrSessionClosed), errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// commitStatus maps a commit outcome to the response status: 200 when every
// row landed, 207 when some did, and for a total failure 403, 409 or 502
// depending on why.
func commitStatus(res reconcile.CommitResult) int {
	switch res.Outcome() {
	case reconcile.Success:
		return http.StatusOK
	case reconcile.Partial:
		return http.StatusMultiStatus
	}
	switch {
	case res.HasKind(reconcile.KindUnauthorized):
		return http.StatusForbidden
	case res.OnlyKind(reconcile.KindConflict):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
