// Package service wires the store, reorder sessions, the reconciler and live
// notices into the operations exposed by the HTTP API and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/okian/clanrank/internal/adapters/live"
	noticequeue "github.com/okian/clanrank/internal/adapters/mq/queue"
	"github.com/okian/clanrank/internal/adapters/mq/worker"
	"github.com/okian/clanrank/internal/adapters/repository"
	"github.com/okian/clanrank/internal/config"
	"github.com/okian/clanrank/internal/domain/access"
	"github.com/okian/clanrank/internal/domain/model"
	"github.com/okian/clanrank/internal/domain/ranking"
	"github.com/okian/clanrank/internal/domain/reconcile"
	"github.com/okian/clanrank/internal/domain/reorder"
	"github.com/okian/clanrank/internal/domain/types"
	"github.com/okian/clanrank/pkg/logger"
	"github.com/okian/clanrank/pkg/metrics"
)

const dispatcherShutdownTimeout = 5 * time.Second

// Service implements the API dependencies for the ranked list.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Admin
	writer     *repository.AuthorizedStore
	reconciler *reconcile.Reconciler
	notices    *noticequeue.InMemoryQueue
	dispatcher *worker.Dispatcher
	hub        *live.Hub
	sessions   *xsync.MapOf[string, *sessionEntry]

	// Configuration
	storeDriver      string
	databasePath     string
	ownsStore        bool
	scheme           *ranking.Linear
	maxListSize      int
	transientRetries int
	optimistic       bool
	sessionTTL       time.Duration
	noticeQueueSize  int
	allowedOrigins   []string
	now              func() time.Time

	// State
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	logger logger.Logger
}

// sessionEntry guards one reorder session. Sessions are single-owner but
// HTTP requests for the same session may still race.
type sessionEntry struct {
	mu       sync.Mutex
	id       string
	owner    string
	session  *reorder.Session
	created  time.Time
	lastUsed time.Time

	// Captured at Begin so views never take the service lock while e.mu
	// is held.
	store   repository.Admin
	planner *reconcile.Reconciler
}

// SessionView is the read shape of a reorder session.
type SessionView struct {
	ID        string        `json:"id"`
	Owner     string        `json:"owner"`
	Order     []string      `json:"order"`
	Entries   []types.Entry `json:"entries,omitempty"`
	Changed   bool          `json:"changed"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		storeDriver:      config.DriverMemory,
		databasePath:     "data/clanrank.db",
		ownsStore:        true,
		scheme:           ranking.NewLinear(),
		maxListSize:      reorder.DefaultMaxSize,
		transientRetries: reconcile.DefaultTransientRetries,
		optimistic:       true,
		sessionTTL:       15 * time.Minute,
		noticeQueueSize:  1024,
		now:              time.Now,
		stopCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store and starts background components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting clanrank service...")

	if s.maxListSize > s.scheme.Capacity() {
		return fmt.Errorf("max list size %d exceeds rank capacity %d: %w",
			s.maxListSize, s.scheme.Capacity(), ranking.ErrRankOverflow)
	}
	if s.store == nil {
		store, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		s.store = store
	}

	s.writer = repository.Authorized(s.store)
	s.reconciler = reconcile.New(s.writer,
		reconcile.WithScheme(s.scheme),
		reconcile.WithTransientRetries(s.transientRetries),
		reconcile.WithLogger(s.logger.Named("reconciler")),
	)
	s.sessions = xsync.NewMapOf[string, *sessionEntry]()
	s.notices = noticequeue.NewInMemoryQueue(noticequeue.WithCapacity(s.noticeQueueSize))
	s.hub = live.NewHub(
		live.WithAllowedOrigins(s.allowedOrigins),
		live.WithLogger(s.logger.Named("live")),
	)
	s.dispatcher = worker.NewDispatcher(s.notices, s.hub, worker.WithLogger(s.logger.Named("dispatcher")))
	s.stopCh = make(chan struct{})

	go s.dispatcher.Run(context.WithoutCancel(ctx))
	s.startReaper()

	s.started = true
	s.logger.Info(ctx, "clanrank service started",
		logger.String("store", s.storeDriver),
		logger.Int("maxListSize", s.maxListSize),
		logger.Int64("base", s.scheme.Base()),
		logger.Int64("step", s.scheme.Step()),
		logger.Bool("optimistic", s.optimistic),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) (repository.Admin, error) {
	switch s.storeDriver {
	case config.DriverMemory:
		s.logger.Info(ctx, "using treap store")
		return repository.NewTreapStore(ctx), nil
	case config.DriverSQLite:
		s.logger.Info(ctx, "using sqlite store", logger.String("path", s.databasePath))
		store, err := repository.OpenSQLite(s.databasePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, s.storeDriver)
	}
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping clanrank service...")

	close(s.stopCh)
	s.wg.Wait()

	s.sessions.Range(func(id string, e *sessionEntry) bool {
		e.mu.Lock()
		e.session.Discard()
		e.mu.Unlock()
		s.sessions.Delete(id)
		metrics.RecordSessionEnd("shutdown")
		return true
	})
	metrics.UpdateSessionsActive(0)

	_ = s.notices.Close()
	shutdownCtx, cancel := context.WithTimeout(ctx, dispatcherShutdownTimeout)
	defer cancel()
	select {
	case <-s.dispatcher.Done():
	case <-shutdownCtx.Done():
		_ = s.dispatcher.Shutdown(shutdownCtx)
	}
	_ = s.hub.Close()

	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.logger.Error(ctx, "error closing store", logger.Error(err))
		}
		s.store = nil
	}

	s.started = false
	s.logger.Info(ctx, "clanrank service stopped")
}

// Live returns the websocket handler for order notices.
func (s *Service) Live() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.hub == nil {
		return http.NotFoundHandler()
	}
	return s.hub
}

// Leaderboard returns the top limit entries with positions and medals.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]types.Entry, error) {
	store, err := s.readyStore()
	if err != nil {
		return nil, err
	}
	entities, err := store.FetchOrdered(ctx, limit)
	if err != nil {
		return nil, err
	}
	return types.EntriesFrom(entities), nil
}

// BeginSession snapshots the top limit entities into a new reorder session
// owned by the context actor. limit < 1 uses the maximum window.
func (s *Service) BeginSession(ctx context.Context, limit int) (SessionView, error) {
	store, planner, err := s.ready()
	if err != nil {
		return SessionView{}, err
	}
	actor, err := reorderActor(ctx)
	if err != nil {
		return SessionView{}, err
	}
	if limit < 1 {
		limit = s.maxListSize
	}
	if limit > s.maxListSize {
		return SessionView{}, fmt.Errorf("%w: requested %d, limit %d", reorder.ErrListTooLarge, limit, s.maxListSize)
	}

	entities, err := store.FetchOrdered(ctx, limit)
	if err != nil {
		return SessionView{}, err
	}
	sess, err := reorder.Begin(entities, reorder.WithMaxSize(s.maxListSize))
	if err != nil {
		return SessionView{}, err
	}

	now := s.now()
	e := &sessionEntry{
		id:       model.NewID(),
		owner:    actor.Name,
		session:  sess,
		created:  now,
		lastUsed: now,
		store:    store,
		planner:  planner,
	}
	s.sessions.Store(e.id, e)
	metrics.UpdateSessionsActive(s.sessions.Size())

	s.logger.Info(ctx, "reorder session started",
		logger.String("session", e.id),
		logger.String("actor", actor.Name),
		logger.Int("size", sess.Len()))
	return s.view(ctx, e), nil
}

// Session returns the current state of a session.
func (s *Service) Session(ctx context.Context, id string) (SessionView, error) {
	var view SessionView
	err := s.withSession(ctx, id, func(e *sessionEntry) error {
		view = s.view(ctx, e)
		return nil
	})
	return view, err
}

// Move swaps an entity with its neighbour inside a session. moved is false
// when the entity is already at the edge.
func (s *Service) Move(ctx context.Context, sessionID, entityID string, dir reorder.Direction) (SessionView, bool, error) {
	var (
		view  SessionView
		moved bool
	)
	err := s.withSession(ctx, sessionID, func(e *sessionEntry) error {
		var err error
		_, moved, err = e.session.MoveAdjacent(entityID, dir)
		if err != nil {
			return err
		}
		view = s.view(ctx, e)
		return nil
	})
	return view, moved, err
}

// Insert moves an entity before another inside a session. An empty beforeID
// moves it to the end.
func (s *Service) Insert(ctx context.Context, sessionID, entityID, beforeID string) (SessionView, error) {
	var view SessionView
	err := s.withSession(ctx, sessionID, func(e *sessionEntry) error {
		if _, err := e.session.ReorderByInsertion(entityID, beforeID); err != nil {
			return err
		}
		view = s.view(ctx, e)
		return nil
	})
	return view, err
}

// Commit ends the session and writes its order. With optimistic
// concurrency on, rows changed since the session began fail as conflicts.
func (s *Service) Commit(ctx context.Context, sessionID string) (reconcile.CommitResult, error) {
	var order []string
	var versions map[string]int64
	var rec *reconcile.Reconciler
	err := s.withSession(ctx, sessionID, func(e *sessionEntry) error {
		var err error
		order, err = e.session.End()
		if err != nil {
			return err
		}
		versions = e.session.Versions()
		rec = e.planner
		return nil
	})
	if err != nil {
		return reconcile.CommitResult{}, err
	}
	s.sessions.Delete(sessionID)
	metrics.UpdateSessionsActive(s.sessions.Size())
	metrics.RecordSessionEnd("committed")

	var res reconcile.CommitResult
	if s.optimistic {
		res, err = rec.CommitGuarded(ctx, order, versions)
	} else {
		res, err = rec.Commit(ctx, order)
	}
	if err != nil {
		return res, err
	}
	s.notify(ctx, sessionID, res)
	return res, nil
}

// Discard drops a session without writing anything.
func (s *Service) Discard(ctx context.Context, sessionID string) error {
	err := s.withSession(ctx, sessionID, func(e *sessionEntry) error {
		e.session.Discard()
		return nil
	})
	if err != nil {
		return err
	}
	s.sessions.Delete(sessionID)
	metrics.UpdateSessionsActive(s.sessions.Size())
	metrics.RecordSessionEnd("discarded")
	return nil
}

// MovePlayer reloads the window, moves one entity a single step and commits
// right away. moved is false, and nothing is written, when the entity is
// already at the edge.
func (s *Service) MovePlayer(ctx context.Context, entityID string, dir reorder.Direction) (reconcile.CommitResult, bool, error) {
	view, err := s.BeginSession(ctx, s.maxListSize)
	if err != nil {
		return reconcile.CommitResult{}, false, err
	}
	_, moved, err := s.Move(ctx, view.ID, entityID, dir)
	if err != nil || !moved {
		_ = s.Discard(ctx, view.ID)
		return reconcile.CommitResult{}, false, err
	}
	res, err := s.Commit(ctx, view.ID)
	return res, true, err
}

// ReorderTo places ids at the top of the window in the given order, keeping
// the rest of the window in its current order, and commits. An id listed
// twice is rejected with reorder.ErrDuplicateID before a session is opened.
func (s *Service) ReorderTo(ctx context.Context, ids []string) (reconcile.CommitResult, error) {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return reconcile.CommitResult{}, fmt.Errorf("%w: %s", reorder.ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
	}
	view, err := s.BeginSession(ctx, s.maxListSize)
	if err != nil {
		return reconcile.CommitResult{}, err
	}
	err = s.withSession(ctx, view.ID, func(e *sessionEntry) error {
		for i, id := range ids {
			cur := e.session.Order()
			if i >= len(cur) {
				return fmt.Errorf("%w: %s", reorder.ErrInvalidEntityReference, id)
			}
			if cur[i] == id {
				continue
			}
			if _, err := e.session.ReorderByInsertion(id, cur[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = s.Discard(ctx, view.ID)
		return reconcile.CommitResult{}, err
	}
	return s.Commit(ctx, view.ID)
}

// Seed inserts players below the current bottom of the list.
func (s *Service) Seed(ctx context.Context, nicknames []string) ([]model.RankedEntity, error) {
	store, err := s.readyStore()
	if err != nil {
		return nil, err
	}
	n, err := store.Count(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.RankedEntity, 0, len(nicknames))
	for i, name := range nicknames {
		rank := max(s.scheme.ValueAt(n+i), 0)
		e, err := s.writer.Insert(ctx, model.RankedEntity{Nickname: name, RankValue: rank})
		if err != nil {
			return out, fmt.Errorf("seed %q: %w", name, err)
		}
		out = append(out, e)
	}
	s.logger.Info(ctx, "seeded players", logger.Int("count", len(out)))
	return out, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":               s.started,
		"storeDriver":           s.storeDriver,
		"maxListSize":           s.maxListSize,
		"baseRankValue":         s.scheme.Base(),
		"rankStep":              s.scheme.Step(),
		"optimisticConcurrency": s.optimistic,
	}
	if s.started {
		ctx := context.Background()
		if n, err := s.store.Count(ctx); err == nil {
			stats["totalPlayers"] = n
			metrics.UpdateStoreRecords(n)
		}
		stats["activeSessions"] = s.sessions.Size()
		stats["queuedNotices"] = s.notices.Len()
		stats["liveClients"] = s.hub.Clients()
	}
	return stats
}

// ExpireIdle discards sessions idle for longer than the TTL and returns how
// many were dropped.
func (s *Service) ExpireIdle(ctx context.Context) int {
	if s.sessions == nil {
		return 0
	}
	cutoff := s.now().Add(-s.sessionTTL)
	expired := 0
	s.sessions.Range(func(id string, e *sessionEntry) bool {
		e.mu.Lock()
		stale := e.lastUsed.Before(cutoff)
		if stale {
			e.session.Discard()
		}
		e.mu.Unlock()
		if stale {
			s.sessions.Delete(id)
			metrics.RecordSessionEnd("expired")
			s.logger.Info(ctx, "reorder session expired", logger.String("session", id), logger.String("owner", e.owner))
			expired++
		}
		return true
	})
	if expired > 0 {
		metrics.UpdateSessionsActive(s.sessions.Size())
	}
	return expired
}

func (s *Service) startReaper() {
	interval := max(s.sessionTTL/4, time.Second)
	stop := s.stopCh
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.ExpireIdle(context.Background())
			}
		}
	}()
}

func (s *Service) readyStore() (repository.Admin, error) {
	store, _, err := s.ready()
	return store, err
}

func (s *Service) ready() (repository.Admin, *reconcile.Reconciler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.store, s.reconciler, nil
}

// withSession runs fn with the session locked, after checking the caller
// owns it.
func (s *Service) withSession(ctx context.Context, id string, fn func(e *sessionEntry) error) error {
	if _, err := s.readyStore(); err != nil {
		return err
	}
	actor, err := reorderActor(ctx)
	if err != nil {
		return err
	}
	e, ok := s.sessions.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.owner != actor.Name || e.session.Closed() {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.lastUsed = s.now()
	return fn(e)
}

func (s *Service) view(ctx context.Context, e *sessionEntry) SessionView {
	order := e.session.Order()
	v := SessionView{
		ID:        e.id,
		Owner:     e.owner,
		Order:     order,
		Changed:   e.session.Changed(),
		CreatedAt: e.created,
		ExpiresAt: e.lastUsed.Add(s.sessionTTL),
	}
	// Entries show the planned ranks; a failed lookup just leaves them out.
	planned, err := e.planner.Plan(order)
	if err != nil {
		return v
	}
	v.Entries = make([]types.Entry, len(planned))
	for i, a := range planned {
		entry := types.Entry{Position: i + 1, ID: a.ID, RankValue: a.RankValue, Medal: types.MedalFor(i + 1)}
		if got, err := e.store.Get(ctx, a.ID); err == nil {
			entry.Nickname = got.Nickname
			entry.Version = got.Version
			entry.UpdatedAt = got.UpdatedAt
		}
		v.Entries[i] = entry
	}
	return v
}

func (s *Service) notify(ctx context.Context, sessionID string, res reconcile.CommitResult) {
	actor, _ := access.ActorFrom(ctx)
	n := model.Notice{
		Kind:      model.NoticeOrderCommitted,
		SessionID: sessionID,
		Actor:     actor.Name,
		Order:     res.Succeeded,
		Succeeded: len(res.Succeeded),
		Total:     res.Total,
		At:        s.now().UTC(),
	}
	if err := s.notices.Enqueue(context.WithoutCancel(ctx), n); err != nil {
		s.logger.Warn(ctx, "order notice dropped", logger.String("session", sessionID), logger.Error(err))
	}
}

func reorderActor(ctx context.Context) (access.Actor, error) {
	if err := access.RequireReorder(ctx); err != nil {
		return access.Actor{}, err
	}
	a, _ := access.ActorFrom(ctx)
	return a, nil
}

// IsClientError reports whether err stems from bad input rather than a
// server fault.
func IsClientError(err error) bool {
	return errors.Is(err, reorder.ErrInvalidEntityReference) ||
		errors.Is(err, reorder.ErrInvalidDirection) ||
		errors.Is(err, reorder.ErrListTooLarge) ||
		errors.Is(err, reorder.ErrDuplicateID) ||
		errors.Is(err, repository.ErrInvalidLimit)
}
