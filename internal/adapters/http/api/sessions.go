package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/clanrank/internal/app"
	"github.com/okian/clanrank/internal/domain/reconcile"
	"github.com/okian/clanrank/internal/domain/reorder"
)

// SessionDependencies defines the reorder session operations.
type SessionDependencies interface {
	BeginSession(ctx context.Context, limit int) (service.SessionView, error)
	Session(ctx context.Context, id string) (service.SessionView, error)
	Move(ctx context.Context, sessionID, entityID string, dir reorder.Direction) (service.SessionView, bool, error)
	Insert(ctx context.Context, sessionID, entityID, beforeID string) (service.SessionView, error)
	Commit(ctx context.Context, sessionID string) (reconcile.CommitResult, error)
	Discard(ctx context.Context, sessionID string) error
}

// SessionHandler serves /reorder/sessions.
type SessionHandler struct {
	deps SessionDependencies
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(deps SessionDependencies) *SessionHandler {
	return &SessionHandler{deps: deps}
}

type beginRequest struct {
	Limit int `json:"limit"`
}

type moveRequest struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
}

type insertRequest struct {
	ID       string `json:"id"`
	BeforeID string `json:"before_id"`
}

type moveResponse struct {
	service.SessionView
	Moved bool `json:"moved"`
}

// commitResponse is a CommitResult plus the outcome and user-facing text.
type commitResponse struct {
	reconcile.CommitResult
	Outcome reconcile.Outcome `json:"outcome"`
	Message string            `json:"message"`
	Summary string            `json:"summary"`
}

func newCommitResponse(res reconcile.CommitResult) commitResponse {
	return commitResponse{
		CommitResult: res,
		Outcome:      res.Outcome(),
		Message:      res.Message(),
		Summary:      res.Summary(),
	}
}

// HandleBegin handles POST /reorder/sessions. The body is optional.
func (h *SessionHandler) HandleBegin(w http.ResponseWriter, r *http.Request) {
	const op = "api.begin_session"
	var req beginRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	view, err := h.deps.BeginSession(r.Context(), req.Limit)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// HandleGet handles GET /reorder/sessions/{id}.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, Wrap("api.get_session", err))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleMove handles POST /reorder/sessions/{id}/move.
func (h *SessionHandler) HandleMove(w http.ResponseWriter, r *http.Request) {
	const op = "api.session_move"
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	dir, err := reorder.ParseDirection(req.Direction)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	view, moved, err := h.deps.Move(r.Context(), chi.URLParam(r, "id"), req.ID, dir)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, moveResponse{SessionView: view, Moved: moved})
}

// HandleInsert handles POST /reorder/sessions/{id}/insert.
func (h *SessionHandler) HandleInsert(w http.ResponseWriter, r *http.Request) {
	const op = "api.session_insert"
	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	view, err := h.deps.Insert(r.Context(), chi.URLParam(r, "id"), req.ID, req.BeforeID)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleCommit handles POST /reorder/sessions/{id}/commit.
func (h *SessionHandler) HandleCommit(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Commit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, Wrap("api.session_commit", err))
		return
	}
	writeJSON(w, commitStatus(res), newCommitResponse(res))
}

// HandleDiscard handles DELETE /reorder/sessions/{id}.
func (h *SessionHandler) HandleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Discard(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, Wrap("api.session_discard", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeOptional decodes a JSON body into v, treating an empty body as {}.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
