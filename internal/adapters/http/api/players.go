package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/clanrank/internal/domain/reconcile"
	"github.com/okian/clanrank/internal/domain/reorder"
)

// PlayerDependencies defines the one-shot reorder operations.
type PlayerDependencies interface {
	MovePlayer(ctx context.Context, entityID string, dir reorder.Direction) (reconcile.CommitResult, bool, error)
	ReorderTo(ctx context.Context, ids []string) (reconcile.CommitResult, error)
}

// PlayerHandler serves /players.
type PlayerHandler struct {
	deps PlayerDependencies
}

// NewPlayerHandler creates a new player handler.
func NewPlayerHandler(deps PlayerDependencies) *PlayerHandler {
	return &PlayerHandler{deps: deps}
}

type playerMoveRequest struct {
	Direction string `json:"direction"`
}

type playerMoveResponse struct {
	commitResponse
	Moved bool `json:"moved"`
}

type reorderRequest struct {
	IDs []string `json:"ids"`
}

// HandleMove handles POST /players/{id}/move: reload, move one step, commit.
func (h *PlayerHandler) HandleMove(w http.ResponseWriter, r *http.Request) {
	const op = "api.player_move"
	var req playerMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	dir, err := reorder.ParseDirection(req.Direction)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	res, moved, err := h.deps.MovePlayer(r.Context(), chi.URLParam(r, "id"), dir)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, commitStatus(res), playerMoveResponse{commitResponse: newCommitResponse(res), Moved: moved})
}

// HandleReorder handles POST /players/reorder with the ids to put on top.
func (h *PlayerHandler) HandleReorder(w http.ResponseWriter, r *http.Request) {
	const op = "api.player_reorder"
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	res, err := h.deps.ReorderTo(r.Context(), req.IDs)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, commitStatus(res), newCommitResponse(res))
}
