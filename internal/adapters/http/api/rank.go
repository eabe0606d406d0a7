package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/okian/ranktree/internal/domain/tree"
	"github.com/okian/ranktree/internal/domain/types"
)

// RankDependencies defines the interface for rank operations.
type RankDependencies interface {
	Rank(ctx context.Context, entity string) (types.RankResponse, error)
	RankOfScore(ctx context.Context, score tree.Score) (types.RankResponse, error)
}

// RankHandler handles rank requests.
type RankHandler struct {
	deps RankDependencies
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps RankDependencies) *RankHandler {
	return &RankHandler{deps: deps}
}

// HandleGetRank handles GET /rank/{entity} requests.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	raw := strings.TrimPrefix(r.URL.EscapedPath(), "/rank/")
	entity, err := url.PathUnescape(raw)
	if err != nil || entity == "" || strings.Contains(raw, "/") {
		writeFailure(w, NewKind(op, ErrBadRequest))
		return
	}
	resp, err := h.deps.Rank(r.Context(), entity)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleRankOfScore handles GET /rank?score=a,b requests.
func (h *RankHandler) HandleRankOfScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.rank_of_score"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query().Get("score")
	if q == "" {
		writeFailure(w, WrapKind(op, ErrBadRequest, errors.New("missing score")))
		return
	}
	score, err := tree.ParseScore(q)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	resp, err := h.deps.RankOfScore(r.Context(), score)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
