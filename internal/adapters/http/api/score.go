package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/ranktree/internal/domain/types"
)

// ScoreDependencies defines the interface for inverse rank lookups.
type ScoreDependencies interface {
	ScoreAtRank(ctx context.Context, rank int64, approximate bool) (types.ScoreResponse, error)
}

// ScoreHandler handles score-at-rank requests.
type ScoreHandler struct {
	deps ScoreDependencies
}

// NewScoreHandler creates a new score handler.
func NewScoreHandler(deps ScoreDependencies) *ScoreHandler {
	return &ScoreHandler{deps: deps}
}

// HandleGetScore handles GET /score?rank=N&approximate=bool requests.
func (h *ScoreHandler) HandleGetScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_score"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	if q.Get("rank") == "" {
		writeFailure(w, WrapKind(op, ErrBadRequest, errors.New("missing rank")))
		return
	}
	rank, err := strconv.ParseInt(q.Get("rank"), 10, 64)
	if err != nil || rank < 0 {
		writeFailure(w, WrapKind(op, ErrBadRequest, errors.New("rank must be a non-negative integer")))
		return
	}
	var approximate bool
	if v := q.Get("approximate"); v != "" {
		if approximate, err = strconv.ParseBool(v); err != nil {
			writeFailure(w, WrapKind(op, ErrBadRequest, err))
			return
		}
	}

	resp, err := h.deps.ScoreAtRank(r.Context(), rank, approximate)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
