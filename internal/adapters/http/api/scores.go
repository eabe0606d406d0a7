package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/ranktree/internal/domain/model"
	"github.com/okian/ranktree/internal/domain/types"
)

// ScoresHandler handles score submissions.
type ScoresHandler struct {
	deps SubmitDependencies
}

// NewScoresHandler creates a new scores handler.
func NewScoresHandler(deps SubmitDependencies) *ScoresHandler {
	return &ScoresHandler{deps: deps}
}

// HandlePostScore handles POST /scores requests.
func (h *ScoresHandler) HandlePostScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_score"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req types.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.Entity) == "" {
		writeFailure(w, WrapKind(op, ErrBadRequest, errors.New("missing entity")))
		return
	}

	id, dup, err := h.deps.Submit(r.Context(), model.Submission{
		ID:         strings.TrimSpace(req.ID),
		Entity:     req.Entity,
		Score:      req.Score,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if dup {
		writeJSON(w, http.StatusOK, types.SubmitResponse{Status: "duplicate", ID: id, Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, types.SubmitResponse{Status: "accepted", ID: id})
}
