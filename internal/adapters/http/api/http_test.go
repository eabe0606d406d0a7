package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/ranktree/internal/adapters/http/api"
	"github.com/okian/ranktree/internal/adapters/mq/queue"
	service "github.com/okian/ranktree/internal/app"
	"github.com/okian/ranktree/internal/domain/model"
	"github.com/okian/ranktree/internal/domain/ranker"
	"github.com/okian/ranktree/internal/domain/tree"
	"github.com/okian/ranktree/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

type mockDeps struct {
	submitted []model.Submission
	submitErr error
	duplicate bool

	rank      types.RankResponse
	rankErr   error
	lastScore tree.Score

	score       types.ScoreResponse
	scoreErr    error
	lastRank    int64
	approximate bool

	stats    types.Stats
	statsErr error
}

func (m *mockDeps) Submit(_ context.Context, sub model.Submission) (string, bool, error) {
	if m.submitErr != nil {
		return "", false, m.submitErr
	}
	m.submitted = append(m.submitted, sub)
	id := sub.ID
	if id == "" {
		id = "generated"
	}
	return id, m.duplicate, nil
}

func (m *mockDeps) Rank(_ context.Context, entity string) (types.RankResponse, error) {
	if m.rankErr != nil {
		return types.RankResponse{}, m.rankErr
	}
	resp := m.rank
	resp.Entity = entity
	return resp, nil
}

func (m *mockDeps) RankOfScore(_ context.Context, score tree.Score) (types.RankResponse, error) {
	m.lastScore = score
	if m.rankErr != nil {
		return types.RankResponse{}, m.rankErr
	}
	return types.RankResponse{Score: score, Rank: m.rank.Rank}, nil
}

func (m *mockDeps) ScoreAtRank(_ context.Context, rank int64, approximate bool) (types.ScoreResponse, error) {
	m.lastRank, m.approximate = rank, approximate
	if m.scoreErr != nil {
		return types.ScoreResponse{}, m.scoreErr
	}
	return m.score, nil
}

func (m *mockDeps) GetStats(context.Context) (types.Stats, error) {
	return m.stats, m.statsErr
}

func newMux(deps *mockDeps) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps).Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body.Code
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDeps{stats: types.Stats{Handle: "h", TotalRanked: 3}}
		mux := newMux(deps)

		Convey("Then /healthz serves the metrics exposition", func() {
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then /stats returns the provider snapshot", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var got types.Stats
			So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
			So(got.Handle, ShouldEqual, "h")
			So(got.TotalRanked, ShouldEqual, 3)
		})

		Convey("Then a stats failure is a 500", func() {
			deps.statsErr = errors.New("backend down")
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(errorCode(w), ShouldEqual, "internal_error")
		})

		Convey("Then unknown methods are not routed", func() {
			So(do(mux, http.MethodDelete, "/stats", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, http.MethodGet, "/scores", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestScoresHandler(t *testing.T) {
	Convey("Given the scores endpoint", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When a valid submission is posted", func() {
			w := do(mux, http.MethodPost, "/scores", `{"id":"s-1","entity":"alice","score":[120,3]}`)

			Convey("Then it is accepted", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				var resp types.SubmitResponse
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Status, ShouldEqual, "accepted")
				So(resp.ID, ShouldEqual, "s-1")
				So(deps.submitted, ShouldHaveLength, 1)
				So(deps.submitted[0].Entity, ShouldEqual, "alice")
				So(deps.submitted[0].Score.Equal(tree.Score{120, 3}), ShouldBeTrue)
				So(deps.submitted[0].ReceivedAt.IsZero(), ShouldBeFalse)
			})
		})

		Convey("When the score is omitted", func() {
			w := do(mux, http.MethodPost, "/scores", `{"entity":"alice"}`)

			Convey("Then the submission is a removal with a generated id", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(deps.submitted[0].IsRemoval(), ShouldBeTrue)
				So(w.Body.String(), ShouldContainSubstring, `"generated"`)
			})
		})

		Convey("When the submission id was already seen", func() {
			deps.duplicate = true
			w := do(mux, http.MethodPost, "/scores", `{"id":"s-1","entity":"alice","score":[1]}`)

			Convey("Then it is acknowledged as a duplicate", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"duplicate":true`)
			})
		})

		Convey("When the body is malformed", func() {
			for _, body := range []string{`{`, `{"entity":""}`, `{"entity":"a","score":"high"}`} {
				w := do(mux, http.MethodPost, "/scores", body)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "bad_request")
			}
			So(deps.submitted, ShouldBeEmpty)
		})

		Convey("When the body exceeds the size limit", func() {
			big := fmt.Sprintf(`{"entity":"%s"}`, strings.Repeat("x", 2<<20))
			So(do(mux, http.MethodPost, "/scores", big).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When submission fails downstream", func() {
			cases := []struct {
				err    error
				status int
			}{
				{queue.ErrFull, http.StatusTooManyRequests},
				{fmt.Errorf("x: %w", api.ErrBackpressure), http.StatusTooManyRequests},
				{queue.ErrClosed, http.StatusServiceUnavailable},
				{service.ErrNotStarted, http.StatusServiceUnavailable},
				{service.ErrInvalidSubmission, http.StatusBadRequest},
				{tree.ErrOutOfRange, http.StatusBadRequest},
				{errors.New("disk on fire"), http.StatusInternalServerError},
			}
			for _, tc := range cases {
				deps.submitErr = tc.err
				w := do(mux, http.MethodPost, "/scores", `{"entity":"alice","score":[1]}`)
				So(w.Code, ShouldEqual, tc.status)
			}
		})
	})
}

func TestRankHandler(t *testing.T) {
	Convey("Given the rank endpoints", t, func() {
		deps := &mockDeps{rank: types.RankResponse{Score: []int64{10}, Rank: 4}}
		mux := newMux(deps)

		Convey("When an entity rank is requested", func() {
			w := do(mux, http.MethodGet, "/rank/team%2Fa", "")

			Convey("Then the escaped entity name is decoded", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp types.RankResponse
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Entity, ShouldEqual, "team/a")
				So(resp.Rank, ShouldEqual, 4)
			})
		})

		Convey("When the entity is missing or unknown", func() {
			So(do(mux, http.MethodGet, "/rank/", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/rank/a/b", "").Code, ShouldEqual, http.StatusBadRequest)

			deps.rankErr = fmt.Errorf("entity %q: %w", "ghost", ranker.ErrNotFound)
			w := do(mux, http.MethodGet, "/rank/ghost", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "not_found")
		})

		Convey("When the rank of a score is requested", func() {
			w := do(mux, http.MethodGet, "/rank?score=100,-2", "")

			Convey("Then the parsed score is forwarded", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastScore.Equal(tree.Score{100, -2}), ShouldBeTrue)
				So(w.Body.String(), ShouldContainSubstring, `"rank":4`)
			})
		})

		Convey("When the score query is invalid", func() {
			So(do(mux, http.MethodGet, "/rank", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/rank?score=abc", "").Code, ShouldEqual, http.StatusBadRequest)

			deps.rankErr = fmt.Errorf("score: %w", tree.ErrOutOfRange)
			So(do(mux, http.MethodGet, "/rank?score=1", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestScoreHandler(t *testing.T) {
	Convey("Given the score endpoint", t, func() {
		deps := &mockDeps{score: types.ScoreResponse{Rank: 2, Score: []int64{50}, RankOfTie: 1}}
		mux := newMux(deps)

		Convey("When an exact lookup is requested", func() {
			w := do(mux, http.MethodGet, "/score?rank=2", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.lastRank, ShouldEqual, 2)
			So(deps.approximate, ShouldBeFalse)
			So(w.Body.String(), ShouldContainSubstring, `"rank_of_tie":1`)
		})

		Convey("When an approximate lookup is requested", func() {
			So(do(mux, http.MethodGet, "/score?rank=7&approximate=true", "").Code, ShouldEqual, http.StatusOK)
			So(deps.approximate, ShouldBeTrue)
		})

		Convey("When the query is invalid", func() {
			for _, q := range []string{"", "?rank=", "?rank=-1", "?rank=x", "?rank=1&approximate=maybe"} {
				So(do(mux, http.MethodGet, "/score"+q, "").Code, ShouldEqual, http.StatusBadRequest)
			}
		})

		Convey("When the rank is past the last ranked score", func() {
			deps.scoreErr = fmt.Errorf("rank 99: %w", ranker.ErrNotFound)
			So(do(mux, http.MethodGet, "/score?rank=99", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestOpError(t *testing.T) {
	Convey("Given wrapped API errors", t, func() {
		cause := errors.New("cause")

		So(errors.Is(api.WrapKind("op", api.ErrBadRequest, cause), api.ErrBadRequest), ShouldBeTrue)
		So(errors.Is(api.WrapKind("op", api.ErrBadRequest, cause), cause), ShouldBeTrue)
		So(api.Wrap("op", nil), ShouldBeNil)
		So(api.NewKind("op", api.ErrUnavailable).Error(), ShouldEqual, "op: service unavailable")
		So(api.WrapKind("op", api.ErrBadRequest, cause).Error(), ShouldEqual, "op: bad request: cause")
		So(api.Wrap("op", cause).Error(), ShouldEqual, "op: cause")
	})
}
