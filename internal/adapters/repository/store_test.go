package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ranktree/internal/domain/tree"
	"github.com/okian/ranktree/pkg/metrics"
)

// flakyBackend fails Apply once a number of calls have succeeded and
// records the size of every chunk it receives.
type flakyBackend struct {
	*MemoryBackend
	failAfter int
	calls     int
	sizes     []int
}

func (f *flakyBackend) Apply(ctx context.Context, muts []Mutation) error {
	f.sizes = append(f.sizes, len(muts))
	f.calls++
	if f.failAfter >= 0 && f.calls > f.failAfter {
		return errors.New("injected failure")
	}
	return f.MemoryBackend.Apply(ctx, muts)
}

func testMetrics() *metrics.Manager {
	return metrics.NewManager(metrics.WithPrometheusRegistry(prometheus.NewRegistry()))
}

func TestNodeStore_ReadWrite(t *testing.T) {
	Convey("Given a node store on a memory backend", t, func() {
		ctx := context.Background()
		backend := NewMemoryBackend()
		store := NewNodeStore(backend, "ranker:test", WithMetrics(testMetrics()))

		Convey("Absent nodes and scores are omitted", func() {
			nodes, err := store.GetNodes(ctx, []uint64{0, 1, 2})
			So(err, ShouldBeNil)
			So(nodes, ShouldBeEmpty)

			_, err = store.GetNode(ctx, 0)
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)

			_, err = store.GetScore(ctx, "alice")
			So(IsNotFound(err), ShouldBeTrue)
		})

		Convey("Written documents are read back", func() {
			err := store.PutAll(ctx,
				[]*Node{{ID: 0, ChildCounts: []int64{1, 0, 2}}, {ID: 3, ChildCounts: []int64{0, 2, 0}}},
				[]ScoreRecord{{Name: "alice", Value: tree.Score{100, 5}}, {Name: "bob", Value: tree.Score{7, 0}}},
				nil,
			)
			So(err, ShouldBeNil)

			nodes, err := store.GetNodes(ctx, []uint64{0, 3, 3, 9})
			So(err, ShouldBeNil)
			So(len(nodes), ShouldEqual, 2)
			So(nodes[0].ChildCounts, ShouldResemble, []int64{1, 0, 2})
			So(nodes[0].Total(), ShouldEqual, 3)
			So(nodes[3].ID, ShouldEqual, 3)

			rec, err := store.GetScore(ctx, "alice")
			So(err, ShouldBeNil)
			So(rec.Value, ShouldResemble, tree.Score{100, 5})

			Convey("And deletes remove score records", func() {
				So(store.PutAll(ctx, nil, nil, []string{"alice"}), ShouldBeNil)
				recs, err := store.GetScores(ctx, []string{"alice", "bob"})
				So(err, ShouldBeNil)
				So(len(recs), ShouldEqual, 1)
				So(recs["bob"].Value, ShouldResemble, tree.Score{7, 0})
			})
		})

		Convey("Keys are namespaced under the root", func() {
			So(store.RootKey(), ShouldEqual, "ranker:test")
			So(store.KeyForNode(12), ShouldEqual, "ranker:test/ranker_node:node_12")
			So(store.KeyForScore("a/b"), ShouldEqual, "ranker:test/ranker_score:a%2Fb")
		})

		Convey("Malformed documents surface ErrDecode", func() {
			So(backend.Apply(ctx, []Mutation{{Key: store.KeyForNode(0), Value: []byte(`{`)}}), ShouldBeNil)
			_, err := store.GetNodes(ctx, []uint64{0})
			So(errors.Is(err, ErrDecode), ShouldBeTrue)

			So(backend.Apply(ctx, []Mutation{{Key: store.KeyForScore("x"), Value: []byte(`{"value":"1,a"}`)}}), ShouldBeNil)
			_, err = store.GetScore(ctx, "x")
			So(errors.Is(err, ErrDecode), ShouldBeTrue)
		})

		Convey("An empty write touches nothing", func() {
			backend.ResetStats()
			So(store.PutAll(ctx, nil, nil, nil), ShouldBeNil)
			So(backend.Stats().Applies, ShouldEqual, 0)
		})
	})
}

func TestNodeStore_Chunking(t *testing.T) {
	Convey("Given a backend that counts chunk sizes", t, func() {
		ctx := context.Background()

		Convey("The effective limit is the smaller of store and backend limits", func() {
			fb := &flakyBackend{MemoryBackend: NewMemoryBackend(WithMemoryMaxMutations(5)), failAfter: -1}
			So(NewNodeStore(fb, "r").ChunkLimit(), ShouldEqual, 5)
			So(NewNodeStore(fb, "r", WithMaxMutationsPerTransaction(3)).ChunkLimit(), ShouldEqual, 3)
			So(NewNodeStore(fb, "r", WithMaxMutationsPerTransaction(50)).ChunkLimit(), ShouldEqual, 5)

			unlimited := &flakyBackend{MemoryBackend: NewMemoryBackend(WithMemoryMaxMutations(0)), failAfter: -1}
			So(NewNodeStore(unlimited, "r").ChunkLimit(), ShouldEqual, 0)
		})

		Convey("No chunk exceeds the limit and every mutation lands", func() {
			fb := &flakyBackend{MemoryBackend: NewMemoryBackend(), failAfter: -1}
			store := NewNodeStore(fb, "r", WithMaxMutationsPerTransaction(3), WithMetrics(testMetrics()))

			nodes := make([]*Node, 7)
			for i := range nodes {
				nodes[i] = &Node{ID: uint64(i), ChildCounts: []int64{1, 1}}
			}
			err := store.PutAll(ctx, nodes, []ScoreRecord{{Name: "a", Value: tree.Score{1}}}, []string{"zz"})
			So(err, ShouldBeNil)
			So(fb.sizes, ShouldResemble, []int{3, 3, 3})
			So(fb.Len(), ShouldEqual, 8)
		})

		Convey("A failure on the first chunk is a clean failure", func() {
			fb := &flakyBackend{MemoryBackend: NewMemoryBackend(), failAfter: 0}
			store := NewNodeStore(fb, "r", WithMaxMutationsPerTransaction(2), WithMetrics(testMetrics()))
			err := store.PutAll(ctx, []*Node{{ID: 0, ChildCounts: []int64{1}}, {ID: 1, ChildCounts: []int64{1}}, {ID: 2, ChildCounts: []int64{1}}}, nil, nil)
			So(err, ShouldNotBeNil)
			So(errors.Is(err, ErrPartialWrite), ShouldBeFalse)
			So(fb.Len(), ShouldEqual, 0)
		})

		Convey("A failure after a committed chunk is reported as partial", func() {
			fb := &flakyBackend{MemoryBackend: NewMemoryBackend(), failAfter: 1}
			store := NewNodeStore(fb, "r", WithMaxMutationsPerTransaction(2), WithMetrics(testMetrics()))
			err := store.PutAll(ctx, []*Node{{ID: 0, ChildCounts: []int64{1}}, {ID: 1, ChildCounts: []int64{1}}, {ID: 2, ChildCounts: []int64{1}}}, nil, nil)
			So(errors.Is(err, ErrPartialWrite), ShouldBeTrue)
			So(fb.Len(), ShouldEqual, 2)
		})
	})
}

func TestDefinitionDocument(t *testing.T) {
	Convey("Given a stored definition", t, func() {
		ctx := context.Background()
		backend := NewMemoryBackend()
		def, err := tree.NewDefinition([]int64{0, 1000, -5, 5}, 10)
		So(err, ShouldBeNil)
		So(PutDefinition(ctx, backend, "ranker:d", def), ShouldBeNil)

		Convey("It reads back equal", func() {
			got, err := GetDefinition(ctx, backend, "ranker:d")
			So(err, ShouldBeNil)
			So(got.Equal(def), ShouldBeTrue)
		})

		Convey("A missing definition is ErrNotFound", func() {
			_, err := GetDefinition(ctx, backend, "ranker:none")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("A malformed definition is invalid", func() {
			So(backend.Apply(ctx, []Mutation{{Key: "ranker:bad", Value: []byte(`{"score_range":[0],"branching_factor":2}`)}}), ShouldBeNil)
			_, err := GetDefinition(ctx, backend, "ranker:bad")
			So(errors.Is(err, tree.ErrInvalidDefinition), ShouldBeTrue)
			So(errors.Is(err, ErrDecode), ShouldBeTrue)
		})
	})
}
