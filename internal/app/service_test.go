package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ranktree/internal/adapters/mq/queue"
	"github.com/okian/ranktree/internal/adapters/repository"
	service "github.com/okian/ranktree/internal/app"
	"github.com/okian/ranktree/internal/domain/model"
	"github.com/okian/ranktree/internal/domain/ranker"
	"github.com/okian/ranktree/internal/domain/tree"
	"github.com/okian/ranktree/pkg/metrics"
)

func newService(opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithMetrics(metrics.NewManager(metrics.WithPrometheusRegistry(prometheus.NewRegistry()))),
		service.WithRanker("test", []int64{0, 1000}, 10),
		service.WithWorkerCount(2),
	}
	return service.New(append(base, opts...)...)
}

// eventually polls cond until it holds or a second has passed.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		ctx := context.Background()
		svc := newService()

		Convey("Operations fail before Start", func() {
			_, _, err := svc.Submit(ctx, model.Submission{Entity: "a", Score: tree.Score{1}})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.GetStats(ctx)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.Ranker(), ShouldBeNil)
		})

		Convey("Start and Stop are idempotent", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Ranker(), ShouldNotBeNil)
			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)

			_, err := svc.Count(ctx)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})

		Convey("A conflicting stored definition fails Start", func() {
			backend := repository.NewMemoryBackend()
			_, err := ranker.Create(ctx, backend, "test", []int64{0, 10}, 2)
			So(err, ShouldBeNil)
			err = newService(service.WithBackend(backend)).Start(ctx)
			So(errors.Is(err, ranker.ErrDefinitionConflict), ShouldBeTrue)
		})
	})
}

func TestService_Submissions(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := newService()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When submitting scores", func() {
			for i, entity := range []string{"a", "b", "c"} {
				_, dup, err := svc.Submit(ctx, model.Submission{ID: entity, Entity: entity, Score: tree.Score{int64(100 * (i + 1))}})
				So(err, ShouldBeNil)
				So(dup, ShouldBeFalse)
			}

			Convey("Then they are applied by the workers", func() {
				So(eventually(func() bool {
					n, _ := svc.Count(ctx)
					return n == 3
				}), ShouldBeTrue)

				rank, err := svc.Rank(ctx, "a")
				So(err, ShouldBeNil)
				So(rank.Rank, ShouldEqual, 2)
				So(rank.Score, ShouldResemble, []int64{100})

				top, err := svc.ScoreAtRank(ctx, 0, false)
				So(err, ShouldBeNil)
				So(top.Score, ShouldResemble, []int64{300})

				bound, err := svc.ScoreAtRank(ctx, 0, true)
				So(err, ShouldBeNil)
				So(bound.Score, ShouldResemble, []int64{999})
				So(bound.Approximate, ShouldBeTrue)

				byScore, err := svc.RankOfScore(ctx, tree.Score{150})
				So(err, ShouldBeNil)
				So(byScore.Rank, ShouldEqual, 2)

				stats, err := svc.GetStats(ctx)
				So(err, ShouldBeNil)
				So(stats.TotalRanked, ShouldEqual, 3)
				So(stats.Accepted, ShouldEqual, 3)
				So(stats.Handle, ShouldEqual, string(ranker.HandleFor("test")))
				So(stats.ScoreRange, ShouldResemble, []int64{0, 1000})
			})

			Convey("Then a retried id is a duplicate", func() {
				_, dup, err := svc.Submit(ctx, model.Submission{ID: "a", Entity: "a", Score: tree.Score{999}})
				So(err, ShouldBeNil)
				So(dup, ShouldBeTrue)
				stats, _ := svc.GetStats(ctx)
				So(stats.Duplicates, ShouldEqual, 1)
			})
		})

		Convey("When a submission has no id", func() {
			id, dup, err := svc.Submit(ctx, model.Submission{Entity: "x", Score: tree.Score{1}})
			So(err, ShouldBeNil)
			So(dup, ShouldBeFalse)
			So(id, ShouldNotBeBlank)
		})

		Convey("When a submission is invalid", func() {
			_, _, err := svc.Submit(ctx, model.Submission{Entity: " ", Score: tree.Score{1}})
			So(errors.Is(err, service.ErrInvalidSubmission), ShouldBeTrue)

			_, _, err = svc.Submit(ctx, model.Submission{Entity: "x", Score: tree.Score{1000}})
			So(errors.Is(err, service.ErrInvalidSubmission), ShouldBeTrue)
			So(errors.Is(err, ranker.ErrOutOfRange), ShouldBeTrue)
		})

		Convey("When a removal is applied synchronously", func() {
			_, err := svc.Apply(ctx, map[string]tree.Score{"p": {5}, "q": {6}})
			So(err, ShouldBeNil)
			res, err := svc.Apply(ctx, map[string]tree.Score{"p": nil})
			So(err, ShouldBeNil)
			So(res.Removed, ShouldEqual, 1)

			_, err = svc.Rank(ctx, "p")
			So(errors.Is(err, ranker.ErrNotFound), ShouldBeTrue)
			n, _ := svc.Count(ctx)
			So(n, ShouldEqual, 1)
		})
	})
}

func TestService_Backpressure(t *testing.T) {
	Convey("Given a service with a tiny queue and a blocked backend", t, func() {
		ctx := context.Background()
		backend := &slowBackend{MemoryBackend: repository.NewMemoryBackend(), gate: make(chan struct{})}
		svc := newService(service.WithBackend(backend), service.WithQueueSize(2), service.WithWorkerCount(1), service.WithBatchSize(1))
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When more submissions arrive than fit", func() {
			var full int
			for i := 0; i < 10; i++ {
				_, _, err := svc.Submit(ctx, model.Submission{ID: fmt.Sprint(i), Entity: fmt.Sprint("e", i), Score: tree.Score{int64(i)}})
				if errors.Is(err, queue.ErrFull) {
					full++
				}
			}

			Convey("Then the overflow is rejected and can be retried", func() {
				So(full, ShouldBeGreaterThan, 0)
				backend.open()
				So(eventually(func() bool {
					stats, err := svc.GetStats(ctx)
					return err == nil && stats.QueueDepth == 0 && stats.TotalRanked == int64(10-full)
				}), ShouldBeTrue)

				_, dup, err := svc.Submit(ctx, model.Submission{ID: "9", Entity: "e9", Score: tree.Score{9}})
				So(err, ShouldBeNil)
				So(dup, ShouldBeFalse)
				So(svc.Stop(ctx), ShouldBeNil)

				n, err := svc.Count(ctx)
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(n, ShouldEqual, 0)
			})
		})
	})
}

// slowBackend blocks writes until the gate opens.
type slowBackend struct {
	*repository.MemoryBackend
	gate chan struct{}
	once sync.Once
}

func (b *slowBackend) Apply(ctx context.Context, muts []repository.Mutation) error {
	if len(muts) == 1 && muts[0].Key == string(ranker.HandleFor("test")) {
		return b.MemoryBackend.Apply(ctx, muts)
	}
	<-b.gate
	return b.MemoryBackend.Apply(ctx, muts)
}

func (b *slowBackend) open() { b.once.Do(func() { close(b.gate) }) }

// lagBackend delays every batched read.
type lagBackend struct {
	*repository.MemoryBackend
}

func (b *lagBackend) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	docs, err := b.MemoryBackend.GetMulti(ctx, keys)
	time.Sleep(100 * time.Microsecond)
	return docs, err
}

func TestService_ConcurrentWorkers(t *testing.T) {
	Convey("Given a service with four workers applying one submission each", t, func() {
		ctx := context.Background()
		backend := &lagBackend{MemoryBackend: repository.NewMemoryBackend()}
		svc := newService(service.WithBackend(backend), service.WithWorkerCount(4), service.WithBatchSize(1))
		So(svc.Start(ctx), ShouldBeNil)

		for i := range 400 {
			_, _, err := svc.Submit(ctx, model.Submission{Entity: fmt.Sprint("e", i), Score: tree.Score{int64(i)}})
			So(err, ShouldBeNil)
			_, _, err = svc.Submit(ctx, model.Submission{Entity: "x", Score: tree.Score{int64(i)}})
			So(err, ShouldBeNil)
		}
		So(svc.Stop(ctx), ShouldBeNil)

		Convey("Then the tree counts every entity once and keeps the latest score", func() {
			r := svc.Ranker()
			total, err := r.TotalRankedScores(ctx)
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 401)

			score, err := r.GetScore(ctx, "x")
			So(err, ShouldBeNil)
			So(score, ShouldResemble, tree.Score{399})
		})
	})
}
