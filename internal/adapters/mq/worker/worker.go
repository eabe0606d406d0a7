// Package worker drains queued submissions and applies them to the ranker
// in batches.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/okian/ranktree/internal/domain/model"
	"github.com/okian/ranktree/internal/domain/ranker"
	"github.com/okian/ranktree/internal/domain/tree"
	"github.com/okian/ranktree/pkg/logger"
	"github.com/okian/ranktree/pkg/metrics"
)

const (
	defaultBatchSize      = 64
	poolShutdownTimeout   = 30 * time.Second
	defaultWorkersPerCore = 2
)

// Submission abstracts what workers read off the queue.
type Submission = model.Submission

// Applier writes a set of score changes in one tree update.
type Applier interface {
	SetScores(ctx context.Context, changes map[string]tree.Score) (ranker.UpdateResult, error)
}

// Queue defines how workers receive submissions.
type Queue interface {
	Receive(ctx context.Context) (Submission, bool)
	TryReceive() (Submission, bool)
}

// BatchHook observes the outcome of one applied batch.
type BatchHook func(ctx context.Context, batch []Submission, res ranker.UpdateResult, err error)

// Worker processes submissions until its queue is drained or ctx is done.
type Worker interface {
	Run(ctx context.Context)
	Wait(ctx context.Context) error
}

// sequencer admits batches to the applier in the order they were dequeued.
// recv is held while a batch is taken off the queue, so turns follow queue
// order even when several workers share the queue.
type sequencer struct {
	recv sync.Mutex

	mu      sync.Mutex
	cond    *sync.Cond
	issued  uint64
	serving uint64
}

func newSequencer() *sequencer {
	s := &sequencer{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *sequencer) issue() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn := s.issued
	s.issued++
	return turn
}

func (s *sequencer) await(turn uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.serving != turn {
		s.cond.Wait()
	}
}

func (s *sequencer) done() {
	s.mu.Lock()
	s.serving++
	s.mu.Unlock()
	s.cond.Broadcast()
}

// InMemoryWorker batches queued submissions, keeps the latest one per
// entity and applies each batch with a single SetScores call. Workers of
// one Pool apply their batches in queue order, so a later submission for an
// entity is never overwritten by an earlier one.
type InMemoryWorker struct {
	queue     Queue
	applier   Applier
	name      string
	batchSize int
	hook      BatchHook
	seq       *sequencer

	done chan struct{}

	logger  logger.Logger
	metrics *metrics.Manager
}

// NewInMemoryWorker creates a new worker.
func NewInMemoryWorker(q Queue, applier Applier, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		applier:   applier,
		name:      "worker",
		batchSize: defaultBatchSize,
		seq:       newSequencer(),
		done:      make(chan struct{}),
		logger:    logger.GetOrNop(),
		metrics:   metrics.Global(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run blocks until the queue is closed and drained or ctx is done.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		batch, turn, ok := w.receive(ctx)
		if !ok {
			return
		}
		changes := model.Coalesce(batch)

		w.seq.await(turn)
		err := w.process(ctx, batch, changes)
		w.seq.done()
		if err != nil {
			w.logger.Error(ctx, "error applying batch", logger.Int("size", len(batch)), logger.Error(err))
		}
	}
}

// receive takes the next batch off the queue together with its apply turn.
func (w *InMemoryWorker) receive(ctx context.Context) ([]Submission, uint64, bool) {
	w.seq.recv.Lock()
	defer w.seq.recv.Unlock()

	first, ok := w.queue.Receive(ctx)
	if !ok {
		return nil, 0, false
	}
	batch := w.fill(first)
	return batch, w.seq.issue(), true
}

// fill adds already queued submissions to the batch without blocking.
func (w *InMemoryWorker) fill(first Submission) []Submission { //nolint:gocritic // hugeParam: queue payload is passed by value
	batch := make([]Submission, 1, w.batchSize)
	batch[0] = first
	for len(batch) < w.batchSize {
		s, ok := w.queue.TryReceive()
		if !ok {
			break
		}
		batch = append(batch, s)
	}
	return batch
}

func (w *InMemoryWorker) process(ctx context.Context, batch []Submission, changes map[string]tree.Score) error {
	start := time.Now()
	res, err := w.applier.SetScores(ctx, changes)
	w.metrics.RecordWorkerBatch(len(batch), float64(time.Since(start).Milliseconds()))
	if w.hook != nil {
		w.hook(ctx, batch, res, err)
	}
	if err != nil {
		w.metrics.RecordWorkerError()
		w.metrics.RecordErrorByComponent("worker", errorType(err))
		return fmt.Errorf("apply %d submissions: %w", len(batch), err)
	}
	w.logger.Debug(ctx, "batch applied",
		logger.Int("submissions", len(batch)),
		logger.Int("changed", res.Changed()),
		logger.Int("unchanged", res.Unchanged),
	)
	return nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ranker.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ranker.ErrCorruptState):
		return "corrupt_state"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context_cancelled"
	default:
		return "backend_error"
	}
}

// Wait blocks until Run has returned or ctx is done.
func (w *InMemoryWorker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker %s: %w", w.name, ctx.Err())
	}
}

// Pool manages multiple workers on one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	mu     sync.Mutex
	cancel context.CancelFunc

	logger  logger.Logger
	metrics *metrics.Manager
}

// NewPool creates a pool of workerCount workers. A count below one selects
// twice the number of CPUs. opts apply to every worker.
func NewPool(workerCount int, q Queue, applier Applier, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkersPerCore
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
	}
	seq := newSequencer()
	for i := range p.workers {
		p.workers[i] = NewInMemoryWorker(q, applier,
			append(slices.Clone(opts), WithName("worker-"+strconv.Itoa(i)), withSequencer(seq))...)
	}
	p.logger = p.workers[0].logger
	p.metrics = p.workers[0].metrics
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.metrics.UpdateWorkerCount(len(p.workers))
}

// Shutdown closes the queue and waits for the workers to drain it. Workers
// still running when ctx (or the pool timeout) expires are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var errs []error
	for _, w := range p.workers {
		if err := w.Wait(waitCtx); err != nil {
			errs = append(errs, err)
		}
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.metrics.UpdateWorkerCount(0)

	if len(errs) > 0 {
		p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("workers", len(errs)))
		return fmt.Errorf("shutdown: %w", errors.Join(errs...))
	}
	return nil
}
