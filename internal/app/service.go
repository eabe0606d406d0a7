// Package service wires the ranker, the submission queue and the worker pool
// into the operations served over HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ranktree/internal/adapters/mq/queue"
	"github.com/okian/ranktree/internal/adapters/mq/worker"
	"github.com/okian/ranktree/internal/adapters/repository"
	"github.com/okian/ranktree/internal/domain/dedupe"
	"github.com/okian/ranktree/internal/domain/model"
	"github.com/okian/ranktree/internal/domain/ranker"
	"github.com/okian/ranktree/internal/domain/tree"
	"github.com/okian/ranktree/internal/domain/types"
	"github.com/okian/ranktree/pkg/logger"
	"github.com/okian/ranktree/pkg/metrics"
)

const (
	defaultRankerName      = "global"
	defaultBranchingFactor = 16
	defaultQueueSize       = 100000
	defaultDedupeSize      = 50000
	defaultBatchSize       = 256
	stopTimeout            = 30 * time.Second
)

var defaultScoreRange = []int64{0, 1_000_000}

// Service implements the API dependencies of the ranking service.
type Service struct {
	mu sync.RWMutex

	// Core components
	backend    repository.Backend
	ownBackend bool
	ranker     *ranker.Ranker
	deduper    dedupe.Deduper
	queue      *queue.InMemoryQueue
	pool       *worker.Pool

	// Configuration
	rankerName      string
	scoreRange      []int64
	branchingFactor int64
	maxMutations    int
	workerCount     int
	queueSize       int
	dedupeSize      int
	batchSize       int

	// State
	started bool

	accepted   atomic.Int64
	duplicates atomic.Int64
	applied    atomic.Int64
	failed     atomic.Int64

	logger  logger.Logger
	metrics *metrics.Manager
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		rankerName:      defaultRankerName,
		scoreRange:      defaultScoreRange,
		branchingFactor: defaultBranchingFactor,
		workerCount:     runtime.NumCPU(),
		queueSize:       defaultQueueSize,
		dedupeSize:      defaultDedupeSize,
		batchSize:       defaultBatchSize,
		metrics:         metrics.Global(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates (or reopens) the ranker and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.GetOrNop().Named("service")
	}
	s.logger.Info(ctx, "starting ranking service...")

	if s.backend == nil {
		s.backend = repository.NewMemoryBackend()
		s.ownBackend = true
		s.logger.Info(ctx, "using in-memory backend")
	}

	r, err := ranker.Create(ctx, s.backend, s.rankerName, s.scoreRange, s.branchingFactor,
		ranker.WithLogger(s.logger.Named("ranker")),
		ranker.WithMaxMutationsPerTransaction(s.maxMutations),
		ranker.WithMetrics(s.metrics),
	)
	if err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	s.ranker = r

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = queue.NewInMemoryQueue(
		queue.WithCapacity(s.queueSize),
		queue.WithMetrics(s.metrics),
	)
	s.pool = worker.NewPool(s.workerCount, s.queue, s.ranker,
		worker.WithBatchSize(s.batchSize),
		worker.WithLogger(s.logger),
		worker.WithMetrics(s.metrics),
		worker.WithBatchHook(s.observeBatch),
	)
	// Workers outlive the start request.
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "ranking service started",
		logger.String("handle", string(r.Handle())),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("batchSize", s.batchSize),
	)
	return nil
}

func (s *Service) observeBatch(_ context.Context, batch []model.Submission, _ ranker.UpdateResult, err error) {
	if err != nil {
		s.failed.Add(int64(len(batch)))
		return
	}
	s.applied.Add(int64(len(batch)))
}

// Stop drains queued submissions and stops the workers. A backend the
// service created itself is closed; one passed with WithBackend is not.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping ranking service...")

	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.ownBackend {
		if err := s.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
		s.backend = nil
		s.ownBackend = false
	}

	s.started = false
	s.logger.Info(ctx, "ranking service stopped",
		logger.Int64("applied", s.applied.Load()),
		logger.Int64("failed", s.failed.Load()),
	)
	return errors.Join(errs...)
}

func (s *Service) running() (*ranker.Ranker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.ranker, nil
}

// Submit validates a submission, drops retries of an already accepted id and
// queues it for a worker. It returns the submission id, which is generated
// when the caller supplied none, and whether it was a duplicate. A full
// queue yields an error wrapping queue.ErrFull and the id is forgotten so a
// retry can succeed.
func (s *Service) Submit(ctx context.Context, sub model.Submission) (string, bool, error) { //nolint:gocritic // hugeParam: submissions are values end to end
	const op = "service.submit"
	r, err := s.running()
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}

	sub.Entity = strings.TrimSpace(sub.Entity)
	if sub.Entity == "" {
		return "", false, fmt.Errorf("%s: missing entity: %w", op, ErrInvalidSubmission)
	}
	if sub.Score != nil {
		if err := r.Definition().Contains(sub.Score); err != nil {
			return "", false, fmt.Errorf("%s: %w: %w", op, ErrInvalidSubmission, err)
		}
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.ReceivedAt.IsZero() {
		sub.ReceivedAt = time.Now()
	}

	if s.deduper.SeenAndRecord(ctx, sub.ID) {
		s.duplicates.Add(1)
		s.metrics.RecordSubmissionDuplicate()
		s.logger.Debug(ctx, "duplicate submission detected, skipping", logger.String("id", sub.ID))
		return sub.ID, true, nil
	}
	if err := s.queue.Enqueue(ctx, sub); err != nil {
		s.deduper.Unrecord(ctx, sub.ID)
		return sub.ID, false, fmt.Errorf("%s: %w", op, err)
	}
	s.accepted.Add(1)
	s.metrics.RecordSubmissionAccepted()
	return sub.ID, false, nil
}

// Apply writes changes synchronously in one tree update.
func (s *Service) Apply(ctx context.Context, changes map[string]tree.Score) (ranker.UpdateResult, error) {
	r, err := s.running()
	if err != nil {
		return ranker.UpdateResult{}, err
	}
	return r.SetScores(ctx, changes)
}

// Rank returns the rank and current score of entity.
func (s *Service) Rank(ctx context.Context, entity string) (types.RankResponse, error) {
	r, err := s.running()
	if err != nil {
		return types.RankResponse{}, err
	}
	rank, score, err := r.FindEntityRank(ctx, entity)
	if err != nil {
		return types.RankResponse{}, err
	}
	return types.RankResponse{Entity: entity, Score: score, Rank: rank}, nil
}

// RankOfScore returns how many tracked scores are strictly higher than score.
func (s *Service) RankOfScore(ctx context.Context, score tree.Score) (types.RankResponse, error) {
	r, err := s.running()
	if err != nil {
		return types.RankResponse{}, err
	}
	rank, err := r.FindRank(ctx, score)
	if err != nil {
		return types.RankResponse{}, err
	}
	return types.RankResponse{Score: score, Rank: rank}, nil
}

// ScoreAtRank returns the score at rank. With approximate set, the answer is
// the highest score of the first sub-range below which no higher scores
// remain, found with fewer reads; rank 0 needs none.
func (s *Service) ScoreAtRank(ctx context.Context, rank int64, approximate bool) (types.ScoreResponse, error) {
	r, err := s.running()
	if err != nil {
		return types.ScoreResponse{}, err
	}
	find := r.FindScore
	if approximate {
		find = r.FindScoreApproximate
	}
	score, tie, err := find(ctx, rank)
	if err != nil {
		return types.ScoreResponse{}, err
	}
	return types.ScoreResponse{Rank: rank, Score: score, RankOfTie: tie, Approximate: approximate}, nil
}

// Count returns the number of ranked entities.
func (s *Service) Count(ctx context.Context) (int64, error) {
	r, err := s.running()
	if err != nil {
		return 0, err
	}
	return r.TotalRankedScores(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) (types.Stats, error) {
	r, err := s.running()
	if err != nil {
		return types.Stats{}, err
	}
	total, err := r.TotalRankedScores(ctx)
	if err != nil {
		return types.Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	def := r.Definition()
	s.metrics.UpdateQueue(s.queue.Len(), s.queue.Cap())
	return types.Stats{
		Handle:          string(r.Handle()),
		ScoreRange:      def.Pairs(),
		BranchingFactor: def.BranchingFactor,
		TotalRanked:     total,
		QueueDepth:      s.queue.Len(),
		QueueCapacity:   s.queue.Cap(),
		DedupeSize:      s.deduper.Size(),
		Workers:         s.pool.Size(),
		Accepted:        s.accepted.Load(),
		Duplicates:      s.duplicates.Load(),
		Applied:         s.applied.Load(),
		Failed:          s.failed.Load(),
	}, nil
}

// Ranker returns the running ranker, or nil before Start.
func (s *Service) Ranker() *ranker.Ranker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ranker
}
