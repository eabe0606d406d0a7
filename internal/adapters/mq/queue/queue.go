// Package queue buffers score submissions between the HTTP surface and the
// workers that apply them.
package queue

import (
	"context"
	"sync"

	"github.com/okian/ranktree/internal/domain/model"
	"github.com/okian/ranktree/pkg/metrics"
)

const defaultQueueCapacity = 100000

// Submission is the payload flowing through the queue.
type Submission = model.Submission

// Queue provides non-blocking enqueue and blocking or non-blocking receive.
type Queue interface {
	// Enqueue adds a submission. It fails with ErrFull or ErrClosed and
	// never blocks.
	Enqueue(ctx context.Context, s Submission) error

	// Receive blocks until a submission is available. It returns false once
	// the queue is closed and drained, or when ctx is done.
	Receive(ctx context.Context) (Submission, bool)

	// TryReceive returns a queued submission without blocking.
	TryReceive() (Submission, bool)

	Len() int
	Cap() int

	// Close stops accepting submissions. Queued submissions stay receivable.
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	items    chan Submission
	capacity int
	metrics  *metrics.Manager

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
		metrics:  metrics.Global(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make(chan Submission, q.capacity)
	q.metrics.UpdateQueue(0, q.capacity)
	return q
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, s Submission) error { //nolint:gocritic // hugeParam: passed by value into the channel
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.metrics.RecordQueueEnqueueError()
		q.metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		q.metrics.RecordQueueEnqueueError()
		q.metrics.RecordErrorByComponent("queue", "context_cancelled")
		return err
	}

	select {
	case q.items <- s:
		q.metrics.RecordQueueEnqueue()
		q.metrics.UpdateQueue(len(q.items), q.capacity)
		return nil
	default:
		q.metrics.RecordQueueEnqueueError()
		q.metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Receive implements Queue.
func (q *InMemoryQueue) Receive(ctx context.Context) (Submission, bool) {
	select {
	case s, ok := <-q.items:
		if ok {
			q.dequeued()
		}
		return s, ok
	case <-ctx.Done():
		return Submission{}, false
	}
}

// TryReceive implements Queue.
func (q *InMemoryQueue) TryReceive() (Submission, bool) {
	select {
	case s, ok := <-q.items:
		if ok {
			q.dequeued()
		}
		return s, ok
	default:
		return Submission{}, false
	}
}

func (q *InMemoryQueue) dequeued() {
	q.metrics.RecordQueueDequeue()
	q.metrics.UpdateQueue(len(q.items), q.capacity)
}

// Len returns the current number of queued submissions.
func (q *InMemoryQueue) Len() int { return len(q.items) }

// Cap returns the queue capacity.
func (q *InMemoryQueue) Cap() int { return q.capacity }

// Close implements Queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
