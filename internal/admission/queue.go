// Package admission gates access to the single inference worker: a
// sliding-window rate limiter rejects abusive clients before they ever
// reach the queue, and a bounded FIFO queue smooths bursts up to a
// fixed depth, rejecting outright once full rather than blocking the
// HTTP handler.
package admission

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahammedyusufb/exsa-engine/internal/apperr"
)

// Job is a single admitted unit of work, wrapping the caller's request
// payload with queueing metadata. T is typically the worker's internal
// request type; admission does not interpret it.
type Job[T any] struct {
	ID         uuid.UUID
	EnqueuedAt time.Time
	Payload    T
}

// Stats is a snapshot of queue activity counters.
type Stats struct {
	Depth          int
	MaxDepthSeen   int
	TotalEnqueued  uint64
	TotalRejected  uint64
	TotalDequeued  uint64
}

// Queue is a bounded FIFO of Job[T]. Enqueue never blocks: once depth
// reaches the configured capacity it returns a [apperr.KindQueueFull]
// error instead. Dequeue blocks until an item is available, the
// supplied done channel is closed, or the queue has been closed by
// [Queue.Close] and drained.
type Queue[T any] struct {
	items chan Job[T]

	mu            sync.Mutex
	depth         int
	maxDepthSeen  int
	totalEnqueued uint64
	totalRejected uint64
	totalDequeued uint64
	closed        bool
}

// NewQueue constructs a Queue accepting up to capacity items at once.
func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{items: make(chan Job[T], capacity)}
}

// Enqueue admits payload as a new job with a fresh ID, or fails with
// [apperr.KindQueueFull] if the queue is at capacity, or
// [apperr.KindShuttingDown] if [Queue.Close] has been called.
func (q *Queue[T]) Enqueue(payload T) (Job[T], error) {
	job := Job[T]{ID: uuid.New(), EnqueuedAt: time.Now(), Payload: payload}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Job[T]{}, apperr.New(apperr.KindShuttingDown, "admission is no longer accepting jobs")
	}
	select {
	case q.items <- job:
		q.depth++
		q.totalEnqueued++
		if q.depth > q.maxDepthSeen {
			q.maxDepthSeen = q.depth
		}
		q.mu.Unlock()
		return job, nil
	default:
		q.totalRejected++
		q.mu.Unlock()
		return Job[T]{}, apperr.New(apperr.KindQueueFull, "the job queue is full")
	}
}

// Dequeue blocks until a job is available, done is closed, or the queue
// has been closed and drained; in the last two cases it returns false.
func (q *Queue[T]) Dequeue(done <-chan struct{}) (Job[T], bool) {
	select {
	case job, ok := <-q.items:
		if !ok {
			return Job[T]{}, false
		}
		q.mu.Lock()
		q.depth--
		q.totalDequeued++
		q.mu.Unlock()
		return job, true
	case <-done:
		return Job[T]{}, false
	}
}

// Close stops Enqueue from admitting further jobs. Already-queued jobs
// remain available to Dequeue until drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Depth:         q.depth,
		MaxDepthSeen:  q.maxDepthSeen,
		TotalEnqueued: q.totalEnqueued,
		TotalRejected: q.totalRejected,
		TotalDequeued: q.totalDequeued,
	}
}
