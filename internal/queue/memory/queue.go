// Package memory provides an in-process audit job queue backed by a
// buffered channel.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/aiqso/audit-engine/internal/audit"
)

// Queue errors.
var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

const defaultCapacity = 256

// Queue is a bounded in-memory job queue.
type Queue struct {
	jobs chan audit.Job

	mu     sync.Mutex
	closed bool
}

// New creates a queue holding up to capacity jobs. A non-positive
// capacity falls back to the default.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Queue{jobs: make(chan audit.Job, capacity)}
}

// Enqueue adds a job without blocking. A full queue is reported as
// ErrQueueFull so the caller can surface backpressure instead of
// stalling a scheduler tick. The lock is held across the send, so Close
// cannot close the channel under a sender.
func (q *Queue) Enqueue(ctx context.Context, job audit.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a job is available, the queue is closed and
// drained, or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (audit.Job, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return audit.Job{}, ErrQueueClosed
		}
		return job, nil
	case <-ctx.Done():
		return audit.Job{}, ctx.Err()
	}
}

// Depth returns the number of jobs currently waiting.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// Close stops accepting jobs. Already-queued jobs can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.jobs)
}
