package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// MemoryQueue is a channel-backed queue for tests and single-process runs.
type MemoryQueue struct {
	jobs    chan *domain.SendJob
	popWait time.Duration

	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue creates an in-memory queue with the given buffer size.
func NewMemoryQueue(size int, popWait time.Duration) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	if popWait <= 0 {
		popWait = 50 * time.Millisecond
	}
	return &MemoryQueue{jobs: make(chan *domain.SendJob, size), popWait: popWait}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *domain.SendJob) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*domain.SendJob, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return nil, ErrClosed
		}
		return job, nil
	case <-time.After(q.popWait):
		return nil, ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Depth(ctx context.Context) (int64, error) {
	return int64(len(q.jobs)), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}
