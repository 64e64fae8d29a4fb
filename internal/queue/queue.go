// Package queue moves send jobs from the dispatcher to the worker pool.
// Backends: a Redis list (default), a durable RabbitMQ queue, and an
// in-memory channel for tests and single-process runs.
package queue

import (
	"context"
	"errors"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ErrEmpty is returned by Dequeue when no job arrived within the wait
// window. Callers poll again; it is not a failure.
var ErrEmpty = errors.New("queue empty")

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Queue is the send-job transport between dispatcher and workers.
type Queue interface {
	// Enqueue publishes one job.
	Enqueue(ctx context.Context, job *domain.SendJob) error
	// Dequeue blocks up to the backend's wait window for the next job.
	// Returns ErrEmpty on timeout.
	Dequeue(ctx context.Context) (*domain.SendJob, error)
	// Depth reports the number of queued jobs, where the backend can tell.
	Depth(ctx context.Context) (int64, error)
	// Close releases backend resources.
	Close() error
}
