// Package queue buffers order-change notices between the service that
// commits and the dispatcher that fans them out.
//
// Enqueue never blocks a commit: when the buffer is full the notice is
// dropped and counted.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/clanrank/internal/domain/model"
	"github.com/okian/clanrank/pkg/metrics"
)

const defaultCapacity = 1024

// Notice is the payload flowing through the queue.
type Notice = model.Notice

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a notice. Returns ErrFull or ErrClosed when it was not
	// queued.
	Enqueue(ctx context.Context, n Notice) error

	// Dequeue returns the receive side. The channel is closed with the queue.
	Dequeue() <-chan Notice

	// Len returns the number of queued notices.
	Len() int

	// Close stops accepting notices and closes the dequeue channel.
	Close() error
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	notices  chan Notice
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.notices = make(chan Notice, q.capacity)
	metrics.UpdateNoticesQueued(0)
	return q
}

// Enqueue adds a notice without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, n Notice) error { //nolint:gocritic // hugeParam: value semantics for channel send
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordNoticeDropped()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordNoticeDropped()
		return fmt.Errorf("enqueue notice: %w", err)
	}

	select {
	case q.notices <- n:
		metrics.UpdateNoticesQueued(len(q.notices))
		return nil
	default:
		metrics.RecordNoticeDropped()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return fmt.Errorf("%w: capacity %d", ErrFull, q.capacity)
	}
}

// Dequeue returns the receive side of the buffer.
func (q *InMemoryQueue) Dequeue() <-chan Notice {
	return q.notices
}

// Len returns the current number of queued notices.
func (q *InMemoryQueue) Len() int {
	n := len(q.notices)
	metrics.UpdateNoticesQueued(n)
	return n
}

// Close gracefully shuts down the queue. Buffered notices can still be
// drained.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.notices)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
