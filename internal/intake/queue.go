// Package intake is the boundary between the acquisition producer and the
// cleaning workers: a bounded FIFO queue with blocking pull. It is not
// durable across restarts; a crash loses at most what is buffered here.
package intake

import (
	"context"
	"sync"

	"pulse/internal/domain/post"
	"pulse/pkg/errors"
)

// Queue is the shared intake queue. Multiple cleaning workers pull from it
// concurrently; the channel serializes access.
type Queue struct {
	ch chan *post.RawPost

	closeOnce sync.Once
	closed    chan struct{}
}

// NewQueue creates a queue with the given capacity
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{
		ch:     make(chan *post.RawPost, capacity),
		closed: make(chan struct{}),
	}
}

// Push enqueues a record, blocking while the queue is full
func (q *Queue) Push(ctx context.Context, p *post.RawPost) error {
	select {
	case <-q.closed:
		return errors.ErrQueueClosed
	default:
	}

	select {
	case q.ch <- p:
		return nil
	case <-q.closed:
		return errors.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPush enqueues a record without blocking
func (q *Queue) TryPush(p *post.RawPost) error {
	select {
	case <-q.closed:
		return errors.ErrQueueClosed
	default:
	}

	select {
	case q.ch <- p:
		return nil
	default:
		return errors.ErrQueueFull
	}
}

// Pull dequeues the next record, blocking until one is available, the
// queue is closed and drained, or the context is cancelled. Buffered
// records are always drained before the closed state is reported.
func (q *Queue) Pull(ctx context.Context) (*post.RawPost, error) {
	select {
	case p := <-q.ch:
		return p, nil
	default:
	}

	select {
	case p := <-q.ch:
		return p, nil
	case <-q.closed:
		// No new pushes can land after close; a non-blocking drain
		// catches anything buffered before the signal
		select {
		case p := <-q.ch:
			return p, nil
		default:
			return nil, errors.ErrQueueClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of buffered records
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting new records. Buffered records remain pullable
// until drained.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}
