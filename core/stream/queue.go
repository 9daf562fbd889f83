// Package stream moves spectrum frames from the producer to the connected viewers.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ftl/panaweb/core"
)

// ErrClosed is returned when pushing into a closed queue.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of frames. Push blocks while the queue is full.
type Queue struct {
	frames    chan *core.SpectrumFrame
	done      chan struct{}
	closeOnce *sync.Once
}

// NewQueue returns a queue that holds at most depth frames.
func NewQueue(depth int) *Queue {
	if depth < 1 {
		depth = 1
	}
	return &Queue{
		frames:    make(chan *core.SpectrumFrame, depth),
		done:      make(chan struct{}),
		closeOnce: new(sync.Once),
	}
}

// Push the frame. Blocks until there is space, the context is done or the queue is closed.
func (q *Queue) Push(ctx context.Context, frame *core.SpectrumFrame) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.frames <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	}
}

// Pop the oldest frame. ok is false if no frame arrived within the timeout or the queue is closed.
func (q *Queue) Pop(timeout time.Duration) (frame *core.SpectrumFrame, ok bool) {
	select {
	case frame = <-q.frames:
		return frame, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame = <-q.frames:
		return frame, true
	case <-timer.C:
		return nil, false
	case <-q.done:
		return nil, false
	}
}

// DropOldest discards the oldest frame, if there is one.
func (q *Queue) DropOldest() bool {
	select {
	case <-q.frames:
		return true
	default:
		return false
	}
}

// Len is the number of queued frames.
func (q *Queue) Len() int {
	return len(q.frames)
}

// Cap is the maximum number of queued frames.
func (q *Queue) Cap() int {
	return cap(q.frames)
}

// Close the queue. Blocked producers and consumers return.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Done is closed when the queue is closed.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}
