package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ftl/panaweb/core"
	"github.com/ftl/panaweb/core/metrics"
)

// DefaultStallTimeout is the time a viewer may block the producer before its oldest frame is discarded.
const DefaultStallTimeout = 500 * time.Millisecond

// Broadcaster distributes every published frame to all subscribers. Each subscriber has its own bounded queue.
//
// Publish blocks while a subscriber's queue is full. If the queue stays full for longer than the stall
// timeout, the oldest frame of this subscriber is discarded to make room. Without subscribers, frames
// are discarded.
type Broadcaster struct {
	logger       *zap.Logger
	metrics      *metrics.Metrics
	depth        int
	stallTimeout time.Duration

	lock        *sync.RWMutex
	subscribers map[string]*Queue
}

// NewBroadcaster returns a new broadcaster. The subscriber queues hold depth frames.
func NewBroadcaster(depth int, stallTimeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stallTimeout <= 0 {
		stallTimeout = DefaultStallTimeout
	}
	return &Broadcaster{
		logger:       logger,
		metrics:      m,
		depth:        depth,
		stallTimeout: stallTimeout,
		lock:         new(sync.RWMutex),
		subscribers:  make(map[string]*Queue),
	}
}

// Subscribe returns the queue of the subscriber with the given id. Subscribing twice with the same id
// replaces the previous queue, which is closed.
func (b *Broadcaster) Subscribe(id string) *Queue {
	queue := NewQueue(b.depth)

	b.lock.Lock()
	previous, ok := b.subscribers[id]
	b.subscribers[id] = queue
	b.lock.Unlock()

	if ok {
		previous.Close()
	}
	b.logger.Debug("subscribed", zap.String("subscriber", id))
	return queue
}

// Unsubscribe removes the subscriber and closes its queue.
func (b *Broadcaster) Unsubscribe(id string) {
	b.lock.Lock()
	queue, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.lock.Unlock()

	if ok {
		queue.Close()
		b.logger.Debug("unsubscribed", zap.String("subscriber", id))
	}
}

// Subscribers returns the number of current subscribers.
func (b *Broadcaster) Subscribers() int {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return len(b.subscribers)
}

// Publish the frame to all current subscribers. Every subscriber receives the frames in publishing order.
// The frame must not be modified afterwards.
func (b *Broadcaster) Publish(ctx context.Context, frame *core.SpectrumFrame) error {
	b.lock.RLock()
	targets := make(map[string]*Queue, len(b.subscribers))
	for id, queue := range b.subscribers {
		targets[id] = queue
	}
	b.lock.RUnlock()

	for id, queue := range targets {
		if err := b.deliver(ctx, id, queue, frame); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broadcaster) deliver(ctx context.Context, id string, queue *Queue, frame *core.SpectrumFrame) error {
	for {
		pushCtx, cancel := context.WithTimeout(ctx, b.stallTimeout)
		err := queue.Push(pushCtx, frame)
		cancel()

		switch {
		case err == nil:
			return nil
		case err == ErrClosed:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		}

		if queue.DropOldest() {
			b.metrics.RecordFrameDropped()
			b.logger.Debug("viewer stalled, oldest frame dropped", zap.String("subscriber", id))
		}
	}
}

// Close all subscriber queues.
func (b *Broadcaster) Close() {
	b.lock.Lock()
	defer b.lock.Unlock()
	for id, queue := range b.subscribers {
		queue.Close()
		delete(b.subscribers, id)
	}
}
