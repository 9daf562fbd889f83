package stream

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ftl/panaweb/core/metrics"
)

// Pacing of the consumer.
const (
	DefaultFramesPerSecond = 20
	PopTimeout             = 100 * time.Millisecond
	IdleWait               = 10 * time.Millisecond
)

// Sender delivers one encoded frame to a viewer.
type Sender interface {
	Send(data []byte) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(data []byte) error

// Send calls f(data).
func (f SenderFunc) Send(data []byte) error {
	return f(data)
}

// Consumer takes frames from a queue, encodes them and sends them to one viewer, at most
// framesPerSecond frames per second.
type Consumer struct {
	queue    *Queue
	sender   Sender
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewConsumer returns a new consumer. framesPerSecond <= 0 means DefaultFramesPerSecond.
func NewConsumer(queue *Queue, sender Sender, framesPerSecond int, logger *zap.Logger, m *metrics.Metrics) *Consumer {
	if framesPerSecond <= 0 {
		framesPerSecond = DefaultFramesPerSecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		queue:    queue,
		sender:   sender,
		interval: time.Second / time.Duration(framesPerSecond),
		logger:   logger,
		metrics:  m,
	}
}

// Run the consumer until the context is done, the queue is closed or sending fails.
// Only a failed send is reported as error.
func (c *Consumer) Run(ctx context.Context) error {
	var buffer []byte
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, ok := c.queue.Pop(PopTimeout)
		if !ok {
			if !c.wait(ctx, IdleWait) {
				return nil
			}
			continue
		}

		buffer = AppendFrame(buffer[:0], frame)
		if err := c.sender.Send(buffer); err != nil {
			c.metrics.RecordSendError()
			return errors.Wrap(err, "cannot send spectrum frame")
		}
		c.metrics.RecordFrameSent()

		if !c.wait(ctx, c.interval) {
			return nil
		}
	}
}

// wait for the given duration. It returns false if the consumer should stop.
func (c *Consumer) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.queue.Done():
		return false
	}
}
