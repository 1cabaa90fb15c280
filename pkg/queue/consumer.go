package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/openshare/openshare/pkg/engine"
	"github.com/openshare/openshare/pkg/telemetry"
)

// Handler processes one provisioning message. The orchestrator implements
// this; MarkFailed is invoked when the retry budget is exhausted.
type Handler interface {
	Handle(ctx context.Context, msg engine.ProvisionMessage) error
	MarkFailed(ctx context.Context, sharePackID string, cause error) error
}

// ConsumerOptions tunes the polling loop.
type ConsumerOptions struct {
	// Lease is the visibility timeout applied to received messages. It must
	// exceed the worst-case run duration, or a slow run's message will be
	// redelivered while the run is still in flight.
	Lease time.Duration

	// MaxRetries is how many redeliveries a retryable failure is granted
	// before the pack is marked FAILED.
	MaxRetries int

	// PollInterval is the pause between empty receives.
	PollInterval time.Duration

	// BatchSize is the maximum number of messages leased per receive.
	BatchSize int
}

// Consumer polls the queue and drives the handler, applying the
// acknowledgement policy that gives the system its retry semantics.
type Consumer struct {
	queue   Queue
	handler Handler
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	opts    ConsumerOptions
}

// NewConsumer creates a consumer.
func NewConsumer(q Queue, h Handler, log *telemetry.Logger, metrics *telemetry.Metrics, opts ConsumerOptions) *Consumer {
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}

	return &Consumer{
		queue:   q,
		handler: h,
		log:     log.NewComponentLogger("consumer"),
		metrics: metrics,
		opts:    opts,
	}
}

// Run polls until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Infof("consumer started (lease=%s, max_retries=%d)", c.opts.Lease, c.opts.MaxRetries)

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer stopped")
			return ctx.Err()
		case <-ticker.C:
		}

		messages, err := c.queue.Receive(ctx, c.opts.BatchSize, c.opts.Lease)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.WithError(err).Error("failed to receive messages")
			continue
		}

		for _, msg := range messages {
			c.processOne(ctx, msg)
		}

		if depth, err := c.queue.Depth(ctx); err == nil {
			c.metrics.SetQueueDepth(float64(depth))
		}
	}
}

// processOne runs the handler for one message and applies the
// acknowledgement policy.
func (c *Consumer) processOne(ctx context.Context, msg *Message) {
	log := c.log.WithSharePackID(msg.Payload.SharePackID).
		WithField("delivery_count", msg.DeliveryCount)

	err := c.handler.Handle(ctx, msg.Payload)
	if err == nil {
		c.ack(ctx, msg)
		c.metrics.MessageConsumed("completed")
		return
	}

	if !engine.IsRetryable(err) {
		log.WithError(err).Error("message failed permanently")
		c.ack(ctx, msg)
		c.metrics.MessageConsumed("failed")
		return
	}

	// DeliveryCount includes the current delivery; the budget is the first
	// delivery plus MaxRetries redeliveries.
	if msg.DeliveryCount >= 1+c.opts.MaxRetries {
		log.WithError(err).Error("retry budget exhausted, marking share pack FAILED")
		cause := fmt.Errorf("retry budget exhausted after %d deliveries: %w", msg.DeliveryCount, err)
		if merr := c.handler.MarkFailed(ctx, msg.Payload.SharePackID, cause); merr != nil {
			log.WithError(merr).Error("failed to mark share pack FAILED")
			return // keep the message; a redelivery will retry the marking
		}
		c.ack(ctx, msg)
		c.metrics.MessageConsumed("failed")
		return
	}

	log.WithError(err).Warn("transient failure, releasing message for redelivery")
	if nerr := c.queue.Nack(ctx, msg.Handle); nerr != nil {
		// Lease expiry still redelivers, just later.
		log.WithError(nerr).Error("failed to nack message")
	}
	c.metrics.RetryScheduled()
	c.metrics.MessageConsumed("retried")
}

func (c *Consumer) ack(ctx context.Context, msg *Message) {
	if err := c.queue.Ack(ctx, msg.Handle); err != nil {
		// The message stays visible and will be redelivered; the handler's
		// idempotency absorbs the duplicate.
		c.log.WithError(err).Error("failed to ack message")
	}
}
