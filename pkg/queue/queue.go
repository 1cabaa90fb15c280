package queue

import (
	"context"
	"time"

	"github.com/openshare/openshare/pkg/engine"
)

// Message is one leased queue entry. Handle is the backend-specific token
// used to acknowledge it; DeliveryCount includes the current delivery.
type Message struct {
	Handle        string
	Payload       engine.ProvisionMessage
	DeliveryCount int
}

// Queue is an at-least-once delivery channel for provisioning messages.
// Enqueue satisfies engine.Enqueuer.
type Queue interface {
	// Enqueue appends a message for asynchronous processing.
	Enqueue(ctx context.Context, msg engine.ProvisionMessage) error

	// Receive leases up to max messages for the given duration. Leased
	// messages are invisible to other receivers until the lease expires or
	// they are acknowledged. Returns an empty slice when nothing is ready.
	Receive(ctx context.Context, max int, lease time.Duration) ([]*Message, error)

	// Ack permanently removes a leased message.
	Ack(ctx context.Context, handle string) error

	// Nack releases a leased message for immediate redelivery instead of
	// waiting out the lease.
	Nack(ctx context.Context, handle string) error

	// Depth returns the approximate number of waiting messages.
	Depth(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}
