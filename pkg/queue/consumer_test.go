package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openshare/openshare/pkg/engine"
	"github.com/openshare/openshare/pkg/telemetry"
)

type fakeQueue struct {
	acked  []string
	nacked []string
	ackErr error
}

func (f *fakeQueue) Enqueue(context.Context, engine.ProvisionMessage) error { return nil }
func (f *fakeQueue) Receive(context.Context, int, time.Duration) ([]*Message, error) {
	return nil, nil
}
func (f *fakeQueue) Ack(_ context.Context, handle string) error {
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acked = append(f.acked, handle)
	return nil
}
func (f *fakeQueue) Nack(_ context.Context, handle string) error {
	f.nacked = append(f.nacked, handle)
	return nil
}
func (f *fakeQueue) Depth(context.Context) (int, error) { return 0, nil }
func (f *fakeQueue) Close() error                       { return nil }

type fakeHandler struct {
	handleErr     error
	markFailedErr error
	markedFailed  []string
}

func (f *fakeHandler) Handle(context.Context, engine.ProvisionMessage) error {
	return f.handleErr
}

func (f *fakeHandler) MarkFailed(_ context.Context, sharePackID string, _ error) error {
	if f.markFailedErr != nil {
		return f.markFailedErr
	}
	f.markedFailed = append(f.markedFailed, sharePackID)
	return nil
}

func newTestConsumer(t *testing.T, q Queue, h Handler, maxRetries int) *Consumer {
	t.Helper()

	log, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  "error",
		Format: "json",
		Output: "stderr",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return NewConsumer(q, h, log, metrics, ConsumerOptions{MaxRetries: maxRetries})
}

func testMessage(deliveries int) *Message {
	return &Message{
		Handle:        "h-1",
		Payload:       engine.ProvisionMessage{SharePackID: "pack-1"},
		DeliveryCount: deliveries,
	}
}

func TestConsumerAcksOnSuccess(t *testing.T) {
	fq := &fakeQueue{}
	fh := &fakeHandler{}
	c := newTestConsumer(t, fq, fh, 3)

	c.processOne(context.Background(), testMessage(1))

	if len(fq.acked) != 1 || fq.acked[0] != "h-1" {
		t.Errorf("successful message should be acked, got %v", fq.acked)
	}
}

func TestConsumerAcksNonRetryableFailures(t *testing.T) {
	fq := &fakeQueue{}
	fh := &fakeHandler{handleErr: engine.NewValidationError("bad config", nil)}
	c := newTestConsumer(t, fq, fh, 3)

	c.processOne(context.Background(), testMessage(1))

	if len(fq.acked) != 1 {
		t.Errorf("non-retryable failure should be acked, got %v", fq.acked)
	}
	if len(fh.markedFailed) != 0 {
		t.Errorf("MarkFailed belongs to the handler's own failure path, got %v", fh.markedFailed)
	}
}

func TestConsumerNacksRetryableWithinBudget(t *testing.T) {
	fq := &fakeQueue{}
	fh := &fakeHandler{handleErr: engine.NewTransientError("throttled", errors.New("429"))}
	c := newTestConsumer(t, fq, fh, 3)

	// Budget is 1 first delivery + 3 retries
	c.processOne(context.Background(), testMessage(3))

	if len(fq.acked) != 0 {
		t.Errorf("message must not be removed within budget, got acks %v", fq.acked)
	}
	if len(fq.nacked) != 1 || fq.nacked[0] != "h-1" {
		t.Errorf("message should be nacked for immediate redelivery, got %v", fq.nacked)
	}
	if len(fh.markedFailed) != 0 {
		t.Errorf("pack must not be failed within budget, got %v", fh.markedFailed)
	}
}

func TestConsumerFailsPackWhenBudgetExhausted(t *testing.T) {
	fq := &fakeQueue{}
	fh := &fakeHandler{handleErr: engine.NewTransientError("throttled", errors.New("429"))}
	c := newTestConsumer(t, fq, fh, 3)

	c.processOne(context.Background(), testMessage(4))

	if len(fh.markedFailed) != 1 || fh.markedFailed[0] != "pack-1" {
		t.Errorf("pack should be marked FAILED, got %v", fh.markedFailed)
	}
	if len(fq.acked) != 1 {
		t.Errorf("exhausted message should be acked, got %v", fq.acked)
	}
}

func TestConsumerKeepsMessageWhenMarkFailedErrors(t *testing.T) {
	fq := &fakeQueue{}
	fh := &fakeHandler{
		handleErr:     engine.NewTransientError("throttled", errors.New("429")),
		markFailedErr: errors.New("store unavailable"),
	}
	c := newTestConsumer(t, fq, fh, 3)

	c.processOne(context.Background(), testMessage(4))

	if len(fq.acked) != 0 {
		t.Errorf("message must survive a failed MarkFailed so it can be retried, got %v", fq.acked)
	}
	if len(fq.nacked) != 0 {
		t.Errorf("message should stay leased until expiry, got nacks %v", fq.nacked)
	}
}
