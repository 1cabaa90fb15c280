package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openshare/openshare/pkg/engine"
)

func setupTestQueue(t *testing.T) *SQLiteQueue {
	t.Helper()

	q, err := NewSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	if err := q.Init(context.Background()); err != nil {
		t.Fatalf("failed to initialize queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueReceiveAck(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"pack-1", "pack-2"} {
		if err := q.Enqueue(ctx, engine.ProvisionMessage{SharePackID: id}); err != nil {
			t.Fatalf("failed to enqueue: %v", err)
		}
	}

	msgs, err := q.Receive(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("failed to receive: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Payload.SharePackID != "pack-1" || msgs[1].Payload.SharePackID != "pack-2" {
		t.Errorf("messages out of order: %s, %s", msgs[0].Payload.SharePackID, msgs[1].Payload.SharePackID)
	}
	for _, m := range msgs {
		if m.DeliveryCount != 1 {
			t.Errorf("first delivery should count 1, got %d", m.DeliveryCount)
		}
		if err := q.Ack(ctx, m.Handle); err != nil {
			t.Fatalf("failed to ack: %v", err)
		}
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("failed to get depth: %v", err)
	}
	if depth != 0 {
		t.Errorf("expected empty queue after acks, got depth %d", depth)
	}
}

func TestLeaseHidesMessages(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, engine.ProvisionMessage{SharePackID: "pack-1"}); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	msgs, err := q.Receive(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("failed to receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	// Leased message is invisible to other receivers
	msgs, err = q.Receive(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("failed to receive: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("leased message should be invisible, got %d messages", len(msgs))
	}

	// But still counted
	depth, _ := q.Depth(ctx)
	if depth != 1 {
		t.Errorf("leased message should still count toward depth, got %d", depth)
	}
}

func TestExpiredLeaseRedelivers(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, engine.ProvisionMessage{SharePackID: "pack-1"}); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	msgs, err := q.Receive(ctx, 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	time.Sleep(50 * time.Millisecond)

	// Expired lease: same message comes back with an incremented count
	msgs, err = q.Receive(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("failed to receive after expiry: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected redelivery after lease expiry, got %d messages", len(msgs))
	}
	if msgs[0].Payload.SharePackID != "pack-1" {
		t.Errorf("unexpected payload: %s", msgs[0].Payload.SharePackID)
	}
	if msgs[0].DeliveryCount != 2 {
		t.Errorf("expected delivery count 2, got %d", msgs[0].DeliveryCount)
	}
}

func TestNackReleasesLeaseImmediately(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, engine.ProvisionMessage{SharePackID: "pack-1"}); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	msgs, err := q.Receive(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("failed to receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	if err := q.Nack(ctx, msgs[0].Handle); err != nil {
		t.Fatalf("failed to nack: %v", err)
	}

	// No waiting for the minute-long lease: the message is visible again
	// and the delivery count keeps charging the budget
	msgs, err = q.Receive(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("failed to receive after nack: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected immediate redelivery after nack, got %d messages", len(msgs))
	}
	if msgs[0].DeliveryCount != 2 {
		t.Errorf("expected delivery count 2, got %d", msgs[0].DeliveryCount)
	}
}

func TestReceiveRespectsBatchLimit(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, engine.ProvisionMessage{SharePackID: "pack"}); err != nil {
			t.Fatalf("failed to enqueue: %v", err)
		}
	}

	msgs, err := q.Receive(ctx, 2, time.Minute)
	if err != nil {
		t.Fatalf("failed to receive: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %d", len(msgs))
	}
}

func TestAckRejectsMalformedHandle(t *testing.T) {
	q := setupTestQueue(t)

	if err := q.Ack(context.Background(), "not-a-number"); err == nil {
		t.Error("expected error for malformed handle")
	}
}
