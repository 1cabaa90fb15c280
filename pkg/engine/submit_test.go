package engine

import (
	"context"
	"testing"

	"github.com/openshare/openshare/pkg/config"
	"github.com/openshare/openshare/pkg/stores"
)

func TestSubmitRejectsInvalidWithoutQueueing(t *testing.T) {
	store, platform, log, metrics := setupTestEngine(t)
	q := &captureQueue{}
	submitter := NewSubmitter(store, q, NewDetector(platform, log), log, metrics)

	cfg := testPack("pack-invalid")
	cfg.Pipelines[0].SourceTable = "cat.sch.unknown" // not a share asset

	result, err := submitter.Submit(context.Background(), cfg, "tester")
	if err != nil {
		t.Fatalf("submit returned error: %v", err)
	}
	if len(result.ValidationErrors) == 0 {
		t.Fatal("expected validation errors")
	}
	if result.SharePackID != "" {
		t.Error("invalid pack should not get an ID")
	}
	if len(q.messages) != 0 {
		t.Errorf("invalid pack should not be queued, got %d messages", len(q.messages))
	}
}

func TestSubmitAcceptsAndQueues(t *testing.T) {
	store, platform, log, metrics := setupTestEngine(t)
	q := &captureQueue{}
	submitter := NewSubmitter(store, q, NewDetector(platform, log), log, metrics)
	ctx := context.Background()

	result, err := submitter.Submit(ctx, testPack("pack-a"), "tester")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.SharePackID == "" {
		t.Fatal("accepted pack should get an ID")
	}
	if result.Status != stores.PackStatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", result.Status)
	}

	if len(q.messages) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(q.messages))
	}
	msg := q.messages[0]
	if msg.SharePackID != result.SharePackID {
		t.Errorf("message references wrong pack: %s", msg.SharePackID)
	}
	if msg.ResolvedStrategy != config.StrategyCreateNew {
		t.Errorf("empty remote state should resolve to create-new, got %s", msg.ResolvedStrategy)
	}

	pack, err := store.GetCurrentSharePack(ctx, result.SharePackID)
	if err != nil {
		t.Fatalf("failed to read pack: %v", err)
	}
	if pack.ProvisioningStatus != StepQueued {
		t.Errorf("expected step %s, got %s", StepQueued, pack.ProvisioningStatus)
	}
	if pack.RequestedBy != "tester" {
		t.Errorf("requested_by not recorded: %s", pack.RequestedBy)
	}
}

func TestResubmitContinuesBusinessKey(t *testing.T) {
	store, platform, log, metrics := setupTestEngine(t)
	q := &captureQueue{}
	submitter := NewSubmitter(store, q, NewDetector(platform, log), log, metrics)
	ctx := context.Background()

	first, err := submitter.Submit(ctx, testPack("pack-a"), "tester")
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	second, err := submitter.Submit(ctx, testPack("pack-a"), "tester")
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}

	if second.SharePackID != first.SharePackID {
		t.Errorf("re-submission should continue the business key: %s != %s", second.SharePackID, first.SharePackID)
	}

	pack, err := store.GetCurrentSharePack(ctx, first.SharePackID)
	if err != nil {
		t.Fatalf("failed to read pack: %v", err)
	}
	if pack.Version != 2 {
		t.Errorf("expected version 2 after re-submission, got %d", pack.Version)
	}
}
