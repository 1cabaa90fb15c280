package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openshare/openshare/pkg/config"
	"github.com/openshare/openshare/pkg/stores"
	"github.com/openshare/openshare/pkg/telemetry"
)

// harness bundles the wired engine components for orchestrator tests.
type harness struct {
	store     *stores.SQLiteStore
	platform  *MemoryPlatform
	queue     *captureQueue
	submitter *Submitter
	orch      *Orchestrator
	log       *telemetry.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, platform, log, metrics := setupTestEngine(t)
	q := &captureQueue{}
	return &harness{
		store:     store,
		platform:  platform,
		queue:     q,
		submitter: NewSubmitter(store, q, NewDetector(platform, log), log, metrics),
		orch:      NewOrchestrator(store, platform, log, metrics),
		log:       log,
	}
}

// submit validates and enqueues the pack, returning the queued message.
func (h *harness) submit(t *testing.T, cfg *config.SharePackConfig) ProvisionMessage {
	t.Helper()
	result, err := h.submitter.Submit(context.Background(), cfg, "tester")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(result.ValidationErrors) > 0 {
		t.Fatalf("pack unexpectedly invalid: %v", result.ValidationErrors)
	}
	return h.queue.messages[len(h.queue.messages)-1]
}

func (h *harness) countCalls(op string) int {
	n := 0
	for _, c := range h.platform.Calls() {
		if strings.HasPrefix(c, op+":") {
			n++
		}
	}
	return n
}

func TestProvisionEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	msg := h.submit(t, testPack("pack-a"))
	if err := h.orch.Handle(ctx, msg); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	status, err := h.store.GetSharePackStatus(ctx, msg.SharePackID)
	if err != nil {
		t.Fatalf("failed to get status: %v", err)
	}
	if status.Status != stores.PackStatusCompleted {
		t.Errorf("expected COMPLETED, got %s (%s)", status.Status, status.ErrorMessage)
	}
	if status.ProvisioningStatus != StepCompleted {
		t.Errorf("expected step %s, got %s", StepCompleted, status.ProvisioningStatus)
	}

	// Remote resources exist
	if r, _ := h.platform.GetRecipient(ctx, "partner"); r == nil {
		t.Error("recipient should exist remotely")
	}
	if s, _ := h.platform.GetShare(ctx, "sales"); s == nil {
		t.Error("share should exist remotely")
	}
	if p, _ := h.platform.GetPipeline(ctx, "sales", "orders-sync"); p == nil {
		t.Error("pipeline should exist remotely")
	}

	// Versioned records exist as current version 1 with remote IDs
	rec, err := h.store.GetCurrentRecipientByName(ctx, "partner")
	if err != nil {
		t.Fatalf("failed to get recipient record: %v", err)
	}
	if rec.Version != 1 || rec.RemoteID == "" {
		t.Errorf("recipient record not persisted correctly: version=%d remote_id=%q", rec.Version, rec.RemoteID)
	}

	share, err := h.store.GetCurrentShareByName(ctx, "sales")
	if err != nil {
		t.Fatalf("failed to get share record: %v", err)
	}
	if share.Version != 1 || share.RemoteID == "" {
		t.Errorf("share record not persisted correctly: version=%d remote_id=%q", share.Version, share.RemoteID)
	}

	pl, err := h.store.GetCurrentPipeline(ctx, "sales", "orders-sync")
	if err != nil {
		t.Fatalf("failed to get pipeline record: %v", err)
	}
	if pl.Version != 1 || pl.RemotePipelineID == "" || pl.RemoteJobID == "" {
		t.Errorf("pipeline record not persisted correctly: %+v", pl)
	}
}

func TestResubmissionIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	msg := h.submit(t, testPack("pack-a"))
	if err := h.orch.Handle(ctx, msg); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// Same configuration again: detection resolves reconcile, the second run
	// updates in place and creates nothing
	msg2 := h.submit(t, testPack("pack-a"))
	if err := h.orch.Handle(ctx, msg2); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	for _, op := range []string{"CreateRecipient", "CreateShare", "CreatePipeline"} {
		if n := h.countCalls(op); n != 1 {
			t.Errorf("expected exactly 1 %s across both runs, got %d", op, n)
		}
	}

	// One current version per business key, continuing the same identity
	rec, err := h.store.GetCurrentRecipientByName(ctx, "partner")
	if err != nil {
		t.Fatalf("failed to get recipient: %v", err)
	}
	if rec.Version != 2 || !rec.IsCurrent {
		t.Errorf("expected current recipient version 2, got version=%d current=%v", rec.Version, rec.IsCurrent)
	}

	remote, _ := h.platform.GetShare(ctx, "sales")
	if remote == nil || len(remote.Assets) != 1 {
		t.Errorf("remote state should be unchanged: %+v", remote)
	}
}

func TestTransientFailureConvergesOnRedelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.platform.FailOnce("CreatePipeline", errors.New("throttled"))

	msg := h.submit(t, testPack("pack-a"))
	err := h.orch.Handle(ctx, msg)
	if err == nil {
		t.Fatal("expected first delivery to fail")
	}
	if !IsRetryable(err) {
		t.Fatalf("platform failure should be retryable, got %v", err)
	}

	// Not terminal: the pack awaits redelivery with the failing step recorded
	status, err2 := h.store.GetSharePackStatus(ctx, msg.SharePackID)
	if err2 != nil {
		t.Fatalf("failed to get status: %v", err2)
	}
	if status.Status != stores.PackStatusInProgress {
		t.Errorf("retryable failure must not be terminal, got %s", status.Status)
	}
	if status.ProvisioningStatus != StepEnsurePipelines {
		t.Errorf("expected failing step %s, got %s", StepEnsurePipelines, status.ProvisioningStatus)
	}
	if status.ErrorMessage == "" {
		t.Error("error message should be recorded for diagnosis")
	}

	// Redelivery converges: already-created resources are reconciled, the
	// pipeline is created, and nothing is duplicated
	if err := h.orch.Handle(ctx, msg); err != nil {
		t.Fatalf("redelivery should succeed: %v", err)
	}

	status, err2 = h.store.GetSharePackStatus(ctx, msg.SharePackID)
	if err2 != nil {
		t.Fatalf("failed to get status: %v", err2)
	}
	if status.Status != stores.PackStatusCompleted {
		t.Errorf("expected COMPLETED after redelivery, got %s (%s)", status.Status, status.ErrorMessage)
	}
	if n := h.countCalls("CreatePipeline"); n != 2 {
		t.Errorf("expected 2 create attempts (1 failed, 1 succeeded), got %d", n)
	}
	if n := h.countCalls("CreateRecipient"); n != 1 {
		t.Errorf("recipient should be created once and updated on redelivery, got %d creates", n)
	}
}

func TestRedeliveryAfterCompletionIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	msg := h.submit(t, testPack("pack-a"))
	if err := h.orch.Handle(ctx, msg); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	pack, _ := h.store.GetCurrentSharePack(ctx, msg.SharePackID)
	before := pack.Version

	// A stale redelivery of the same message is a no-op
	if err := h.orch.Handle(ctx, msg); err != nil {
		t.Fatalf("stale redelivery should succeed silently: %v", err)
	}
	pack, _ = h.store.GetCurrentSharePack(ctx, msg.SharePackID)
	if pack.Version != before {
		t.Errorf("stale redelivery should not append versions: %d -> %d", before, pack.Version)
	}
}

func TestReconcileUpdatesExistingResources(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	msg := h.submit(t, testPack("pack-a"))
	if err := h.orch.Handle(ctx, msg); err != nil {
		t.Fatalf("initial provision failed: %v", err)
	}

	// Re-submit with an extra asset; detection sees the remote share and
	// resolves to reconcile
	cfg := testPack("pack-a")
	cfg.Shares[0].Assets = []string{"cat.sch.orders", "cat.sch.customers"}
	msg2 := h.submit(t, cfg)
	if msg2.ResolvedStrategy != config.StrategyReconcile {
		t.Fatalf("expected reconcile, got %s", msg2.ResolvedStrategy)
	}

	if err := h.orch.Handle(ctx, msg2); err != nil {
		t.Fatalf("reconcile run failed: %v", err)
	}

	remote, _ := h.platform.GetShare(ctx, "sales")
	if remote == nil || len(remote.Assets) != 2 {
		t.Fatalf("remote share assets not reconciled: %+v", remote)
	}

	share, err := h.store.GetCurrentShareByName(ctx, "sales")
	if err != nil {
		t.Fatalf("failed to get share record: %v", err)
	}
	if share.Version != 2 {
		t.Errorf("expected share version 2 after reconcile, got %d", share.Version)
	}
	if len(share.Assets) != 2 {
		t.Errorf("share record assets not updated: %v", share.Assets)
	}
}

func TestPipelineIdentityIsImmutable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	msg := h.submit(t, testPack("pack-a"))
	if err := h.orch.Handle(ctx, msg); err != nil {
		t.Fatalf("initial provision failed: %v", err)
	}

	// Same pipeline name, different source table
	cfg := testPack("pack-a")
	cfg.Shares[0].Assets = []string{"cat.sch.orders", "cat.sch.returns"}
	cfg.Pipelines[0].SourceTable = "cat.sch.returns"
	msg2 := h.submit(t, cfg)

	err := h.orch.Handle(ctx, msg2)
	if err == nil {
		t.Fatal("expected immutability violation to fail the run")
	}
	if ClassOf(err) != ErrorClassValidation {
		t.Errorf("expected a validation error, got class %s: %v", ClassOf(err), err)
	}
	if IsRetryable(err) {
		t.Error("immutability violations must not be retryable")
	}

	// The violation is rejected before any remote pipeline call
	if n := h.countCalls("UpdatePipeline"); n != 0 {
		t.Errorf("expected no pipeline updates, got %d", n)
	}
	if n := h.countCalls("CreatePipeline"); n != 1 {
		t.Errorf("expected only the original create, got %d", n)
	}

	status, serr := h.store.GetSharePackStatus(ctx, msg2.SharePackID)
	if serr != nil {
		t.Fatalf("failed to get status: %v", serr)
	}
	if status.Status != stores.PackStatusFailed {
		t.Errorf("expected FAILED, got %s", status.Status)
	}
	if status.ProvisioningStatus != StepEnsurePipelines {
		t.Errorf("expected failing step %s, got %s", StepEnsurePipelines, status.ProvisioningStatus)
	}
}

func TestOrphanDetachedWhenAssetSharedElsewhere(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Pack A owns the pipeline on the shared source table
	packA := testPack("pack-a")
	msgA := h.submit(t, packA)
	if err := h.orch.Handle(ctx, msgA); err != nil {
		t.Fatalf("pack A provision failed: %v", err)
	}

	// Pack B's share also declares the same source table
	packB := &config.SharePackConfig{
		Name: "pack-b",
		Recipients: []config.RecipientConfig{
			{Name: "auditor", Type: "databricks", SharingIdentifier: "metastore-2"},
		},
		Shares: []config.ShareConfig{
			{Name: "finance", Assets: []string{"cat.sch.orders"}, Recipients: []string{"auditor"}},
		},
	}
	msgB := h.submit(t, packB)
	if err := h.orch.Handle(ctx, msgB); err != nil {
		t.Fatalf("pack B provision failed: %v", err)
	}

	// Pack A drops its pipeline; the source table is still shared by pack B
	packA.Pipelines = nil
	msgA2 := h.submit(t, packA)
	if err := h.orch.Handle(ctx, msgA2); err != nil {
		t.Fatalf("pack A re-provision failed: %v", err)
	}

	// Record retired, remote pipeline preserved for the other consumer
	if _, err := h.store.GetCurrentPipeline(ctx, "sales", "orders-sync"); !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("orphaned pipeline record should be retired, got %v", err)
	}
	if p, _ := h.platform.GetPipeline(ctx, "sales", "orders-sync"); p == nil {
		t.Error("remote pipeline must be preserved while another share declares its source table")
	}
}

func TestOrphanDeletedWhenLastReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cfg := testPack("pack-a")
	msg := h.submit(t, cfg)
	if err := h.orch.Handle(ctx, msg); err != nil {
		t.Fatalf("provision failed: %v", err)
	}

	// Drop the pipeline and stop declaring its source table anywhere
	cfg = testPack("pack-a")
	cfg.Shares[0].Assets = []string{"cat.sch.invoices"}
	cfg.Pipelines = nil
	msg2 := h.submit(t, cfg)
	if err := h.orch.Handle(ctx, msg2); err != nil {
		t.Fatalf("re-provision failed: %v", err)
	}

	if _, err := h.store.GetCurrentPipeline(ctx, "sales", "orders-sync"); !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("orphaned pipeline record should be retired, got %v", err)
	}
	if p, _ := h.platform.GetPipeline(ctx, "sales", "orders-sync"); p != nil {
		t.Error("remote pipeline should be deleted when no active share declares its source table")
	}
}

func TestTeardownRemovesResourcesAndRetainsHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	msg := h.submit(t, testPack("pack-a"))
	if err := h.orch.Handle(ctx, msg); err != nil {
		t.Fatalf("provision failed: %v", err)
	}

	cfg := testPack("pack-a")
	cfg.Strategy = "delete"
	msg2 := h.submit(t, cfg)
	if msg2.ResolvedStrategy != config.StrategyDelete {
		t.Fatalf("delete must pass through detection, got %s", msg2.ResolvedStrategy)
	}
	if err := h.orch.Handle(ctx, msg2); err != nil {
		t.Fatalf("teardown failed: %v", err)
	}

	// Remote resources are gone
	if p, _ := h.platform.GetPipeline(ctx, "sales", "orders-sync"); p != nil {
		t.Error("pipeline should be deleted remotely")
	}
	if s, _ := h.platform.GetShare(ctx, "sales"); s != nil {
		t.Error("share should be deleted remotely")
	}
	if r, _ := h.platform.GetRecipient(ctx, "partner"); r != nil {
		t.Error("recipient should be deleted remotely")
	}

	// Records are soft-deleted: current lookups miss, history remains
	if _, err := h.store.GetCurrentShareByName(ctx, "sales"); !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("share record should be soft-deleted, got %v", err)
	}
	if _, err := h.store.GetCurrentSharePackByName(ctx, "pack-a"); !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("pack name should be reusable after teardown, got %v", err)
	}

	// The pack's terminal version is a soft-deleted COMPLETED record
	pack, err := h.store.GetCurrentSharePack(ctx, msg.SharePackID)
	if err != nil {
		t.Fatalf("pack history should remain queryable: %v", err)
	}
	if !pack.IsDeleted || pack.Status != stores.PackStatusCompleted {
		t.Errorf("expected soft-deleted COMPLETED pack, got deleted=%v status=%s", pack.IsDeleted, pack.Status)
	}
}

func TestTeardownPreservesRecipientUsedElsewhere(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Both packs grant to the same recipient
	packA := testPack("pack-a")
	msgA := h.submit(t, packA)
	if err := h.orch.Handle(ctx, msgA); err != nil {
		t.Fatalf("pack A provision failed: %v", err)
	}

	packB := &config.SharePackConfig{
		Name: "pack-b",
		Recipients: []config.RecipientConfig{
			{Name: "partner", Type: "databricks", SharingIdentifier: "metastore-1"},
		},
		Shares: []config.ShareConfig{
			{Name: "finance", Assets: []string{"cat.sch.invoices"}, Recipients: []string{"partner"}},
		},
	}
	msgB := h.submit(t, packB)
	if err := h.orch.Handle(ctx, msgB); err != nil {
		t.Fatalf("pack B provision failed: %v", err)
	}

	packA.Strategy = "delete"
	msgA2 := h.submit(t, packA)
	if err := h.orch.Handle(ctx, msgA2); err != nil {
		t.Fatalf("teardown failed: %v", err)
	}

	// Pack A's own resources are gone, but the shared recipient survives
	if s, _ := h.platform.GetShare(ctx, "sales"); s != nil {
		t.Error("pack A's share should be deleted")
	}
	if r, _ := h.platform.GetRecipient(ctx, "partner"); r == nil {
		t.Error("recipient must be preserved while another pack's share grants to it")
	}
}
