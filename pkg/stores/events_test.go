package stores

import (
	"context"
	"testing"
	"time"
)

// TestSyncJobLifecycle tests creating and finishing a sync job with metrics
func TestSyncJobLifecycle(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	pack := seedSharePack(t, store, "pack-job")

	job := &SyncJob{
		SharePackID: pack.SharePackID,
		JobType:     "provision",
		Status:      "RUNNING",
		StartedAt:   time.Now().UTC(),
	}
	if err := store.CreateSyncJob(ctx, job); err != nil {
		t.Fatalf("failed to create sync job: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("sync job ID should be set after create")
	}

	metric := &JobMetric{
		SyncJobID:  job.ID,
		Name:       "ensure-shares_seconds",
		Value:      0.42,
		RecordedAt: time.Now().UTC(),
	}
	if err := store.AppendJobMetric(ctx, metric); err != nil {
		t.Fatalf("failed to append job metric: %v", err)
	}

	errMsg := "pipeline create failed"
	if err := store.FinishSyncJob(ctx, job.ID, "FAILED", &errMsg); err != nil {
		t.Fatalf("failed to finish sync job: %v", err)
	}

	var status string
	var finished *time.Time
	err := store.db.QueryRowContext(ctx,
		"SELECT status, finished_at FROM sync_jobs WHERE id = ?", job.ID,
	).Scan(&status, &finished)
	if err != nil {
		t.Fatalf("failed to read sync job: %v", err)
	}
	if status != "FAILED" {
		t.Errorf("expected FAILED, got %s", status)
	}
	if finished == nil {
		t.Error("finished_at should be set")
	}
}

// TestAuditTrail tests that entity appends produce audit entries and the
// filtered listing works
func TestAuditTrail(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	pack := seedSharePack(t, store, "pack-audit")

	// seedSharePack appended one version, so one "created" entry exists
	entityType := "share_pack"
	entries, err := store.ListAuditEntries(ctx, &entityType, &pack.SharePackID, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Action != "created" {
		t.Errorf("expected action created, got %s", entries[0].Action)
	}

	if _, err := store.UpdateSharePackStatus(ctx, pack.SharePackID, PackStatusCompleted, "completed", "", "test"); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	entries, err = store.ListAuditEntries(ctx, &entityType, &pack.SharePackID, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 audit entries after update, got %d", len(entries))
	}

	// Unfiltered listing includes tenant/project bootstrap entries too
	all, err := store.ListAuditEntries(ctx, nil, nil, 100, 0)
	if err != nil {
		t.Fatalf("failed to list all audit entries: %v", err)
	}
	if len(all) < 4 {
		t.Errorf("expected at least 4 audit entries, got %d", len(all))
	}
}

// TestProjectCostAndNotification tests the append-only event records
func TestProjectCostAndNotification(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	pack := seedSharePack(t, store, "pack-events")

	cost := &ProjectCost{
		ProjectID:  pack.ProjectID,
		Amount:     0.20,
		Currency:   "USD",
		IncurredAt: time.Now().UTC(),
	}
	if err := store.AppendProjectCost(ctx, cost); err != nil {
		t.Fatalf("failed to append project cost: %v", err)
	}

	n := &Notification{
		SharePackID: pack.SharePackID,
		Channel:     "email",
		Recipient:   "ops@example.com",
		Message:     "share pack provisioning completed",
		SentAt:      time.Now().UTC(),
	}
	if err := store.AppendNotification(ctx, n); err != nil {
		t.Fatalf("failed to append notification: %v", err)
	}

	var costs, notifications int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM project_costs WHERE project_id = ?", pack.ProjectID).Scan(&costs); err != nil {
		t.Fatalf("failed to count costs: %v", err)
	}
	if costs != 1 {
		t.Errorf("expected 1 cost row, got %d", costs)
	}
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications WHERE share_pack_id = ?", pack.SharePackID).Scan(&notifications); err != nil {
		t.Fatalf("failed to count notifications: %v", err)
	}
	if notifications != 1 {
		t.Errorf("expected 1 notification row, got %d", notifications)
	}
}
