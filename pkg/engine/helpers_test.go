package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/openshare/openshare/pkg/config"
	"github.com/openshare/openshare/pkg/stores"
	"github.com/openshare/openshare/pkg/telemetry"
)

// setupTestEngine wires a file-backed store, an in-memory platform, and
// no-op observability for engine tests.
func setupTestEngine(t *testing.T) (*stores.SQLiteStore, *MemoryPlatform, *telemetry.Logger, *telemetry.Metrics) {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

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

	return store, NewMemoryPlatform(), log, metrics
}

// captureQueue records enqueued messages without delivering them anywhere.
type captureQueue struct {
	messages []ProvisionMessage
}

func (q *captureQueue) Enqueue(_ context.Context, msg ProvisionMessage) error {
	q.messages = append(q.messages, msg)
	return nil
}

// testPack returns a well-formed share pack configuration for tests.
func testPack(name string) *config.SharePackConfig {
	return &config.SharePackConfig{
		Name: name,
		Recipients: []config.RecipientConfig{
			{Name: "partner", Type: "databricks", SharingIdentifier: "metastore-1"},
		},
		Shares: []config.ShareConfig{
			{Name: "sales", Assets: []string{"cat.sch.orders"}, Recipients: []string{"partner"}},
		},
		Pipelines: []config.PipelineConfig{
			{
				Name:        "orders-sync",
				Share:       "sales",
				SourceTable: "cat.sch.orders",
				SCDType:     "scd2",
				Schedule:    config.ScheduleConfig{Cron: "0 2 * * *", Timezone: "UTC"},
			},
		},
	}
}
