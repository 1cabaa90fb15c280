package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openshare/openshare/pkg/config"
)

func TestDetectPassThroughStrategies(t *testing.T) {
	_, platform, log, _ := setupTestEngine(t)
	detector := NewDetector(platform, log)
	ctx := context.Background()

	cfg := testPack("pack-a")
	cfg.Strategy = "delete"
	if got := detector.Detect(ctx, cfg); got.Strategy != config.StrategyDelete {
		t.Errorf("delete should pass through, got %s", got.Strategy)
	}

	cfg.Strategy = "reconcile"
	if got := detector.Detect(ctx, cfg); got.Strategy != config.StrategyReconcile {
		t.Errorf("reconcile should pass through, got %s", got.Strategy)
	}

	// Pass-through strategies skip the remote queries entirely
	if calls := platform.Calls(); len(calls) != 0 {
		t.Errorf("expected no platform calls, got %v", calls)
	}
}

func TestDetectResolvesCreateNewWhenAbsent(t *testing.T) {
	_, platform, log, _ := setupTestEngine(t)
	detector := NewDetector(platform, log)

	cfg := testPack("pack-a") // no declared strategy: the provision default
	got := detector.Detect(context.Background(), cfg)
	if got.Strategy != config.StrategyCreateNew {
		t.Errorf("expected create-new, got %s", got.Strategy)
	}
	if len(got.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", got.Warnings)
	}
}

func TestDetectAutoCorrectsCreateNewToReconcile(t *testing.T) {
	_, platform, log, _ := setupTestEngine(t)
	detector := NewDetector(platform, log)
	ctx := context.Background()

	// The share already exists remotely
	if _, err := platform.CreateShare(ctx, &RemoteShare{Name: "sales", Assets: []string{"cat.sch.orders"}}); err != nil {
		t.Fatalf("failed to seed share: %v", err)
	}

	cfg := testPack("pack-a")
	cfg.Strategy = "create-new"
	got := detector.Detect(ctx, cfg)

	if got.Strategy != config.StrategyReconcile {
		t.Errorf("expected auto-correction to reconcile, got %s", got.Strategy)
	}
	if len(got.Warnings) != 1 || !strings.Contains(got.Warnings[0], `share sales`) {
		t.Errorf("warning should name the pre-existing resource, got %v", got.Warnings)
	}
}

func TestDetectFallsBackWhenQueryFails(t *testing.T) {
	_, platform, log, _ := setupTestEngine(t)
	detector := NewDetector(platform, log)

	platform.FailOnce("GetRecipient", errors.New("api unavailable"))

	cfg := testPack("pack-a")
	got := detector.Detect(context.Background(), cfg)

	// The provision default falls back to create-new rather than blocking
	if got.Strategy != config.StrategyCreateNew {
		t.Errorf("expected create-new fallback, got %s", got.Strategy)
	}
	if len(got.Warnings) != 1 || !strings.Contains(got.Warnings[0], "could not verify remote state") {
		t.Errorf("expected a fallback warning, got %v", got.Warnings)
	}
}
