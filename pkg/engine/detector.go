package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openshare/openshare/pkg/config"
	"github.com/openshare/openshare/pkg/telemetry"
)

// Detector resolves the effective provisioning strategy for a submitted
// share pack from declared intent and current remote state.
type Detector struct {
	platform PlatformClient
	log      *telemetry.Logger
}

// NewDetector creates a strategy detector.
func NewDetector(platform PlatformClient, log *telemetry.Logger) *Detector {
	return &Detector{
		platform: platform,
		log:      log.NewComponentLogger("detector"),
	}
}

// Detect resolves the pack's strategy and returns any warnings.
//
// With no declared strategy (or the provision default), it checks whether any
// declared recipient or share name already exists remotely: none existing
// resolves to create-new, any existing resolves to reconcile with a warning
// naming the pre-existing resources. An explicit create-new is auto-corrected
// to reconcile the same way, preventing "already exists" failures. A delete
// strategy is never inferred; it passes through only when declared.
//
// When the read-only reconciliation query itself fails, detection falls back
// to the declared strategy with a warning rather than blocking submission.
func (d *Detector) Detect(ctx context.Context, cfg *config.SharePackConfig) DetectionResult {
	declared := config.Strategy(cfg.Strategy)
	if declared == "" {
		declared = config.StrategyProvision
	}

	switch declared {
	case config.StrategyDelete:
		return DetectionResult{Strategy: config.StrategyDelete}
	case config.StrategyReconcile:
		return DetectionResult{Strategy: config.StrategyReconcile}
	}

	existing, err := d.findExisting(ctx, cfg)
	if err != nil {
		fallback := declared
		if fallback == config.StrategyProvision {
			fallback = config.StrategyCreateNew
		}
		d.log.WithError(err).Warn("strategy detection query failed, falling back to declared strategy")
		return DetectionResult{
			Strategy: fallback,
			Warnings: []string{fmt.Sprintf("could not verify remote state (%v); proceeding with strategy %s", err, fallback)},
		}
	}

	if len(existing) == 0 {
		return DetectionResult{Strategy: config.StrategyCreateNew}
	}

	sort.Strings(existing)
	warning := fmt.Sprintf("resources already exist remotely (%s); resolved strategy is reconcile", strings.Join(existing, ", "))
	d.log.WithField("existing", existing).Info("auto-correcting strategy to reconcile")

	return DetectionResult{
		Strategy: config.StrategyReconcile,
		Warnings: []string{warning},
	}
}

// findExisting returns the declared recipient and share names that already
// exist on the platform.
func (d *Detector) findExisting(ctx context.Context, cfg *config.SharePackConfig) ([]string, error) {
	existing := []string{}

	for _, r := range cfg.Recipients {
		remote, err := d.platform.GetRecipient(ctx, r.Name)
		if err != nil {
			return nil, fmt.Errorf("get recipient %q: %w", r.Name, err)
		}
		if remote != nil {
			existing = append(existing, "recipient "+r.Name)
		}
	}

	for _, s := range cfg.Shares {
		remote, err := d.platform.GetShare(ctx, s.Name)
		if err != nil {
			return nil, fmt.Errorf("get share %q: %w", s.Name, err)
		}
		if remote != nil {
			existing = append(existing, "share "+s.Name)
		}
	}

	return existing, nil
}
