package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openshare/openshare/pkg/config"
	"github.com/openshare/openshare/pkg/stores"
	"github.com/openshare/openshare/pkg/telemetry"
)

// Enqueuer enqueues provisioning work items. Implemented by pkg/queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg ProvisionMessage) error
}

// Submitter accepts parsed share-pack configurations, validates them, runs
// strategy detection, records the share pack, and enqueues the provisioning
// work item. Validation happens here so malformed configurations fail fast,
// before anything is queued.
type Submitter struct {
	store    stores.Store
	queue    Enqueuer
	detector *Detector
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
}

// NewSubmitter creates a submitter.
func NewSubmitter(store stores.Store, queue Enqueuer, detector *Detector, log *telemetry.Logger, metrics *telemetry.Metrics) *Submitter {
	return &Submitter{
		store:    store,
		queue:    queue,
		detector: detector,
		log:      log.NewComponentLogger("submitter"),
		metrics:  metrics,
	}
}

const defaultTenant = "default"

// Submit validates and accepts one share-pack configuration. Validation
// errors are returned in the result without queueing anything. Re-submitting
// a share pack with the same name appends a new version of the same business
// key.
func (s *Submitter) Submit(ctx context.Context, cfg *config.SharePackConfig, requestedBy string) (*UploadResult, error) {
	if verrs := config.Validate(cfg); len(verrs) > 0 {
		return &UploadResult{
			Message:          "configuration is invalid",
			SharePackName:    cfg.Name,
			ValidationErrors: verrs,
		}, nil
	}

	tenantName := cfg.Tenant
	if tenantName == "" {
		tenantName = defaultTenant
	}
	projectName := cfg.Project
	if projectName == "" {
		projectName = cfg.Name
	}

	tenant, err := s.store.EnsureTenant(ctx, tenantName, requestedBy)
	if err != nil {
		return nil, fmt.Errorf("ensure tenant: %w", err)
	}
	project, err := s.store.EnsureProject(ctx, tenant.TenantID, projectName, requestedBy)
	if err != nil {
		return nil, fmt.Errorf("ensure project: %w", err)
	}

	detection := s.detector.Detect(ctx, cfg)

	rawCfg, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal configuration: %w", err)
	}

	rec := &stores.SharePackRecord{
		ProjectID:          project.ProjectID,
		Name:               cfg.Name,
		Config:             string(rawCfg),
		Strategy:           string(detection.Strategy),
		Status:             stores.PackStatusInProgress,
		ProvisioningStatus: StepQueued,
		RequestedBy:        requestedBy,
	}
	rec.CreatedBy = requestedBy
	rec.ChangeReason = "share pack submitted"

	// Re-submission of the same name continues the existing business key.
	if prev, err := s.store.GetCurrentSharePackByName(ctx, cfg.Name); err == nil {
		rec.SharePackID = prev.SharePackID
	} else if !errors.Is(err, stores.ErrNotFound) {
		return nil, fmt.Errorf("look up share pack: %w", err)
	}

	rec, err = s.store.AppendSharePack(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("record share pack: %w", err)
	}

	msg := ProvisionMessage{
		SharePackID:      rec.SharePackID,
		ResolvedStrategy: detection.Strategy,
		EnqueuedAt:       time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return nil, fmt.Errorf("enqueue share pack: %w", err)
	}

	s.metrics.PackSubmitted(string(detection.Strategy))
	s.log.WithField("share_pack_id", rec.SharePackID).
		WithField("strategy", detection.Strategy).
		Info("share pack accepted and queued")

	return &UploadResult{
		Message:            "share pack accepted for provisioning",
		SharePackID:        rec.SharePackID,
		SharePackName:      rec.Name,
		Status:             rec.Status,
		ValidationWarnings: detection.Warnings,
	}, nil
}

// Status returns the status query projection for a share pack.
func (s *Submitter) Status(ctx context.Context, sharePackID string) (*stores.SharePackStatus, error) {
	return s.store.GetSharePackStatus(ctx, sharePackID)
}
