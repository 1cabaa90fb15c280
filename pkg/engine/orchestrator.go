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

// Orchestrator consumes one dequeued share pack at a time and applies it to
// completion or a terminal failure. Steps run in a fixed order; each one is
// idempotent, so a redelivered message re-applies from the start and
// converges instead of duplicating resources.
type Orchestrator struct {
	store    stores.Store
	platform PlatformClient
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
	actor    string
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(store stores.Store, platform PlatformClient, log *telemetry.Logger, metrics *telemetry.Metrics) *Orchestrator {
	return &Orchestrator{
		store:    store,
		platform: platform,
		log:      log.NewComponentLogger("orchestrator"),
		metrics:  metrics,
		actor:    "orchestrator",
	}
}

// Flat per-pipeline estimate attributed to the owning project on every
// successful run; refined later by the billing exporter.
const estimatedCostPerPipeline = 0.10

// Handle processes one provisioning message to a terminal outcome. The
// returned error's class tells the queue consumer whether redelivery can
// help: transient errors are retryable, everything else is terminal.
func (o *Orchestrator) Handle(ctx context.Context, msg ProvisionMessage) error {
	log := o.log.WithField("share_pack_id", msg.SharePackID)

	pack, err := o.store.GetCurrentSharePack(ctx, msg.SharePackID)
	if errors.Is(err, stores.ErrNotFound) {
		return NewNotFoundError("share pack does not exist", err).WithResource(msg.SharePackID)
	}
	if err != nil {
		return NewTransientError("failed to read share pack", err)
	}

	// A lease-expiry redelivery can arrive after the pack already reached a
	// terminal state; reprocessing would be safe but pointless.
	if pack.Status.IsTerminal() {
		log.Info("share pack already terminal, skipping redelivered message")
		return nil
	}

	var cfg config.SharePackConfig
	if err := json.Unmarshal([]byte(pack.Config), &cfg); err != nil {
		verr := NewValidationError("stored configuration is unreadable", err)
		o.fail(ctx, pack, nil, StepInitialize, verr)
		return verr
	}

	jobType := "provision"
	if msg.ResolvedStrategy == config.StrategyDelete {
		jobType = "teardown"
	}
	job := &stores.SyncJob{
		SharePackID: pack.SharePackID,
		JobType:     jobType,
		Status:      "RUNNING",
		StartedAt:   time.Now().UTC(),
	}
	if err := o.store.CreateSyncJob(ctx, job); err != nil {
		log.WithError(err).Warn("failed to record sync job")
	}

	start := time.Now()
	var runErr error
	if msg.ResolvedStrategy == config.StrategyDelete {
		runErr = o.teardown(ctx, pack, &cfg, job)
	} else {
		runErr = o.provision(ctx, pack, &cfg, job)
	}

	if runErr != nil {
		var pe *ProvisionError
		step := ""
		if errors.As(runErr, &pe) {
			step = pe.Step
		}
		o.metrics.RecordError(string(ClassOf(runErr)))

		// A retryable failure must not reach a terminal status: the
		// unacked message will be redelivered and the run re-applied. Only
		// the consumer, once the retry budget is spent, makes it FAILED.
		if IsRetryable(runErr) {
			o.noteRetryable(ctx, pack, step, runErr)
			o.finishJob(ctx, job, "FAILED", strPtr(runErr.Error()))
			return runErr
		}

		o.fail(ctx, pack, job, step, runErr)
		o.metrics.PackCompleted("FAILED", time.Since(start))
		return runErr
	}

	outcome := "share pack provisioning completed"
	if msg.ResolvedStrategy == config.StrategyDelete {
		// Teardown wrote its own terminal soft-deleted version.
		outcome = "share pack teardown completed"
	} else {
		if _, err := o.store.UpdateSharePackStatus(ctx, pack.SharePackID, stores.PackStatusCompleted, StepCompleted, "", o.actor); err != nil {
			return NewTransientError("failed to record completion", err)
		}
		o.recordCost(ctx, pack, &cfg)
	}
	o.finishJob(ctx, job, "COMPLETED", nil)
	o.notifyOutcome(ctx, pack, &cfg, outcome)
	o.metrics.PackCompleted("COMPLETED", time.Since(start))
	log.Info(outcome)

	return nil
}

// provision runs the linear step order for create-new and reconcile
// strategies.
func (o *Orchestrator) provision(ctx context.Context, pack *stores.SharePackRecord, cfg *config.SharePackConfig, job *stores.SyncJob) error {
	if err := o.step(ctx, pack, job, StepInitialize, func(context.Context) error {
		return nil
	}); err != nil {
		return err
	}

	var recipients []*stores.RecipientRecord
	if err := o.step(ctx, pack, job, StepEnsureRecipients, func(ctx context.Context) error {
		var err error
		recipients, err = o.ensureRecipients(ctx, pack, cfg)
		return err
	}); err != nil {
		return err
	}

	var shares []*stores.ShareRecord
	if err := o.step(ctx, pack, job, StepEnsureShares, func(ctx context.Context) error {
		var err error
		shares, err = o.ensureShares(ctx, pack, cfg)
		return err
	}); err != nil {
		return err
	}

	var pipelines []*stores.PipelineRecord
	if err := o.step(ctx, pack, job, StepEnsurePipelines, func(ctx context.Context) error {
		var err error
		pipelines, err = o.ensurePipelines(ctx, pack, cfg)
		return err
	}); err != nil {
		return err
	}

	if err := o.step(ctx, pack, job, StepPersist, func(ctx context.Context) error {
		return o.persist(ctx, recipients, shares, pipelines)
	}); err != nil {
		return err
	}

	// Cleanup failures are logged and surfaced as warnings, never a FAILED
	// outcome: cleanup is best-effort maintenance, not the run's goal.
	if err := o.step(ctx, pack, job, StepCleanupOrphans, func(ctx context.Context) error {
		warnings := o.cleanupOrphans(ctx, pack, cfg)
		for _, w := range warnings {
			o.log.WithField("share_pack_id", pack.SharePackID).Warn(w)
		}
		return nil
	}); err != nil {
		return err
	}

	return o.step(ctx, pack, job, StepFinalize, func(context.Context) error {
		return nil
	})
}

// step records the step name to the status tracker, runs fn, and classifies
// any failure with the step retained for diagnosis.
func (o *Orchestrator) step(ctx context.Context, pack *stores.SharePackRecord, job *stores.SyncJob, name string, fn func(context.Context) error) error {
	if _, err := o.store.UpdateSharePackStatus(ctx, pack.SharePackID, stores.PackStatusInProgress, name, "", o.actor); err != nil {
		return NewTransientError("failed to record step status", err).WithStep(name)
	}

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	o.metrics.StepDuration(name, elapsed, err == nil)
	if job.ID != 0 {
		metric := &stores.JobMetric{
			SyncJobID:  job.ID,
			Name:       name + "_seconds",
			Value:      elapsed.Seconds(),
			RecordedAt: time.Now().UTC(),
		}
		if merr := o.store.AppendJobMetric(ctx, metric); merr != nil {
			o.log.WithError(merr).Warn("failed to record job metric")
		}
	}

	if err != nil {
		var pe *ProvisionError
		if errors.As(err, &pe) {
			if pe.Step == "" {
				pe.Step = name
			}
			return err
		}
		return NewTransientError("step failed", err).WithStep(name)
	}

	return nil
}

// ensureRecipients creates absent recipients and updates the mutable fields
// of existing ones. Recipients always have ensure semantics, for every
// strategy; a pre-existing recipient is never a hard failure.
func (o *Orchestrator) ensureRecipients(ctx context.Context, pack *stores.SharePackRecord, cfg *config.SharePackConfig) ([]*stores.RecipientRecord, error) {
	resolved := make([]*stores.RecipientRecord, 0, len(cfg.Recipients))

	for _, rc := range cfg.Recipients {
		remote, err := o.platform.GetRecipient(ctx, rc.Name)
		if err != nil {
			return nil, NewTransientError("failed to query recipient", err).WithResource(rc.Name)
		}

		desired := &RemoteRecipient{
			Name:               rc.Name,
			Type:               rc.Type,
			SharingIdentifier:  rc.SharingIdentifier,
			Description:        rc.Description,
			IPAccessList:       rc.IPAccessList,
			TokenExpirySeconds: rc.TokenExpirySeconds,
		}

		var remoteID string
		if remote == nil {
			remoteID, err = o.platform.CreateRecipient(ctx, desired)
			if err != nil {
				return nil, NewTransientError("failed to create recipient", err).WithResource(rc.Name)
			}
		} else {
			remoteID = remote.ID
			if err := o.platform.UpdateRecipient(ctx, desired); err != nil {
				return nil, NewTransientError("failed to update recipient", err).WithResource(rc.Name)
			}
		}

		rec := &stores.RecipientRecord{
			SharePackID:        pack.SharePackID,
			Name:               rc.Name,
			Type:               rc.Type,
			SharingIdentifier:  rc.SharingIdentifier,
			Description:        rc.Description,
			IPAccessList:       rc.IPAccessList,
			TokenExpirySeconds: rc.TokenExpirySeconds,
			RemoteID:           remoteID,
		}
		rec.CreatedBy = o.actor
		rec.ChangeReason = StepEnsureRecipients
		if err := o.adoptRecipientKey(ctx, rec); err != nil {
			return nil, err
		}
		resolved = append(resolved, rec)
	}

	return resolved, nil
}

// adoptRecipientKey continues the existing business key when a recipient with
// the same name was versioned before.
func (o *Orchestrator) adoptRecipientKey(ctx context.Context, rec *stores.RecipientRecord) error {
	prev, err := o.store.GetCurrentRecipientByName(ctx, rec.Name)
	if err == nil {
		rec.RecipientID = prev.RecipientID
		return nil
	}
	if errors.Is(err, stores.ErrNotFound) {
		return nil
	}
	return NewTransientError("failed to look up recipient record", err).WithResource(rec.Name)
}

// ensureShares creates absent shares and reconciles the asset and recipient
// sets of existing ones by set difference, so partial updates never require
// repeating unrelated entries.
func (o *Orchestrator) ensureShares(ctx context.Context, pack *stores.SharePackRecord, cfg *config.SharePackConfig) ([]*stores.ShareRecord, error) {
	resolved := make([]*stores.ShareRecord, 0, len(cfg.Shares))

	for _, sc := range cfg.Shares {
		remote, err := o.platform.GetShare(ctx, sc.Name)
		if err != nil {
			return nil, NewTransientError("failed to query share", err).WithResource(sc.Name)
		}

		var remoteID string
		if remote == nil {
			remoteID, err = o.platform.CreateShare(ctx, &RemoteShare{
				Name:       sc.Name,
				Assets:     sc.Assets,
				Recipients: sc.Recipients,
			})
			if err != nil {
				return nil, NewTransientError("failed to create share", err).WithResource(sc.Name)
			}
		} else {
			remoteID = remote.ID

			addAssets, removeAssets := diffSets(sc.Assets, remote.Assets)
			if len(addAssets) > 0 || len(removeAssets) > 0 {
				if err := o.platform.UpdateShareAssets(ctx, sc.Name, addAssets, removeAssets); err != nil {
					return nil, NewTransientError("failed to update share assets", err).WithResource(sc.Name)
				}
			}

			addRecipients, removeRecipients := diffSets(sc.Recipients, remote.Recipients)
			if len(addRecipients) > 0 || len(removeRecipients) > 0 {
				if err := o.platform.UpdateShareRecipients(ctx, sc.Name, addRecipients, removeRecipients); err != nil {
					return nil, NewTransientError("failed to update share recipients", err).WithResource(sc.Name)
				}
			}
		}

		rec := &stores.ShareRecord{
			SharePackID:   pack.SharePackID,
			Name:          sc.Name,
			Assets:        sc.Assets,
			Recipients:    sc.Recipients,
			TargetCatalog: sc.TargetCatalog,
			TargetSchema:  sc.TargetSchema,
			RemoteID:      remoteID,
		}
		rec.CreatedBy = o.actor
		rec.ChangeReason = StepEnsureShares

		prev, err := o.store.GetCurrentShareByName(ctx, sc.Name)
		if err == nil {
			rec.ShareID = prev.ShareID
		} else if !errors.Is(err, stores.ErrNotFound) {
			return nil, NewTransientError("failed to look up share record", err).WithResource(sc.Name)
		}

		resolved = append(resolved, rec)
	}

	return resolved, nil
}

// ensurePipelines creates missing pipelines and updates existing ones. A
// pipeline's source table and change-tracking mode are immutable identity: a
// declared change to either on an existing pipeline is a validation error,
// rejected before any remote call for that pipeline.
func (o *Orchestrator) ensurePipelines(ctx context.Context, pack *stores.SharePackRecord, cfg *config.SharePackConfig) ([]*stores.PipelineRecord, error) {
	resolved := make([]*stores.PipelineRecord, 0, len(cfg.Pipelines))

	for _, pc := range cfg.Pipelines {
		prev, err := o.store.GetCurrentPipeline(ctx, pc.Share, pc.Name)
		if err != nil && !errors.Is(err, stores.ErrNotFound) {
			return nil, NewTransientError("failed to look up pipeline record", err).WithResource(pc.Name)
		}
		if prev != nil {
			if prev.SourceTable != pc.SourceTable {
				return nil, NewValidationError(
					fmt.Sprintf("pipeline source_table is immutable: existing %q, declared %q", prev.SourceTable, pc.SourceTable),
					nil,
				).WithResource(pc.Name)
			}
			if prev.SCDType != pc.SCDType {
				return nil, NewValidationError(
					fmt.Sprintf("pipeline scd_type is immutable: existing %q, declared %q", prev.SCDType, pc.SCDType),
					nil,
				).WithResource(pc.Name)
			}
		}

		remote, err := o.platform.GetPipeline(ctx, pc.Share, pc.Name)
		if err != nil {
			return nil, NewTransientError("failed to query pipeline", err).WithResource(pc.Name)
		}

		desired := &RemotePipeline{
			ShareName:     pc.Share,
			Name:          pc.Name,
			SourceTable:   pc.SourceTable,
			SCDType:       pc.SCDType,
			KeyColumns:    pc.KeyColumns,
			Cron:          pc.Schedule.Cron,
			Timezone:      pc.Schedule.Timezone,
			Continuous:    pc.Schedule.Continuous,
			Notifications: pc.Notifications,
		}

		var pipelineID, jobID string
		if remote == nil {
			pipelineID, jobID, err = o.platform.CreatePipeline(ctx, desired)
			if err != nil {
				return nil, NewTransientError("failed to create pipeline", err).WithResource(pc.Name)
			}
		} else {
			if remote.SourceTable != pc.SourceTable {
				return nil, NewValidationError(
					fmt.Sprintf("pipeline source_table is immutable: remote %q, declared %q", remote.SourceTable, pc.SourceTable),
					nil,
				).WithResource(pc.Name)
			}
			pipelineID, jobID = remote.ID, remote.JobID
			if err := o.platform.UpdatePipeline(ctx, desired); err != nil {
				return nil, NewTransientError("failed to update pipeline", err).WithResource(pc.Name)
			}
		}

		rec := &stores.PipelineRecord{
			SharePackID:      pack.SharePackID,
			ShareName:        pc.Share,
			Name:             pc.Name,
			SourceTable:      pc.SourceTable,
			KeyColumns:       pc.KeyColumns,
			SCDType:          pc.SCDType,
			ScheduleCron:     pc.Schedule.Cron,
			ScheduleTimezone: pc.Schedule.Timezone,
			Continuous:       pc.Schedule.Continuous,
			Notifications:    pc.Notifications,
			RemotePipelineID: pipelineID,
			RemoteJobID:      jobID,
		}
		rec.CreatedBy = o.actor
		rec.ChangeReason = StepEnsurePipelines
		if prev != nil {
			rec.PipelineID = prev.PipelineID
		}
		resolved = append(resolved, rec)
	}

	return resolved, nil
}

// persist writes the resolved state of every touched entity to the versioned
// store as new versions.
func (o *Orchestrator) persist(ctx context.Context, recipients []*stores.RecipientRecord, shares []*stores.ShareRecord, pipelines []*stores.PipelineRecord) error {
	for _, rec := range recipients {
		if _, err := o.store.AppendRecipient(ctx, rec); err != nil {
			return NewTransientError("failed to persist recipient", err).WithResource(rec.Name)
		}
	}
	for _, rec := range shares {
		if _, err := o.store.AppendShare(ctx, rec); err != nil {
			return NewTransientError("failed to persist share", err).WithResource(rec.Name)
		}
	}
	for _, rec := range pipelines {
		if _, err := o.store.AppendPipeline(ctx, rec); err != nil {
			return NewTransientError("failed to persist pipeline", err).WithResource(rec.Name)
		}
	}
	return nil
}

// noteRetryable records the failing step and message while keeping the pack
// IN_PROGRESS so a redelivery can pick it back up.
func (o *Orchestrator) noteRetryable(ctx context.Context, pack *stores.SharePackRecord, step string, cause error) {
	if step == "" {
		step = StepInitialize
	}
	if _, err := o.store.UpdateSharePackStatus(ctx, pack.SharePackID, stores.PackStatusInProgress, step, cause.Error(), o.actor); err != nil {
		o.log.WithError(err).Error("failed to record retryable failure")
	}
	o.log.WithField("share_pack_id", pack.SharePackID).
		WithField("step", step).
		WithError(cause).
		Warn("share pack provisioning failed, awaiting redelivery")
}

// MarkFailed flips a pack to terminal FAILED after the queue consumer has
// exhausted the retry budget.
func (o *Orchestrator) MarkFailed(ctx context.Context, sharePackID string, cause error) error {
	pack, err := o.store.GetCurrentSharePack(ctx, sharePackID)
	if err != nil {
		return fmt.Errorf("failed to read share pack: %w", err)
	}
	if pack.Status.IsTerminal() {
		return nil
	}

	step := pack.ProvisioningStatus
	if step == "" {
		step = StepInitialize
	}
	if _, err := o.store.UpdateSharePackStatus(ctx, sharePackID, stores.PackStatusFailed, step, cause.Error(), o.actor); err != nil {
		return fmt.Errorf("failed to record FAILED status: %w", err)
	}
	o.metrics.PackCompleted("FAILED", 0)
	return nil
}

// fail records the terminal FAILED state with the step retained in the
// provisioning status for diagnosis.
func (o *Orchestrator) fail(ctx context.Context, pack *stores.SharePackRecord, job *stores.SyncJob, step string, cause error) {
	if step == "" {
		step = StepInitialize
	}
	msg := cause.Error()
	if _, err := o.store.UpdateSharePackStatus(ctx, pack.SharePackID, stores.PackStatusFailed, step, msg, o.actor); err != nil {
		o.log.WithError(err).Error("failed to record FAILED status")
	}
	if job != nil {
		o.finishJob(ctx, job, "FAILED", &msg)
	}
	o.log.WithField("share_pack_id", pack.SharePackID).
		WithField("step", step).
		WithError(cause).
		Error("share pack provisioning failed")
}

func (o *Orchestrator) finishJob(ctx context.Context, job *stores.SyncJob, status string, errMsg *string) {
	if job == nil || job.ID == 0 {
		return
	}
	if err := o.store.FinishSyncJob(ctx, job.ID, status, errMsg); err != nil {
		o.log.WithError(err).Warn("failed to finish sync job")
	}
}

// recordCost attributes a flat per-pipeline estimate to the owning project.
func (o *Orchestrator) recordCost(ctx context.Context, pack *stores.SharePackRecord, cfg *config.SharePackConfig) {
	if len(cfg.Pipelines) == 0 {
		return
	}
	cost := &stores.ProjectCost{
		ProjectID:  pack.ProjectID,
		Amount:     estimatedCostPerPipeline * float64(len(cfg.Pipelines)),
		Currency:   "USD",
		IncurredAt: time.Now().UTC(),
	}
	if err := o.store.AppendProjectCost(ctx, cost); err != nil {
		o.log.WithError(err).Warn("failed to record project cost")
	}
}

// notifyOutcome records outbound notifications for every address declared on
// the pack's pipelines.
func (o *Orchestrator) notifyOutcome(ctx context.Context, pack *stores.SharePackRecord, cfg *config.SharePackConfig, message string) {
	seen := map[string]bool{}
	now := time.Now().UTC()
	for _, pc := range cfg.Pipelines {
		for _, addr := range pc.Notifications {
			if seen[addr] {
				continue
			}
			seen[addr] = true
			n := &stores.Notification{
				SharePackID: pack.SharePackID,
				Channel:     "email",
				Recipient:   addr,
				Message:     message,
				SentAt:      now,
			}
			if err := o.store.AppendNotification(ctx, n); err != nil {
				o.log.WithError(err).Warn("failed to record notification")
			}
		}
	}
}

func strPtr(s string) *string { return &s }

// diffSets returns declared minus current as additions and current minus
// declared as removals.
func diffSets(declared, current []string) (add, remove []string) {
	declaredSet := make(map[string]bool, len(declared))
	for _, d := range declared {
		declaredSet[d] = true
	}
	currentSet := make(map[string]bool, len(current))
	for _, c := range current {
		currentSet[c] = true
	}

	for _, d := range declared {
		if !currentSet[d] {
			add = append(add, d)
		}
	}
	for _, c := range current {
		if !declaredSet[c] {
			remove = append(remove, c)
		}
	}
	return add, remove
}
