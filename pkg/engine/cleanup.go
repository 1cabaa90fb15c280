package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openshare/openshare/pkg/config"
	"github.com/openshare/openshare/pkg/stores"
)

// cleanupOrphans removes pipelines this pack previously provisioned that the
// current configuration no longer declares. A remote pipeline is only deleted
// when no active share anywhere still declares its source table; otherwise
// the local record is retired and the remote pipeline stays for its remaining
// consumers. All failures are reported as warnings, never as a run failure.
func (o *Orchestrator) cleanupOrphans(ctx context.Context, pack *stores.SharePackRecord, cfg *config.SharePackConfig) []string {
	var warnings []string

	pipelines, err := o.store.ListCurrentPipelinesBySharePack(ctx, pack.SharePackID)
	if err != nil {
		return []string{fmt.Sprintf("orphan cleanup skipped: failed to list pipelines: %v", err)}
	}

	declared := make(map[string]bool, len(cfg.Pipelines))
	for _, pc := range cfg.Pipelines {
		declared[pc.Share+"/"+pc.Name] = true
	}

	for _, pl := range pipelines {
		if declared[pl.ShareName+"/"+pl.Name] {
			continue
		}

		if w := o.retirePipeline(ctx, pl); w != "" {
			warnings = append(warnings, w)
		}
	}

	return warnings
}

// retirePipeline detaches one orphaned pipeline record and, if no active
// share still declares its source table, deletes the remote pipeline and its
// schedule as well. Returns a warning message or "".
func (o *Orchestrator) retirePipeline(ctx context.Context, pl *stores.PipelineRecord) string {
	holders, err := o.store.ListActiveSharesDeclaringAsset(ctx, pl.SourceTable)
	if err != nil {
		return fmt.Sprintf("orphaned pipeline %s/%s left in place: failed to check asset usage: %v", pl.ShareName, pl.Name, err)
	}

	if len(holders) == 0 {
		if err := o.platform.DeletePipeline(ctx, pl.RemotePipelineID); err != nil {
			return fmt.Sprintf("orphaned pipeline %s/%s left in place: remote delete failed: %v", pl.ShareName, pl.Name, err)
		}
		if pl.RemoteJobID != "" {
			if err := o.platform.DeleteSchedule(ctx, pl.RemoteJobID); err != nil {
				return fmt.Sprintf("orphaned pipeline %s/%s deleted but schedule removal failed: %v", pl.ShareName, pl.Name, err)
			}
		}
		o.metrics.OrphanCleaned("deleted")
	} else {
		o.log.WithField("pipeline", pl.ShareName+"/"+pl.Name).
			WithField("source_table", pl.SourceTable).
			Info("source table still shared elsewhere, detaching record only")
		o.metrics.OrphanCleaned("detached")
	}

	if err := o.store.SoftDeletePipeline(ctx, pl.PipelineID, o.actor, StepCleanupOrphans); err != nil {
		return fmt.Sprintf("orphaned pipeline %s/%s: failed to retire record: %v", pl.ShareName, pl.Name, err)
	}
	return ""
}

// teardown dismantles everything the pack provisioned, in reverse dependency
// order. Resources shared with other packs are preserved: a remote pipeline
// or recipient is only deleted when this pack is its last user. Remote
// resources already absent count as deleted, so a redelivered teardown
// converges.
func (o *Orchestrator) teardown(ctx context.Context, pack *stores.SharePackRecord, cfg *config.SharePackConfig, job *stores.SyncJob) error {
	return o.step(ctx, pack, job, StepTeardown, func(ctx context.Context) error {
		if err := o.teardownPipelines(ctx, pack); err != nil {
			return err
		}
		if err := o.teardownShares(ctx, pack); err != nil {
			return err
		}
		if err := o.teardownRecipients(ctx, pack, cfg); err != nil {
			return err
		}
		return o.retirePack(ctx, pack)
	})
}

func (o *Orchestrator) teardownPipelines(ctx context.Context, pack *stores.SharePackRecord) error {
	pipelines, err := o.store.ListCurrentPipelinesBySharePack(ctx, pack.SharePackID)
	if err != nil {
		return NewTransientError("failed to list pipelines", err)
	}

	for _, pl := range pipelines {
		holders, err := o.store.ListActiveSharesDeclaringAsset(ctx, pl.SourceTable)
		if err != nil {
			return NewTransientError("failed to check asset usage", err).WithResource(pl.Name)
		}

		external := false
		for _, sh := range holders {
			if sh.SharePackID != pack.SharePackID {
				external = true
				break
			}
		}

		if !external {
			if err := o.platform.DeletePipeline(ctx, pl.RemotePipelineID); err != nil {
				return NewTransientError("failed to delete pipeline", err).WithResource(pl.Name)
			}
			if pl.RemoteJobID != "" {
				if err := o.platform.DeleteSchedule(ctx, pl.RemoteJobID); err != nil {
					return NewTransientError("failed to delete schedule", err).WithResource(pl.Name)
				}
			}
		}

		if err := o.store.SoftDeletePipeline(ctx, pl.PipelineID, o.actor, StepTeardown); err != nil {
			return NewTransientError("failed to retire pipeline record", err).WithResource(pl.Name)
		}
	}

	return nil
}

func (o *Orchestrator) teardownShares(ctx context.Context, pack *stores.SharePackRecord) error {
	shares, err := o.store.ListCurrentSharesBySharePack(ctx, pack.SharePackID)
	if err != nil {
		return NewTransientError("failed to list shares", err)
	}

	for _, sh := range shares {
		if err := o.platform.DeleteShare(ctx, sh.Name); err != nil {
			return NewTransientError("failed to delete share", err).WithResource(sh.Name)
		}
		if err := o.store.SoftDeleteShare(ctx, sh.ShareID, o.actor, StepTeardown); err != nil {
			return NewTransientError("failed to retire share record", err).WithResource(sh.Name)
		}
	}

	return nil
}

// teardownRecipients removes the pack's recipients unless a share outside
// this pack still grants to them.
func (o *Orchestrator) teardownRecipients(ctx context.Context, pack *stores.SharePackRecord, cfg *config.SharePackConfig) error {
	for _, rc := range cfg.Recipients {
		rec, err := o.store.GetCurrentRecipientByName(ctx, rc.Name)
		if err != nil {
			if errors.Is(err, stores.ErrNotFound) {
				continue
			}
			return NewTransientError("failed to look up recipient record", err).WithResource(rc.Name)
		}

		holders, err := o.store.ListActiveSharesReferencingRecipient(ctx, rc.Name)
		if err != nil {
			return NewTransientError("failed to check recipient usage", err).WithResource(rc.Name)
		}

		external := false
		for _, sh := range holders {
			if sh.SharePackID != pack.SharePackID {
				external = true
				break
			}
		}
		if external {
			o.log.WithField("recipient", rc.Name).
				Info("recipient still granted by another share pack, detaching record only")
		} else {
			if err := o.platform.DeleteRecipient(ctx, rc.Name); err != nil {
				return NewTransientError("failed to delete recipient", err).WithResource(rc.Name)
			}
		}

		if err := o.store.SoftDeleteRecipient(ctx, rec.RecipientID, o.actor, StepTeardown); err != nil {
			return NewTransientError("failed to retire recipient record", err).WithResource(rc.Name)
		}
	}

	return nil
}

// retirePack appends a soft-deleted, completed version of the pack record so
// the name can be reused while history stays queryable.
func (o *Orchestrator) retirePack(ctx context.Context, pack *stores.SharePackRecord) error {
	next := *pack
	next.Status = stores.PackStatusCompleted
	next.ProvisioningStatus = StepCompleted
	next.ErrorMessage = ""
	next.IsDeleted = true
	next.CreatedBy = o.actor
	next.ChangeReason = StepTeardown
	next.EffectiveFrom = time.Now().UTC()

	if _, err := o.store.AppendSharePack(ctx, &next); err != nil {
		return NewTransientError("failed to retire share pack record", err)
	}
	return nil
}
