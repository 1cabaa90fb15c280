package engine

import (
	"time"

	"github.com/openshare/openshare/pkg/config"
	"github.com/openshare/openshare/pkg/stores"
)

// ProvisionMessage is the work item carried by the queue. The full
// configuration is not duplicated into the message; the consumer re-reads
// the current share pack record by SharePackID.
type ProvisionMessage struct {
	SharePackID      string          `json:"share_pack_id"`
	ResolvedStrategy config.Strategy `json:"resolved_strategy"`
	EnqueuedAt       time.Time       `json:"enqueued_at"`
}

// UploadResult is produced for the transport layer at submission time,
// before queuing.
type UploadResult struct {
	Message            string            `json:"message"`
	SharePackID        string            `json:"share_pack_id,omitempty"`
	SharePackName      string            `json:"share_pack_name"`
	Status             stores.PackStatus `json:"status,omitempty"`
	ValidationErrors   []string          `json:"validation_errors,omitempty"`
	ValidationWarnings []string          `json:"validation_warnings,omitempty"`
}

// DetectionResult is the outcome of strategy detection.
type DetectionResult struct {
	Strategy config.Strategy `json:"strategy"`
	Warnings []string        `json:"warnings,omitempty"`
}

// Orchestration step names, persisted to the share pack's
// provisioning_status before each step runs.
const (
	StepQueued           = "queued"
	StepInitialize       = "initialize"
	StepEnsureRecipients = "ensure_recipients"
	StepEnsureShares     = "ensure_shares"
	StepEnsurePipelines  = "ensure_pipelines"
	StepPersist          = "persist"
	StepCleanupOrphans   = "cleanup_orphans"
	StepTeardown         = "teardown"
	StepFinalize         = "finalize"
	StepCompleted        = "completed"
)
