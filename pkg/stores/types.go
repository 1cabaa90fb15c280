package stores

import (
	"context"
	"time"
)

// PackStatus represents the lifecycle status of a share pack.
type PackStatus string

const (
	PackStatusInProgress PackStatus = "IN_PROGRESS"
	PackStatusCompleted  PackStatus = "COMPLETED"
	PackStatusFailed     PackStatus = "FAILED"
)

// IsTerminal returns true if the status represents a final state.
func (s PackStatus) IsTerminal() bool {
	return s == PackStatusCompleted || s == PackStatusFailed
}

// VersionMeta carries the SCD2 bookkeeping columns shared by every
// mutable entity. EffectiveTo is nil on the current row.
type VersionMeta struct {
	RecordID      string     `json:"record_id"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	IsCurrent     bool       `json:"is_current"`
	IsDeleted     bool       `json:"is_deleted"`
	Version       int        `json:"version"`
	CreatedBy     string     `json:"created_by"`
	ChangeReason  string     `json:"change_reason"`
}

// TenantRecord represents one version of a tenant (business line).
type TenantRecord struct {
	VersionMeta
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

// ProjectRecord represents one version of a project within a tenant.
type ProjectRecord struct {
	VersionMeta
	ProjectID string `json:"project_id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
}

// SharePackRecord represents one version of a submitted share pack.
// Config holds the full parsed configuration as a JSON document.
type SharePackRecord struct {
	VersionMeta
	SharePackID        string     `json:"share_pack_id"`
	ProjectID          string     `json:"project_id"`
	Name               string     `json:"name"`
	Config             string     `json:"config"`
	Strategy           string     `json:"strategy"`
	Status             PackStatus `json:"status"`
	ProvisioningStatus string     `json:"provisioning_status"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	RequestedBy        string     `json:"requested_by"`
}

// RecipientRecord represents one version of a provisioned recipient.
// Name is process-wide unique across share packs.
type RecipientRecord struct {
	VersionMeta
	RecipientID        string   `json:"recipient_id"`
	SharePackID        string   `json:"share_pack_id"`
	Name               string   `json:"name"`
	Type               string   `json:"type"` // databricks | token
	SharingIdentifier  string   `json:"sharing_identifier,omitempty"`
	Description        string   `json:"description,omitempty"`
	IPAccessList       []string `json:"ip_access_list,omitempty"`
	TokenExpirySeconds int64    `json:"token_expiry_seconds,omitempty"`
	RemoteID           string   `json:"remote_id,omitempty"`
}

// ShareRecord represents one version of a provisioned share.
type ShareRecord struct {
	VersionMeta
	ShareID       string   `json:"share_id"`
	SharePackID   string   `json:"share_pack_id"`
	Name          string   `json:"name"`
	Assets        []string `json:"assets"`
	Recipients    []string `json:"recipients"`
	TargetCatalog string   `json:"target_catalog,omitempty"`
	TargetSchema  string   `json:"target_schema,omitempty"`
	RemoteID      string   `json:"remote_id,omitempty"`
}

// PipelineRecord represents one version of a data-movement pipeline.
// SourceTable and SCDType are immutable identity once created.
type PipelineRecord struct {
	VersionMeta
	PipelineID       string   `json:"pipeline_id"`
	SharePackID      string   `json:"share_pack_id"`
	ShareName        string   `json:"share_name"`
	Name             string   `json:"name"`
	SourceTable      string   `json:"source_table"`
	KeyColumns       []string `json:"key_columns,omitempty"`
	SCDType          string   `json:"scd_type"`
	ScheduleCron     string   `json:"schedule_cron,omitempty"`
	ScheduleTimezone string   `json:"schedule_timezone,omitempty"`
	Continuous       bool     `json:"continuous"`
	Notifications    []string `json:"notifications,omitempty"`
	RemotePipelineID string   `json:"remote_pipeline_id,omitempty"`
	RemoteJobID      string   `json:"remote_job_id,omitempty"`
}

// SyncJob is an append-only record of one provisioning attempt.
type SyncJob struct {
	ID          int64      `json:"id"`
	SharePackID string     `json:"share_pack_id"`
	JobType     string     `json:"job_type"`
	Status      string     `json:"status"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// JobMetric is an append-only per-step execution measurement.
type JobMetric struct {
	ID         int64     `json:"id"`
	SyncJobID  int64     `json:"sync_job_id"`
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ProjectCost is an append-only cost attribution record.
type ProjectCost struct {
	ID         int64     `json:"id"`
	ProjectID  string    `json:"project_id"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	Details    *string   `json:"details,omitempty"`
	IncurredAt time.Time `json:"incurred_at"`
}

// Notification is an append-only outbound notification record.
type Notification struct {
	ID          int64     `json:"id"`
	SharePackID string    `json:"share_pack_id"`
	Channel     string    `json:"channel"`
	Recipient   string    `json:"recipient"`
	Message     string    `json:"message"`
	SentAt      time.Time `json:"sent_at"`
}

// AuditEntry is an append-only audit trail record of a state change.
type AuditEntry struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	Details    *string   `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SharePackStatus is the status query result consumed by the transport layer.
type SharePackStatus struct {
	SharePackID        string     `json:"share_pack_id"`
	SharePackName      string     `json:"share_pack_name"`
	Status             PackStatus `json:"status"`
	Strategy           string     `json:"strategy"`
	ProvisioningStatus string     `json:"provisioning_status"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	RequestedBy        string     `json:"requested_by"`
	CreatedAt          time.Time  `json:"created_at"`
	LastUpdated        time.Time  `json:"last_updated"`
}

// Store defines the interface for the versioned persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Tenant / project bootstrap
	EnsureTenant(ctx context.Context, name, actor string) (*TenantRecord, error)
	EnsureProject(ctx context.Context, tenantID, name, actor string) (*ProjectRecord, error)

	// SharePack versions
	AppendSharePack(ctx context.Context, rec *SharePackRecord) (*SharePackRecord, error)
	GetCurrentSharePack(ctx context.Context, sharePackID string) (*SharePackRecord, error)
	GetCurrentSharePackByName(ctx context.Context, name string) (*SharePackRecord, error)
	UpdateSharePackStatus(ctx context.Context, sharePackID string, status PackStatus, provisioningStatus, errMsg, actor string) (*SharePackRecord, error)
	GetSharePackStatus(ctx context.Context, sharePackID string) (*SharePackStatus, error)

	// Recipient versions (name is process-wide unique)
	AppendRecipient(ctx context.Context, rec *RecipientRecord) (*RecipientRecord, error)
	GetCurrentRecipientByName(ctx context.Context, name string) (*RecipientRecord, error)
	SoftDeleteRecipient(ctx context.Context, recipientID, actor, reason string) error

	// Share versions
	AppendShare(ctx context.Context, rec *ShareRecord) (*ShareRecord, error)
	GetCurrentShareByName(ctx context.Context, name string) (*ShareRecord, error)
	ListCurrentSharesBySharePack(ctx context.Context, sharePackID string) ([]*ShareRecord, error)
	ListActiveSharesDeclaringAsset(ctx context.Context, asset string) ([]*ShareRecord, error)
	ListActiveSharesReferencingRecipient(ctx context.Context, recipientName string) ([]*ShareRecord, error)
	SoftDeleteShare(ctx context.Context, shareID, actor, reason string) error

	// Pipeline versions
	AppendPipeline(ctx context.Context, rec *PipelineRecord) (*PipelineRecord, error)
	GetCurrentPipeline(ctx context.Context, shareName, name string) (*PipelineRecord, error)
	ListCurrentPipelinesByShare(ctx context.Context, shareName string) ([]*PipelineRecord, error)
	ListCurrentPipelinesBySharePack(ctx context.Context, sharePackID string) ([]*PipelineRecord, error)
	SoftDeletePipeline(ctx context.Context, pipelineID, actor, reason string) error

	// Event logs
	CreateSyncJob(ctx context.Context, job *SyncJob) error
	FinishSyncJob(ctx context.Context, id int64, status string, errMsg *string) error
	AppendJobMetric(ctx context.Context, metric *JobMetric) error
	AppendProjectCost(ctx context.Context, cost *ProjectCost) error
	AppendNotification(ctx context.Context, n *Notification) error
	AppendAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, entityType, entityID *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
