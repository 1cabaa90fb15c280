package engine

import "context"

// RemoteRecipient is a recipient as it exists on the sharing platform.
type RemoteRecipient struct {
	ID                 string
	Name               string
	Type               string
	SharingIdentifier  string
	Description        string
	IPAccessList       []string
	TokenExpirySeconds int64
}

// RemoteShare is a share as it exists on the sharing platform.
type RemoteShare struct {
	ID         string
	Name       string
	Assets     []string
	Recipients []string
}

// RemotePipeline is a pipeline and its schedule as they exist on the
// sharing platform.
type RemotePipeline struct {
	ID            string
	JobID         string
	ShareName     string
	Name          string
	SourceTable   string
	SCDType       string
	KeyColumns    []string
	Cron          string
	Timezone      string
	Continuous    bool
	Notifications []string
}

// PlatformClient performs the remote create/update/delete of recipients,
// shares, pipelines, and schedules on the external sharing platform, and
// exposes the read operations used for reconciliation. Get operations
// return (nil, nil) when the named resource does not exist remotely.
//
// The engine calls this interface; implementing the remote protocol is out
// of scope for this repository.
type PlatformClient interface {
	GetRecipient(ctx context.Context, name string) (*RemoteRecipient, error)
	CreateRecipient(ctx context.Context, r *RemoteRecipient) (string, error)
	UpdateRecipient(ctx context.Context, r *RemoteRecipient) error
	DeleteRecipient(ctx context.Context, name string) error

	GetShare(ctx context.Context, name string) (*RemoteShare, error)
	CreateShare(ctx context.Context, s *RemoteShare) (string, error)
	UpdateShareAssets(ctx context.Context, name string, add, remove []string) error
	UpdateShareRecipients(ctx context.Context, name string, add, remove []string) error
	DeleteShare(ctx context.Context, name string) error

	GetPipeline(ctx context.Context, shareName, name string) (*RemotePipeline, error)
	CreatePipeline(ctx context.Context, p *RemotePipeline) (pipelineID, jobID string, err error)
	UpdatePipeline(ctx context.Context, p *RemotePipeline) error
	DeletePipeline(ctx context.Context, pipelineID string) error
	DeleteSchedule(ctx context.Context, jobID string) error
}
