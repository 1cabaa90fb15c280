package config

// Strategy is the declared or resolved provisioning strategy for a share pack.
type Strategy string

const (
	// StrategyProvision is the create-or-update default. Detection resolves
	// it to create-new or reconcile based on remote state.
	StrategyProvision Strategy = "provision"

	// StrategyCreateNew creates resources that must not already exist.
	StrategyCreateNew Strategy = "create-new"

	// StrategyReconcile creates missing resources and updates existing ones.
	StrategyReconcile Strategy = "reconcile"

	// StrategyDelete tears down the pack's resources. Never inferred; it must
	// be declared explicitly by the caller.
	StrategyDelete Strategy = "delete"
)

// Validate checks if the strategy is one of the known values.
func (s Strategy) Validate() bool {
	switch s {
	case StrategyProvision, StrategyCreateNew, StrategyReconcile, StrategyDelete:
		return true
	default:
		return false
	}
}

// Recipient types. The two shapes are mutually exclusive: a databricks
// recipient is identified by its sharing identifier, a token recipient by a
// generated activation token.
const (
	RecipientTypeDatabricks = "databricks"
	RecipientTypeToken      = "token"
)

// Pipeline change-tracking modes.
const (
	SCDTypeAppend = "append"
	SCDType1      = "scd1"
	SCDType2      = "scd2"
)

// SharePackConfig is one submitted configuration document describing the
// recipients, shares, and pipelines to provision.
type SharePackConfig struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	Tenant   string `json:"tenant,omitempty" yaml:"tenant,omitempty"`
	Project  string `json:"project,omitempty" yaml:"project,omitempty"`
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`

	Recipients []RecipientConfig `json:"recipients" yaml:"recipients" validate:"dive"`
	Shares     []ShareConfig     `json:"shares" yaml:"shares" validate:"dive"`
	Pipelines  []PipelineConfig  `json:"pipelines" yaml:"pipelines" validate:"dive"`
}

// RecipientConfig declares one external consumer of shared data.
type RecipientConfig struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	Type string `json:"type" yaml:"type" validate:"required,oneof=databricks token"`

	// SharingIdentifier identifies a databricks recipient's metastore.
	// Required for databricks recipients, forbidden for token recipients.
	SharingIdentifier string `json:"sharing_identifier,omitempty" yaml:"sharing_identifier,omitempty"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// IPAccessList restricts token-based access to the listed CIDR blocks.
	IPAccessList []string `json:"ip_access_list,omitempty" yaml:"ip_access_list,omitempty" validate:"dive,cidr"`

	// TokenExpirySeconds is the token rotation policy for token recipients.
	// Zero means no expiry.
	TokenExpirySeconds int64 `json:"token_expiry_seconds,omitempty" yaml:"token_expiry_seconds,omitempty" validate:"gte=0"`
}

// ShareConfig declares one named bundle of data assets and the recipients
// allowed to access them.
type ShareConfig struct {
	Name string `json:"name" yaml:"name" validate:"required"`

	// Assets are fully qualified source tables (catalog.schema.table).
	Assets []string `json:"assets" yaml:"assets" validate:"min=1,dive,required"`

	// Recipients are names declared in the pack's recipient list.
	Recipients []string `json:"recipients" yaml:"recipients" validate:"dive,required"`

	TargetCatalog string `json:"target_catalog,omitempty" yaml:"target_catalog,omitempty"`
	TargetSchema  string `json:"target_schema,omitempty" yaml:"target_schema,omitempty"`
}

// PipelineConfig declares one data-movement unit owned by a share,
// processing exactly one declared asset.
type PipelineConfig struct {
	Name  string `json:"name" yaml:"name" validate:"required"`
	Share string `json:"share" yaml:"share" validate:"required"`

	// SourceTable is immutable identity once the pipeline is created.
	SourceTable string `json:"source_table" yaml:"source_table" validate:"required"`

	KeyColumns []string `json:"key_columns,omitempty" yaml:"key_columns,omitempty"`

	// SCDType is immutable identity once the pipeline is created.
	SCDType string `json:"scd_type" yaml:"scd_type" validate:"required,oneof=append scd1 scd2"`

	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`

	// Notifications are email addresses notified on pipeline outcomes.
	Notifications []string `json:"notifications,omitempty" yaml:"notifications,omitempty" validate:"dive,email"`
}

// ScheduleConfig describes when a pipeline runs: either a cron expression
// with a timezone, or continuous processing.
type ScheduleConfig struct {
	Cron       string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Timezone   string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Continuous bool   `json:"continuous,omitempty" yaml:"continuous,omitempty"`
}
