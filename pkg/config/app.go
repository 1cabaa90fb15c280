package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the sharectl application configuration, loaded from a YAML
// file (sharectl.yaml by default).
type AppConfig struct {
	Store    StoreConfig    `yaml:"store"`
	Queue    QueueConfig    `yaml:"queue"`
	Platform PlatformConfig `yaml:"platform"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig configures the versioned store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig configures the provisioning work queue.
type QueueConfig struct {
	// Backend selects the queue implementation: sqlite or sqs.
	Backend string `yaml:"backend"`

	// QueueURL and Region configure the SQS backend.
	QueueURL string `yaml:"queue_url,omitempty"`
	Region   string `yaml:"region,omitempty"`

	// Lease is the visibility timeout for leased messages.
	Lease time.Duration `yaml:"lease"`

	// MaxRetries is how many redeliveries a retryable failure is allowed
	// before the share pack is marked permanently FAILED.
	MaxRetries int `yaml:"max_retries"`

	// PollInterval is how long the consumer waits between empty receives.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// PlatformConfig selects the sharing platform client wiring.
type PlatformConfig struct {
	// Kind selects the platform client: memory for local development.
	Kind string `yaml:"kind"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// DefaultAppConfig returns the configuration defaults used when no file or
// field is provided.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Store: StoreConfig{Path: "sharectl.db"},
		Queue: QueueConfig{
			Backend:      "sqlite",
			Lease:        5 * time.Minute,
			MaxRetries:   1,
			PollInterval: 2 * time.Second,
		},
		Platform: PlatformConfig{Kind: "memory"},
		Metrics:  MetricsConfig{Enabled: true, Listen: ":9090"},
		Logging:  LoggingConfig{Level: "info", Format: "console", Output: "stderr"},
	}
}

// LoadSharePackConfig reads one share pack configuration document from a
// YAML file.
func LoadSharePackConfig(path string) (*SharePackConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read share pack file: %w", err)
	}

	var cfg SharePackConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse share pack file: %w", err)
	}
	return &cfg, nil
}

// LoadAppConfig reads the application configuration from path, applying
// defaults for every unset field. An empty path returns the defaults.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Queue.Lease <= 0 {
		cfg.Queue.Lease = 5 * time.Minute
	}
	if cfg.Queue.PollInterval <= 0 {
		cfg.Queue.PollInterval = 2 * time.Second
	}
	if cfg.Queue.MaxRetries < 0 {
		cfg.Queue.MaxRetries = 0
	}

	return &cfg, nil
}
