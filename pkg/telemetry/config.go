package telemetry

import (
	"fmt"
)

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string

	// Format specifies the log format (console, json).
	Format string

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool

	// TimeFormat specifies the timestamp format (unix, rfc3339).
	TimeFormat string
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// ListenAddress is the address for the metrics HTTP endpoint.
	ListenAddress string

	// Path is the HTTP path for metrics (default: /metrics).
	Path string

	// Namespace is the metrics namespace prefix.
	Namespace string

	// DefaultHistogramBuckets are the default latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// DefaultLoggingConfig returns the logging defaults used when no
// configuration file overrides them.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "rfc3339",
	}
}

// DefaultMetricsConfig returns the metrics defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:       true,
		ListenAddress: ":9090",
		Path:          "/metrics",
		Namespace:     "openshare",
		DefaultHistogramBuckets: []float64{
			0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0,
		},
	}
}

// Validate checks if the logging configuration is valid.
func (c LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Level] {
		return fmt.Errorf("invalid log level: %s", c.Level)
	}

	if c.Format != "console" && c.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Format)
	}

	return nil
}

// Validate checks if the metrics configuration is valid.
func (c MetricsConfig) Validate() error {
	if c.Enabled && c.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}
	return nil
}
