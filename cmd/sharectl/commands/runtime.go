package commands

import (
	"context"
	"fmt"

	"github.com/openshare/openshare/pkg/config"
	"github.com/openshare/openshare/pkg/engine"
	"github.com/openshare/openshare/pkg/queue"
	"github.com/openshare/openshare/pkg/stores"
	"github.com/openshare/openshare/pkg/telemetry"
)

// runtime bundles the wired components shared by the commands that need the
// store, queue, and platform client.
type runtime struct {
	cfg      *config.AppConfig
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
	store    *stores.SQLiteStore
	queue    queue.Queue
	platform engine.PlatformClient
}

// newRuntime loads the application configuration and initializes the store,
// queue, and platform client.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		return nil, err
	}

	log, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: "rfc3339",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	mcfg := telemetry.DefaultMetricsConfig()
	mcfg.Enabled = cfg.Metrics.Enabled
	if cfg.Metrics.Listen != "" {
		mcfg.ListenAddress = cfg.Metrics.Listen
	}
	metrics, err := telemetry.NewMetrics(mcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close() //nolint:errcheck
		return nil, err
	}

	q, err := buildQueue(ctx, cfg)
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, err
	}

	platform, err := buildPlatform(cfg)
	if err != nil {
		store.Close() //nolint:errcheck
		q.Close()     //nolint:errcheck
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		store:    store,
		queue:    q,
		platform: platform,
	}, nil
}

func buildQueue(ctx context.Context, cfg *config.AppConfig) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case "sqlite", "":
		q, err := queue.NewSQLiteQueue(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		if err := q.Init(ctx); err != nil {
			return nil, err
		}
		return q, nil
	case "sqs":
		return queue.NewSQSQueue(ctx, cfg.Queue.QueueURL, cfg.Queue.Region)
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.Queue.Backend)
	}
}

func buildPlatform(cfg *config.AppConfig) (engine.PlatformClient, error) {
	switch cfg.Platform.Kind {
	case "memory", "":
		return engine.NewMemoryPlatform(), nil
	default:
		return nil, fmt.Errorf("unsupported platform kind: %s", cfg.Platform.Kind)
	}
}

// Close releases the runtime's resources.
func (r *runtime) Close() {
	if r.queue != nil {
		r.queue.Close() //nolint:errcheck
	}
	if r.store != nil {
		r.store.Close() //nolint:errcheck
	}
}
