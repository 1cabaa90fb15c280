package commands

import (
	"context"
	"errors"

	"github.com/openshare/openshare/pkg/engine"
	"github.com/openshare/openshare/pkg/queue"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the provisioning worker",
		Long: `Run the provisioning worker: poll the queue for submitted share
packs and apply them. Also exposes Prometheus metrics and a liveness endpoint
when metrics are enabled.

The worker applies each pack idempotently, so it is safe to run multiple
workers against the same queue; the lease mechanism prevents two workers from
processing one message concurrently.`,
		Example: `  # Run the worker with the default configuration
  sharectl serve

  # Run against a specific configuration
  sharectl serve -c /etc/openshare/sharectl.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.metrics.StartMetricsServer(); err != nil {
				return err
			}

			orchestrator := engine.NewOrchestrator(rt.store, rt.platform, rt.log, rt.metrics)
			consumer := queue.NewConsumer(rt.queue, orchestrator, rt.log, rt.metrics, queue.ConsumerOptions{
				Lease:        rt.cfg.Queue.Lease,
				MaxRetries:   rt.cfg.Queue.MaxRetries,
				PollInterval: rt.cfg.Queue.PollInterval,
			})

			err = consumer.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	return cmd
}
