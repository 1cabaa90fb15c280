package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"

	"github.com/openshare/openshare/pkg/config"
	"github.com/openshare/openshare/pkg/engine"
	"github.com/spf13/cobra"
)

func newSubmitCommand() *cobra.Command {
	var requestedBy string

	cmd := &cobra.Command{
		Use:   "submit <share-pack.yaml>",
		Short: "Submit a share pack for provisioning",
		Long: `Submit a share pack configuration for asynchronous provisioning.

The pack is validated synchronously; validation failures are reported
immediately and nothing is queued. A valid pack is recorded in the state
store with status IN_PROGRESS and enqueued for the provisioning worker.
Track progress with "sharectl status <share-pack-id>".`,
		Example: `  # Submit a share pack
  sharectl submit ./packs/analytics.yaml

  # Submit on behalf of a service account
  sharectl submit --requested-by etl-bot ./packs/analytics.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			packCfg, err := config.LoadSharePackConfig(args[0])
			if err != nil {
				return err
			}

			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if requestedBy == "" {
				requestedBy = currentUser()
			}

			detector := engine.NewDetector(rt.platform, rt.log)
			submitter := engine.NewSubmitter(rt.store, rt.queue, detector, rt.log, rt.metrics)

			result, err := submitter.Submit(cmd.Context(), packCfg, requestedBy)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				printResult(result)
			}

			if len(result.ValidationErrors) > 0 {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&requestedBy, "requested-by", "", "submitter recorded on the share pack (default: current user)")

	return cmd
}

func printResult(result *engine.UploadResult) {
	if len(result.ValidationErrors) > 0 {
		fmt.Printf("%s\n", result.Message)
		for _, e := range result.ValidationErrors {
			fmt.Printf("  - %s\n", e)
		}
		return
	}

	fmt.Printf("%s\n", result.Message)
	fmt.Printf("  share pack: %s (%s)\n", result.SharePackName, result.SharePackID)
	fmt.Printf("  status:     %s\n", result.Status)
	for _, w := range result.ValidationWarnings {
		fmt.Printf("  warning:    %s\n", w)
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
