package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/openshare/openshare/pkg/stores"
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <share-pack-id>",
		Short: "Show the provisioning status of a share pack",
		Long: `Show the current status of a submitted share pack: the overall
outcome (IN_PROGRESS, COMPLETED, FAILED), the provisioning step reached, and
the error message when the run failed.`,
		Example: `  sharectl status 2f4f0f6e-9a4e-4c1e-8f3a-1b2c3d4e5f6a`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			status, err := rt.store.GetSharePackStatus(cmd.Context(), args[0])
			if errors.Is(err, stores.ErrNotFound) {
				return fmt.Errorf("share pack %s not found", args[0])
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			fmt.Printf("share pack:   %s (%s)\n", status.SharePackName, status.SharePackID)
			fmt.Printf("strategy:     %s\n", status.Strategy)
			fmt.Printf("status:       %s\n", status.Status)
			fmt.Printf("step:         %s\n", status.ProvisioningStatus)
			if status.ErrorMessage != "" {
				fmt.Printf("error:        %s\n", status.ErrorMessage)
			}
			fmt.Printf("requested by: %s\n", status.RequestedBy)
			fmt.Printf("created:      %s\n", status.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Printf("last updated: %s\n", status.LastUpdated.Format("2006-01-02 15:04:05 MST"))

			return nil
		},
	}

	return cmd
}
