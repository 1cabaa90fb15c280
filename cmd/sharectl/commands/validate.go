package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/openshare/openshare/pkg/config"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <share-pack.yaml>",
		Short: "Validate a share pack configuration file",
		Long: `Validate a share pack configuration file without submitting it.

This command checks:
  - YAML syntax validity
  - Field constraints (types, CIDR blocks, email addresses, cron expressions)
  - Duplicate recipient, share, and pipeline names
  - Cross-references: share recipients, pipeline shares and source tables`,
		Example: `  # Validate a share pack file
  sharectl validate ./packs/analytics.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSharePackConfig(args[0])
			if err != nil {
				return err
			}

			problems := config.Validate(cfg)

			if jsonOutput {
				out := map[string]interface{}{
					"valid":  len(problems) == 0,
					"errors": problems,
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			} else if len(problems) == 0 {
				fmt.Printf("%s is valid\n", args[0])
			} else {
				fmt.Printf("%s has %d problem(s):\n", args[0], len(problems))
				for _, p := range problems {
					fmt.Printf("  - %s\n", p)
				}
			}

			if len(problems) > 0 {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}

	return cmd
}
