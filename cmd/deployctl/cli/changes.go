package cli

import (
	"fmt"
	"os"

	"github.com/jmellberg/deployctl/internal/domain"
	"github.com/jmellberg/deployctl/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var changesCmd = &cobra.Command{
	Use:   "changes <deployment-id>",
	Short: "Fetch and print a deployment's change-set",
	Args:  cobra.MatchAll(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		client := newDeployClient(cfg)
		cs, err := client.GetChanges(cmd.Context(), args[0], cfg.Deploy.TargetAlias)
		if err != nil {
			return err
		}

		switch cs.State {
		case domain.ChangeSetAbsent:
			_, _ = fmt.Fprintf(os.Stderr, "deployment %s has no change-set content\n", args[0])
		case domain.ChangeSetEmpty:
			_, _ = fmt.Fprintf(os.Stderr, "deployment %s has an empty change-set\n", args[0])
		default:
			fmt.Print(cs.Diff)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(changesCmd)
}
