package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jmellberg/deployctl/internal/domain"
	"github.com/jmellberg/deployctl/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var (
	listTake      int
	listSkip      int
	listOnlyState string
	listJSON      bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent deployments, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		client := newDeployClient(cfg)
		all, err := client.ListDeployments(cmd.Context(), listSkip, listTake)
		if err != nil {
			return err
		}

		items := make([]domain.DeploymentSummary, 0, len(all))
		for _, d := range all {
			if listOnlyState != "" && string(d.State) != listOnlyState {
				continue
			}
			items = append(items, d)
		}

		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tSTATE\tCREATED\tMODIFIED")
		for _, d := range items {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				d.ID, d.State,
				d.Created.Format(time.RFC3339),
				d.Modified.Format(time.RFC3339),
			)
		}
		_ = w.Flush()
		return nil
	},
}

func init() {
	listCmd.Flags().IntVar(&listTake, "take", 20, "number of deployments to fetch")
	listCmd.Flags().IntVar(&listSkip, "skip", 0, "number of deployments to skip")
	listCmd.Flags().StringVar(&listOnlyState, "state", "", "show only deployments in this state")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")

	rootCmd.AddCommand(listCmd)
}
