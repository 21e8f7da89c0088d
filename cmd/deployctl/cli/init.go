package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/jmellberg/deployctl/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !initForce {
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
		}

		var c config.Config
		c.API.BaseURL = "https://deploy.example.com"
		c.API.Key = ""
		c.API.ProjectID = ""
		c.API.Timeout = 30 * time.Second
		c.Deploy.TargetAlias = "staging"
		c.Deploy.CommitMessage = "Deploy via deployctl"
		c.Deploy.PollInterval = 15 * time.Second
		c.Deploy.Timeout = 45 * time.Minute
		c.Source.APIURL = "https://api.github.com"
		c.Source.BaseBranch = "main"
		c.Recovery.BranchNamespace = "deploy-recovery"
		c.Recovery.PageLimit = 5
		c.Recovery.PageSize = 20
		c.Recovery.RetentionDays = 7
		c.Recovery.ArtifactLabel = "patch-rejects"
		c.RateLimit.BaseDelay = 2 * time.Second
		c.RateLimit.MaxAttempts = 5

		if err := config.Save(cfgPath, c); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", cfgPath)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config")

	rootCmd.AddCommand(initCmd)
}
