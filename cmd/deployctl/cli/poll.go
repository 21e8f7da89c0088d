package cli

import (
	"os/signal"
	"syscall"

	"github.com/jmellberg/deployctl/internal/application"
	"github.com/jmellberg/deployctl/internal/infrastructure/config"
	"github.com/jmellberg/deployctl/internal/infrastructure/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var pollCmd = &cobra.Command{
	Use:   "poll <deployment-id>",
	Short: "Poll an existing deployment until it reaches a terminal state",
	Args:  cobra.MatchAll(cobra.ExactArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		poller := application.NewPoller(log, newDeployClient(cfg))
		status, err := poller.Poll(ctx, args[0], cfg.Deploy.Timeout, cfg.Deploy.PollInterval)
		if err != nil {
			log.Fatal("poll", zap.Error(err))
		}

		log.Info("deployment reached terminal state",
			zap.String("deployment", status.DeploymentID),
			zap.String("state", string(status.State)),
		)
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}
