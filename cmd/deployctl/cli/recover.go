package cli

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/jmellberg/deployctl/internal/domain"
	"github.com/jmellberg/deployctl/internal/infrastructure/config"
	"github.com/jmellberg/deployctl/internal/infrastructure/logging"
	"github.com/jmellberg/deployctl/internal/infrastructure/output_fs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var recoverCmd = &cobra.Command{
	Use:   "recover <deployment-id>",
	Short: "Run the failure-recovery pipeline for a failed deployment",
	Args:  cobra.MatchAll(cobra.ExactArgs(1)),
	Run: func(cmd *cobra.Command, args []string) {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}

		client := newDeployClient(cfg)
		recovery, err := newRecovery(log, cfg, client)
		if err != nil {
			log.Fatal("recovery setup", zap.Error(err))
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		res, err := recovery.Run(ctx, args[0])

		outputs := output_fs.New(cfg.Outputs.Path)
		o := domain.Outputs{
			DeploymentID: args[0],
			State:        domain.StateFailed,
			Retrieved:    time.Now().Unix(),
		}
		if res != nil {
			o.RecoveryBranch = res.Branch
			if res.Review != nil {
				o.ReviewURL = res.Review.URL
				o.ReviewNumber = res.Review.Number
			}
		}
		if werr := outputs.Write(ctx, o); werr != nil {
			log.Warn("writing outputs failed", zap.Error(werr))
		}

		if err != nil {
			log.Fatal("recovery", zap.Error(err))
		}

		if res.Skipped != "" {
			log.Info("recovery skipped", zap.String("reason", res.Skipped))
			return
		}
		log.Info("recovery review request opened",
			zap.String("branch", res.Branch),
			zap.String("url", res.Review.URL),
			zap.Int("number", res.Review.Number),
		)
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}
