package cli

import (
	"context"
	"errors"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jmellberg/deployctl/internal/application"
	"github.com/jmellberg/deployctl/internal/infrastructure/config"
	"github.com/jmellberg/deployctl/internal/infrastructure/logging"
	"github.com/jmellberg/deployctl/internal/infrastructure/output_fs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run <artifact-path>",
	Short: "Upload an artifact, deploy it, poll to completion, recover on failure",
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

		poller := application.NewPoller(log, client)
		outputs := output_fs.New(cfg.Outputs.Path)
		driver := application.NewDriver(log, client, poller, recovery, outputs, application.DriverConfig{
			EnvironmentAlias:  cfg.Deploy.TargetAlias,
			CommitMessage:     cfg.Deploy.CommitMessage,
			NoBuildAndRestore: cfg.Deploy.NoBuildAndRestore,
			SkipVersionCheck:  cfg.Deploy.SkipVersionCheck,
			MaxDuration:       cfg.Deploy.Timeout,
			PollInterval:      cfg.Deploy.PollInterval,
			RateLimitBase:     cfg.RateLimit.BaseDelay,
			RateLimitAttempts: cfg.RateLimit.MaxAttempts,
		})

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		watchCancelFile(cfg.Deploy.CancelFile, log, cancel)

		log.Info("start",
			zap.String("version", version),
			zap.String("artifact", args[0]),
			zap.String("environment", cfg.Deploy.TargetAlias),
			zap.Duration("poll_every", cfg.Deploy.PollInterval),
			zap.Duration("budget", cfg.Deploy.Timeout),
			zap.String("outputs", cfg.Outputs.Path),
		)

		res, err := driver.Run(ctx, args[0])
		if err != nil {
			if errors.Is(err, application.ErrDeploymentFailed) && res.Recovery != nil && res.Recovery.Review != nil {
				log.Error("deployment failed, recovery review request opened",
					zap.String("deployment", res.DeploymentID),
					zap.String("review_url", res.Recovery.Review.URL),
				)
			}
			log.Fatal("pipeline", zap.Error(err))
		}

		log.Info("pipeline completed",
			zap.String("deployment", res.DeploymentID),
			zap.String("state", string(res.Status.State)),
		)
		if res.ChangeSet != nil {
			log.Info("change-set", zap.String("state", string(res.ChangeSet.State)))
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// watchCancelFile cancels the run when the operator creates or touches the
// configured cancel file. Debounced so editors that write twice do not race
// the cancel.
func watchCancelFile(path string, log *zap.Logger, cancel context.CancelFunc) {
	if path == "" {
		return
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify init failed", zap.Error(err))
		return
	}

	// The watch must be armed before this function returns, or touches that
	// land right after the call can be missed.
	if err := w.Add(dir); err != nil {
		log.Warn("fsnotify add dir failed", zap.String("dir", dir), zap.Error(err))
		_ = w.Close()
		return
	}

	go func() {
		defer func() { _ = w.Close() }()

		var timer *time.Timer
		fire := func() {
			log.Warn("cancel file detected, stopping run", zap.String("path", path))
			cancel()
		}

		// AfterFunc timers have no channel to drain; Stop and Reset is the
		// whole debounce.
		startTimer := func() {
			if timer == nil {
				timer = time.AfterFunc(300*time.Millisecond, fire)
				return
			}
			timer.Stop()
			timer.Reset(300 * time.Millisecond)
		}

		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}

				if filepath.Base(ev.Name) != base {
					continue
				}

				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					startTimer()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()
}
