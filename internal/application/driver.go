package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmellberg/deployctl/internal/domain"
	"go.uber.org/zap"
)

// ErrDeploymentFailed is returned by the driver when the deployment reached
// the Failed state, regardless of how the recovery attempt went.
var ErrDeploymentFailed = errors.New("deployment failed")

type DriverConfig struct {
	EnvironmentAlias  string
	CommitMessage     string
	NoBuildAndRestore bool
	SkipVersionCheck  bool
	MaxDuration       time.Duration
	PollInterval      time.Duration
	RateLimitBase     time.Duration
	RateLimitAttempts int
}

// Driver sequences one pipeline run: upload the artifact, start the
// deployment, poll it to a terminal state, then either surface the
// change-set or attempt recovery.
type Driver struct {
	log      *zap.Logger
	client   domain.DeployClient
	poller   *Poller
	recovery *Recovery
	outputs  domain.OutputSink
	cfg      DriverConfig
}

type RunResult struct {
	ArtifactID   string
	DeploymentID string
	Status       domain.DeploymentStatus
	ChangeSet    *domain.ChangeSet
	Recovery     *Result
}

func NewDriver(log *zap.Logger, client domain.DeployClient, poller *Poller, recovery *Recovery, outputs domain.OutputSink, cfg DriverConfig) *Driver {
	if cfg.RateLimitBase <= 0 {
		cfg.RateLimitBase = 2 * time.Second
	}
	if cfg.RateLimitAttempts <= 0 {
		cfg.RateLimitAttempts = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 45 * time.Minute
	}
	return &Driver{log: log, client: client, poller: poller, recovery: recovery, outputs: outputs, cfg: cfg}
}

// Run executes the whole pipeline for one artifact. Each stage's identifier
// feeds the next; a stage that yields no identifier is fatal immediately.
func (d *Driver) Run(ctx context.Context, artifactPath string) (*RunResult, error) {
	out := &RunResult{}
	defer d.writeOutputs(ctx, out)

	artifactID, err := WithRateLimitRetry(ctx, d.log, d.cfg.RateLimitBase, d.cfg.RateLimitAttempts,
		func(ctx context.Context) (string, error) {
			return d.client.UploadArtifact(ctx, artifactPath)
		})
	if err != nil {
		return out, fmt.Errorf("upload artifact: %w", err)
	}
	if artifactID == "" {
		return out, errors.New("upload artifact: service returned no artifact identifier")
	}
	out.ArtifactID = artifactID
	d.log.Info("artifact uploaded", zap.String("artifact", artifactID))

	deploymentID, err := d.startDeployment(ctx, artifactID)
	if err != nil {
		return out, fmt.Errorf("start deployment: %w", err)
	}
	if deploymentID == "" {
		return out, errors.New("start deployment: service returned no deployment identifier")
	}
	out.DeploymentID = deploymentID
	d.log.Info("deployment started",
		zap.String("deployment", deploymentID),
		zap.String("environment", d.cfg.EnvironmentAlias),
	)

	status, err := d.poller.Poll(ctx, deploymentID, d.cfg.MaxDuration, d.cfg.PollInterval)
	out.Status = status
	if err != nil {
		return out, err
	}

	switch status.State {
	case domain.StateCompleted:
		cs, err := d.client.GetChanges(ctx, deploymentID, d.cfg.EnvironmentAlias)
		if err != nil {
			d.log.Warn("deployment completed but fetching its change-set failed",
				zap.String("deployment", deploymentID), zap.Error(err))
		} else {
			out.ChangeSet = &cs
		}
		d.log.Info("deployment completed", zap.String("deployment", deploymentID))
		return out, nil

	case domain.StateFailed:
		rec, recErr := d.recovery.Run(ctx, deploymentID)
		out.Recovery = rec
		if recErr != nil {
			d.log.Warn("recovery attempt failed",
				zap.String("deployment", deploymentID), zap.Error(recErr))
		}
		return out, fmt.Errorf("deployment %s: %w", deploymentID, ErrDeploymentFailed)

	default:
		return out, fmt.Errorf("deployment %s ended polling in non-terminal state %s", deploymentID, status.State)
	}
}

// startDeployment wraps the start call with both resilience layers: alias
// canonicalization on an unresolved environment alias, and rate-limit backoff
// around each attempt.
func (d *Driver) startDeployment(ctx context.Context, artifactID string) (string, error) {
	start := func(alias string) func(context.Context) (string, error) {
		req := domain.DeploymentRequest{
			TargetEnvironmentAlias: alias,
			ArtifactID:             artifactID,
			CommitMessage:          d.cfg.CommitMessage,
			NoBuildAndRestore:      d.cfg.NoBuildAndRestore,
			SkipVersionCheck:       d.cfg.SkipVersionCheck,
		}
		return func(ctx context.Context) (string, error) {
			return WithRateLimitRetry(ctx, d.log, d.cfg.RateLimitBase, d.cfg.RateLimitAttempts,
				func(ctx context.Context) (string, error) {
					return d.client.StartDeployment(ctx, req)
				})
		}
	}

	return WithAliasFallback(ctx, d.log, d.cfg.EnvironmentAlias,
		start(d.cfg.EnvironmentAlias),
		func(ctx context.Context, canonical string) (string, error) {
			return start(canonical)(ctx)
		})
}

func (d *Driver) writeOutputs(ctx context.Context, res *RunResult) {
	if d.outputs == nil {
		return
	}
	o := domain.Outputs{
		DeploymentID: res.DeploymentID,
		State:        res.Status.State,
		Retrieved:    time.Now().Unix(),
	}
	if o.State == "" {
		o.State = domain.StateUnknown
	}
	if res.ChangeSet != nil {
		o.ChangeSetState = res.ChangeSet.State
	}
	if res.Recovery != nil {
		o.RecoveryBranch = res.Recovery.Branch
		if res.Recovery.Review != nil {
			o.ReviewURL = res.Recovery.Review.URL
			o.ReviewNumber = res.Recovery.Review.Number
		}
	}
	if err := d.outputs.Write(ctx, o); err != nil {
		d.log.Warn("writing outputs failed", zap.Error(err))
	}
}
