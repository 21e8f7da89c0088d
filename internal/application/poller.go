package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmellberg/deployctl/internal/domain"
	"go.uber.org/zap"
)

// Remote wording that marks an environment blocked by a stale upgrade marker
// file. Not fatal: the message explains why a deployment sits in-flight.
const upgradeMarkerSignature = "leftover upgrade marker"

const upgradeMarkerHint = "the target environment reports a leftover upgrade marker; " +
	"the deployment will not progress until the marker file is removed from the environment"

// Poller drives a single deployment to a terminal state. Transient remote
// faults are absorbed into the loop; the only locally raised failure is the
// overall timeout.
type Poller struct {
	log    *zap.Logger
	client domain.DeployClient

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

func NewPoller(log *zap.Logger, client domain.DeployClient) *Poller {
	return &Poller{
		log:    log,
		client: client,
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type stepResult int

const (
	stepContinue stepResult = iota
	stepTerminal
	stepFatal
)

// Poll queries deployment status every interval until the deployment reaches
// Completed or Failed, or maxDuration elapses. The cursor from each successful
// response scopes the next query to strictly newer status messages.
func (p *Poller) Poll(ctx context.Context, deploymentID string, maxDuration, interval time.Duration) (domain.DeploymentStatus, error) {
	deadline := p.now().Add(maxDuration)

	var cursor time.Time
	var last domain.DeploymentStatus

	for p.now().Before(deadline) {
		res, status, next, err := p.step(ctx, deploymentID, cursor)
		switch res {
		case stepTerminal:
			return status, nil
		case stepFatal:
			return last, err
		}

		if status.DeploymentID != "" {
			last = status
		}
		// The cursor never regresses, even if the remote reports an older
		// modification time.
		if next.After(cursor) {
			cursor = next
		}

		if err := p.sleep(ctx, interval); err != nil {
			return last, err
		}
	}

	return last, fmt.Errorf("deployment %s: %w (budget %s)", deploymentID, domain.ErrTimeout, maxDuration)
}

// step performs one polling iteration. Remote faults of any kind are absorbed
// (stepContinue with the cursor unchanged); stepFatal is reserved for a dead
// context, since retrying on a cancelled context would spin.
func (p *Poller) step(ctx context.Context, deploymentID string, cursor time.Time) (stepResult, domain.DeploymentStatus, time.Time, error) {
	status, err := p.client.GetStatus(ctx, deploymentID, cursor)
	if err != nil {
		if ctx.Err() != nil {
			return stepFatal, domain.DeploymentStatus{}, cursor, ctx.Err()
		}
		p.warnTransient(deploymentID, err)
		return stepContinue, domain.DeploymentStatus{}, cursor, nil
	}

	for _, m := range status.StatusMessages {
		p.log.Info("deployment status",
			zap.String("deployment", deploymentID),
			zap.Time("at", m.TimestampUtc),
			zap.String("message", m.Message),
		)
		if strings.Contains(strings.ToLower(m.Message), upgradeMarkerSignature) {
			p.log.Warn(upgradeMarkerHint, zap.String("deployment", deploymentID))
		}
	}

	if status.State.Terminal() {
		return stepTerminal, status, status.ModifiedUtc, nil
	}
	return stepContinue, status, status.ModifiedUtc, nil
}

func (p *Poller) warnTransient(deploymentID string, err error) {
	fields := []zap.Field{zap.String("deployment", deploymentID), zap.Error(err)}
	switch domain.KindOf(err) {
	case domain.KindUnauthorized:
		p.log.Warn("status query rejected as unauthorized, treating as transient", fields...)
	case domain.KindNotFound:
		p.log.Warn("deployment not visible yet, treating as transient", fields...)
	case domain.KindRateLimited, domain.KindTransient:
		p.log.Warn("deployment service unavailable, will retry", fields...)
	default:
		p.log.Warn("status query failed, will retry", fields...)
	}
}
