package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmellberg/deployctl/internal/domain"
	"go.uber.org/zap"
)

// WithAliasFallback runs primary and, when it fails because the remote system
// could not resolve the environment alias, retries once through alternate with
// the canonical (lower-case) form of the alias. An alias already in canonical
// form is never retried; every other error propagates untouched.
func WithAliasFallback[T any](
	ctx context.Context,
	log *zap.Logger,
	alias string,
	primary func(context.Context) (T, error),
	alternate func(context.Context, string) (T, error),
) (T, error) {
	out, err := primary(ctx)
	if err == nil {
		return out, nil
	}

	canonical := strings.ToLower(alias)
	if domain.KindOf(err) != domain.KindUnknownAlias || canonical == alias {
		return out, err
	}

	log.Warn("environment alias not resolved, retrying with canonical form",
		zap.String("alias", alias),
		zap.String("canonical", canonical),
		zap.Error(err),
	)

	return alternate(ctx, canonical)
}

// WithRateLimitRetry runs fn, backing off exponentially (doubling from
// baseDelay) whenever the remote reports rate limiting. A server-supplied
// retry-after delay overrides the computed backoff for that attempt. The
// ceiling is a hard attempt count; exhausting it yields a terminal error.
// Anything other than a rate-limit error propagates immediately.
func WithRateLimitRetry[T any](
	ctx context.Context,
	log *zap.Logger,
	baseDelay time.Duration,
	maxAttempts int,
	fn func(context.Context) (T, error),
) (T, error) {
	var out T
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 2 * time.Minute
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if domain.KindOf(err) != domain.KindRateLimited {
			return out, err
		}
		if attempt >= maxAttempts {
			return out, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, err)
		}

		// The server's retry-after replaces the computed interval for this
		// attempt; the exponential schedule keeps advancing either way.
		delay := bo.NextBackOff()
		if ra := domain.RetryAfterOf(err); ra > 0 {
			delay = ra
			log.Info("rate limited, honouring server retry-after",
				zap.Int("attempt", attempt),
				zap.Duration("retry_after", ra),
			)
		} else {
			log.Warn("rate limited, backing off",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}
