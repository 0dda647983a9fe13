package services

import (
	"context"
	"fmt"
	"time"

	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/logging"
)

// RetryPolicy retries an operation a bounded number of times with linear
// backoff (attempt x base delay between tries). Used for indicator-proxy
// calls only; forecast and oracle calls fail fast so a tick never acts on a
// quote that went stale while sleeping.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration

	logger logging.Logger
}

// NewRetryPolicy builds the indicator-fetch retry policy from configuration.
func NewRetryPolicy(cfg config.MarketConfig, logger logging.Logger) RetryPolicy {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return RetryPolicy{
		Attempts:  attempts,
		BaseDelay: cfg.RetryBaseDelay,
		logger:    logger.WithComponent("retry"),
	}
}

// Do runs fn until it succeeds, attempts are exhausted, or the context ends.
// The last error is returned when all attempts fail.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.Attempts {
			break
		}

		delay := time.Duration(attempt) * p.BaseDelay
		if p.logger != nil {
			p.logger.WithOperation(op).WithError(lastErr).Warn("Attempt failed, retrying",
				"attempt", attempt, "max_attempts", p.Attempts, "delay", delay.String())
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s aborted: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, p.Attempts, lastErr)
}
