package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bumperworks/preorders/internal/db"
	"github.com/bumperworks/preorders/internal/logging"
)

var ErrWriteRetriesExhausted = errors.New("order write retries exhausted")

const maxWriteDelay = 5 * time.Second

// RetryPolicy allows MaxRetries further attempts after the first one.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

type WriteRetrier struct {
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

func NewWriteRetrier(policy RetryPolicy, logger *slog.Logger) *WriteRetrier {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &WriteRetrier{
		policy: policy,
		sleep:  sleepContext,
		logger: logger,
	}
}

// RetryWrite runs write until it succeeds, fails permanently, or runs out of attempts.
func (r *WriteRetrier) RetryWrite(ctx context.Context, name string, write func(ctx context.Context) error) error {
	logger := logging.FromContext(ctx, r.logger)
	attempts := r.policy.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := write(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("order write succeeded after retry", "write", name, "attempt", attempt)
			}
			return nil
		}
		if !retryableWriteError(err) {
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		delay := backoffDelay(r.policy.BaseDelay, attempt)
		logger.Warn("order write failed, retrying", "write", name, "attempt", attempt, "delay", delay, "error", err)
		if err := r.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: %w", ErrWriteRetriesExhausted, err)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrWriteRetriesExhausted, attempts, lastErr)
}

func retryableWriteError(err error) bool {
	switch {
	case errors.Is(err, db.ErrInvalidStatusTransition),
		errors.Is(err, db.ErrNotFound),
		errors.Is(err, db.ErrOrderLocked),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// backoffDelay doubles base for every failed attempt, capped at maxWriteDelay.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxWriteDelay {
			return maxWriteDelay
		}
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
