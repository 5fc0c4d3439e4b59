package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/vaidashi/relay-freight-api/pkg/errors"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// RetryableFunc is one attempt of an operation.
type RetryableFunc func(ctx context.Context) error

// RetryConfig holds the configuration for retrying operations
type RetryConfig struct {
	MaxAttempts     int
	BackoffStrategy BackoffStrategy
	Logger          logger.Logger
	// RetryableErrors narrows which errors are retried. When empty the
	// decision falls back to apperrors.IsRetryable.
	RetryableErrors []error
}

// Retry runs fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done.
func Retry(ctx context.Context, fn RetryableFunc, cfg *RetryConfig) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled by context: %w", err)
		}

		err := fn(ctx)

		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryable(err, cfg.RetryableErrors) {
			return err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		backoff := cfg.BackoffStrategy.NextBackoff(attempt)

		if cfg.Logger != nil {
			cfg.Logger.Info("Retrying after error",
				"error", err,
				"attempt", attempt,
				"maxAttempts", cfg.MaxAttempts,
				"backoff", backoff)
		}

		timer := time.NewTimer(backoff)

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled by context during backoff: %w", ctx.Err())
		}
	}

	return fmt.Errorf("all %d retry attempts failed, last error: %w", cfg.MaxAttempts, lastErr)
}

func isRetryable(err error, retryableErrors []error) bool {
	if len(retryableErrors) == 0 {
		return apperrors.IsRetryable(err)
	}

	for _, retryableErr := range retryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}

	return false
}
