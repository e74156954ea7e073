// pkg/retry/retry.go - functions for retrying actions with exponential backoff.

package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/windowsadmins/patchrun/pkg/logging"
)

// NonRetryableError marks an error that should stop the retry loop at once.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string { return e.Err.Error() }
func (e NonRetryableError) Unwrap() error { return e.Err }

// RetryConfig defines the configuration for retry attempts
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
}

// Retry runs action until it succeeds, returns a NonRetryableError, the
// context ends, or MaxRetries attempts have been made.
func Retry(ctx context.Context, config RetryConfig, log *logging.Logger, action func() error) error {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}

	expo := &backoff.ExponentialBackOff{
		InitialInterval:     config.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          config.Multiplier,
		MaxInterval:         time.Minute,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	expo.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(config.MaxRetries-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := action()
		if err == nil {
			return nil
		}
		var nonRetryable NonRetryableError
		if errors.As(err, &nonRetryable) {
			log.Warn("Non-retryable error encountered", "attempt", attempt, "error", err)
			return backoff.Permanent(err)
		}
		if attempt >= config.MaxRetries {
			log.Warn(fmt.Sprintf("Attempt %d/%d failed. No more retries.", attempt, config.MaxRetries), "error", err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn(fmt.Sprintf("Attempt %d/%d failed. Retrying in %s...", attempt, config.MaxRetries, next), "error", err)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return fmt.Errorf("action failed after %d attempts: %w", attempt, err)
	}
	return nil
}
