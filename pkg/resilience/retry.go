// Package resilience provides retry, circuit breaking, and the execution
// wrapper that keeps cache backend failures away from callers.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig defines configuration for retries
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
	RetryIfFn       func(error) bool
}

// DefaultRetryConfig returns a retry configuration suitable for short
// cache-backend calls: three attempts in total, 50ms initial backoff,
// capped well under the caller's latency budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  5 * time.Second,
	}
}

// Retry retries a function with exponential backoff. Errors rejected by
// RetryIfFn stop the retry loop immediately.
func Retry(ctx context.Context, config RetryConfig, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.InitialInterval
	b.MaxInterval = config.MaxInterval
	b.Multiplier = config.Multiplier
	b.MaxElapsedTime = config.MaxElapsedTime

	var backoffWithRetries backoff.BackOff = b
	if config.MaxRetries > 0 {
		backoffWithRetries = backoff.WithMaxRetries(b, uint64(config.MaxRetries))
	}

	ctxBackoff := backoff.WithContext(backoffWithRetries, ctx)

	return backoff.Retry(func() error {
		err := operation()
		if err != nil && config.RetryIfFn != nil && !config.RetryIfFn(err) {
			return backoff.Permanent(err)
		}
		return err
	}, ctxBackoff)
}

// RetryWithResult retries a function with exponential backoff and returns
// its result.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, operation func() (T, error)) (T, error) {
	var result T

	err := Retry(ctx, config, func() error {
		var opErr error
		result, opErr = operation()
		return opErr
	})

	return result, err
}
