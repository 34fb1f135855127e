package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/toolmesh/toolcache/pkg/observability"
)

// Policy describes how a single backend operation is executed: how slow is
// too slow, whether transient failures are retried, and whether calls flow
// through a circuit breaker.
type Policy struct {
	// Provider names the backend for logs and metrics
	Provider string
	// SlowThreshold triggers a warning when the operation exceeds it
	SlowThreshold time.Duration
	// Retry enables bounded exponential backoff when non-nil
	Retry *RetryConfig
	// Breaker short-circuits calls to a failing backend when non-nil
	Breaker *gobreaker.CircuitBreaker
}

// Executor runs backend operations behind a fixed wrapper chain of
// timing, retry, observability, and error containment, innermost first.
// A contained failure yields the operation's fallback value; callers are
// never exposed to backend errors.
type Executor struct {
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewExecutor creates an Executor
func NewExecutor(logger observability.Logger, metrics observability.MetricsClient) *Executor {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Executor{logger: logger, metrics: metrics}
}

// NewBreaker creates a circuit breaker sized for cache backends: it opens
// after five consecutive failures and probes again after 30 seconds.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// Execute runs fn under the policy and returns its result, or fallback if
// every layer failed. The error is reported through the executor's logger
// and metrics, never to the caller.
func Execute[T any](ctx context.Context, e *Executor, policy Policy, operation string, fallback T, fn func(context.Context) (T, error)) T {
	start := time.Now()

	run := func() (T, error) {
		if policy.Breaker == nil {
			return fn(ctx)
		}
		out, err := policy.Breaker.Execute(func() (interface{}, error) {
			return fn(ctx)
		})
		if err != nil {
			return fallback, err
		}
		result, ok := out.(T)
		if !ok {
			return fallback, fmt.Errorf("unexpected result type from breaker")
		}
		return result, nil
	}

	var result T
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in %s.%s: %v", policy.Provider, operation, r)
			}
		}()
		if policy.Retry != nil {
			result, err = RetryWithResult(ctx, *policy.Retry, run)
		} else {
			result, err = run()
		}
	}()

	duration := time.Since(start)
	if policy.SlowThreshold > 0 && duration > policy.SlowThreshold {
		e.logger.Warn("slow cache operation", map[string]interface{}{
			"provider":     policy.Provider,
			"operation":    operation,
			"duration_ms":  duration.Milliseconds(),
			"threshold_ms": policy.SlowThreshold.Milliseconds(),
		})
	}

	e.metrics.RecordCacheOperation(operation, err == nil, duration.Seconds())

	if err != nil {
		e.logger.Error("cache operation contained", map[string]interface{}{
			"provider":  policy.Provider,
			"operation": operation,
			"error":     err.Error(),
		})
		return fallback
	}
	return result
}
