package retry

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"gasScope/internal/metrics"
)

const (
	DefaultMaxRetries   = 5
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
)

// Policy controls how Do retries a failed operation.
type Policy struct {
	Name         string
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	IsRetryable  func(error) bool
	Logger       *zap.Logger

	jitter func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the policy used for RPC calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		IsRetryable:  IsRetryable,
	}
}

// Named returns a copy of the policy labelled with an operation name.
func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

// WithSleep returns a copy of the policy that waits between attempts with sleep.
func (p Policy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) Policy {
	p.sleep = sleep
	return p
}

// Backoff returns the full-jitter delay for the given attempt:
// min(initialDelay * 2^attempt, maxDelay) * U(0,1).
func (p Policy) Backoff(attempt int) time.Duration {
	jitter := p.jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	return time.Duration(float64(p.capped(attempt)) * jitter())
}

func (p Policy) capped(attempt int) time.Duration {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	delay := initial
	for i := 0; i < attempt; i++ {
		if delay >= maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Do runs op until it succeeds, fails with a non-retryable error, or exhausts
// MaxRetries additional attempts. The last error is returned on failure.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	isRetryable := p.IsRetryable
	if isRetryable == nil {
		isRetryable = IsRetryable
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var zero T
	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, err
		}

		metrics.RetryClassifications.WithLabelValues(string(Classify(err))).Inc()
		if !isRetryable(err) {
			return zero, err
		}
		if attempt >= maxRetries {
			metrics.RetryExhausted.WithLabelValues(p.Name).Inc()
			logger.Warn("retries exhausted", zap.String("operation", p.Name), zap.Int("attempts", attempt+1), zap.Error(err))
			return zero, err
		}

		delay := p.Backoff(attempt)
		logger.Debug("retrying",
			zap.String("operation", p.Name),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
