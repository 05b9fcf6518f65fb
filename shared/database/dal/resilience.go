package dal

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy defines exponential backoff for transient database failures
type RetryPolicy struct {
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts" mapstructure:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" json:"max_interval" mapstructure:"max_interval"`
	Multiplier      float64       `yaml:"multiplier" json:"multiplier" mapstructure:"multiplier"`
	Jitter          bool          `yaml:"jitter" json:"jitter" mapstructure:"jitter"`
}

// DefaultRetryPolicy returns the default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
	}
}

// Retrier executes operations under a retry policy. Only errors accepted by
// the retryable predicate are retried.
type Retrier struct {
	policy    RetryPolicy
	retryable func(error) bool
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a retrier; a nil predicate retries every error
func NewRetrier(policy RetryPolicy, retryable func(error) bool, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	return &Retrier{
		policy:    policy,
		retryable: retryable,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// Do runs operation until it succeeds, fails permanently, or attempts run
// out. It returns the number of attempts made.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) (int, error) {
	var lastErr error

	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Debug("Operation succeeded after retries",
					zap.Int("attempt", attempt+1))
			}
			return attempt + 1, nil
		}

		if !r.retryable(lastErr) || attempt == r.policy.MaxAttempts-1 {
			return attempt + 1, lastErr
		}

		backoff := r.calculateBackoff(attempt)
		r.logger.Warn("Operation failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(lastErr))

		if err := r.sleep(ctx, backoff); err != nil {
			return attempt + 1, err
		}
	}

	return r.policy.MaxAttempts, lastErr
}

// calculateBackoff computes the wait before the next attempt
func (r *Retrier) calculateBackoff(attempt int) time.Duration {
	backoff := float64(r.policy.InitialInterval) * math.Pow(r.policy.Multiplier, float64(attempt))

	if r.policy.MaxInterval > 0 && backoff > float64(r.policy.MaxInterval) {
		backoff = float64(r.policy.MaxInterval)
	}

	duration := time.Duration(backoff)

	if r.policy.Jitter {
		duration += time.Duration(rand.Float64() * float64(duration) * 0.1) // 10% jitter
	}

	return duration
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
