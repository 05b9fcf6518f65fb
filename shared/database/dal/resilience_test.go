package dal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errTransient = errors.New("connection reset")

func newTestRetrier(t *testing.T, attempts int, retryable func(error) bool) *Retrier {
	r := NewRetrier(RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		Multiplier:      2,
	}, retryable, zaptest.NewLogger(t))
	r.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return r
}

func TestRetrierSucceedsAfterTransientFailures(t *testing.T) {
	r := newTestRetrier(t, 3, func(err error) bool { return errors.Is(err, errTransient) })

	calls := 0
	attempts, err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	r := newTestRetrier(t, 5, func(err error) bool { return errors.Is(err, errTransient) })

	permanent := errors.New("duplicate key")
	attempts, err := r.Do(context.Background(), func(context.Context) error { return permanent })

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestRetrierGivesUpAfterMaxAttempts(t *testing.T) {
	r := newTestRetrier(t, 2, nil)

	attempts, err := r.Do(context.Background(), func(context.Context) error { return errTransient })

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, attempts)
}

func TestRetrierHonoursCancellation(t *testing.T) {
	r := newTestRetrier(t, 3, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := r.Do(ctx, func(context.Context) error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts)
}

func TestCalculateBackoffIsCapped(t *testing.T) {
	r := NewRetrier(RetryPolicy{
		MaxAttempts:     10,
		InitialInterval: time.Second,
		MaxInterval:     3 * time.Second,
		Multiplier:      2,
	}, nil, nil)

	assert.Equal(t, time.Second, r.calculateBackoff(0))
	assert.Equal(t, 2*time.Second, r.calculateBackoff(1))
	assert.Equal(t, 3*time.Second, r.calculateBackoff(5))
}
