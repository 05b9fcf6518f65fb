package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agrawalpuran/uds-refresh-sub000/shared/common"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestRunLockExcludesSecondRun(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)
	logger := zaptest.NewLogger(t)

	first := NewRunLock(client, "uds:reconcile:all", "run-a", time.Minute, logger)
	second := NewRunLock(client, "uds:reconcile:all", "run-b", time.Minute, logger)

	require.NoError(t, first.Acquire(ctx))

	err := second.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeLockHeld))

	// A run that never acquired the lock releases nothing
	require.NoError(t, second.Release(ctx))
	assert.Error(t, second.Acquire(ctx))

	require.NoError(t, first.Release(ctx))
	assert.NoError(t, second.Acquire(ctx))
}

func TestRunLockRefreshExtendsLease(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)

	lock := NewRunLock(client, "uds:reconcile:orders", "run-a", 2*time.Second, nil)
	require.NoError(t, lock.Acquire(ctx))

	srv.FastForward(1500 * time.Millisecond)
	require.NoError(t, lock.Refresh(ctx))
	srv.FastForward(1500 * time.Millisecond)

	other := NewRunLock(client, "uds:reconcile:orders", "run-b", 2*time.Second, nil)
	err := other.Acquire(ctx)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeLockHeld))

	require.NoError(t, lock.Release(ctx))
	assert.False(t, srv.Exists("uds:reconcile:orders"))
}

func TestRunLockRefreshFailsOnceLeaseExpired(t *testing.T) {
	ctx := context.Background()
	srv, client := newTestClient(t)

	lock := NewRunLock(client, "uds:reconcile:orders", "run-a", time.Second, nil)
	require.NoError(t, lock.Acquire(ctx))

	srv.FastForward(2 * time.Second)

	other := NewRunLock(client, "uds:reconcile:orders", "run-b", time.Second, nil)
	require.NoError(t, other.Acquire(ctx))

	assert.ErrorIs(t, lock.Refresh(ctx), ErrLockLost)
	assert.NoError(t, lock.Release(ctx))
	assert.True(t, srv.Exists("uds:reconcile:orders"))
}

func TestRefreshBeforeAcquireFails(t *testing.T) {
	_, client := newTestClient(t)
	lock := NewRunLock(client, "uds:reconcile:orders", "run-a", time.Second, nil)
	assert.ErrorIs(t, lock.Refresh(context.Background()), ErrLockLost)
}

func TestNewClientPings(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()

	client, err := NewClient(context.Background(), Config{Addr: addr}, zaptest.NewLogger(t))
	require.NoError(t, err)
	client.Close()

	srv.Close()
	_, err = NewClient(context.Background(), Config{Addr: addr, DialTimeout: 200 * time.Millisecond}, nil)
	assert.Error(t, err)
}

func TestNoopLock(t *testing.T) {
	var l Locker = NoopLock{}
	assert.NoError(t, l.Acquire(context.Background()))
	assert.NoError(t, l.Refresh(context.Background()))
	assert.NoError(t, l.Release(context.Background()))
}
