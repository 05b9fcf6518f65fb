package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/agrawalpuran/uds-refresh-sub000/shared/common"
)

// Locker guards a maintenance scope against concurrent runs
type Locker interface {
	Acquire(ctx context.Context) error
	// Refresh extends the lease; it fails with ErrLockLost once another
	// run could have taken over
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// ErrLockLost is returned by Refresh when the lease can no longer be extended
var ErrLockLost = errors.New("run lock lost")

// Config represents the Redis connection used for run locks
type Config struct {
	Addr        string        `yaml:"addr" json:"addr"`
	Password    string        `yaml:"password" json:"password"`
	DB          int           `yaml:"db" json:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// NewClient creates a standalone Redis client and verifies the connection
func NewClient(ctx context.Context, config Config, logger *zap.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		DialTimeout: config.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.Info("Redis client initialized successfully",
		zap.String("address", config.Addr))

	return client, nil
}

// RunLock is an advisory lease held in Redis for the duration of a run.
// The lease expires after ttl unless refreshed.
type RunLock struct {
	locker *redislock.Client
	key    string
	runID  string
	ttl    time.Duration
	logger *zap.Logger

	mu   sync.Mutex
	lock *redislock.Lock
}

// NewRunLock creates a lock on key for the run identified by runID
func NewRunLock(client *redis.Client, key, runID string, ttl time.Duration, logger *zap.Logger) *RunLock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunLock{
		locker: redislock.New(client),
		key:    key,
		runID:  runID,
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire takes the lock or fails with a LOCK_HELD error
func (l *RunLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, err := l.locker.Obtain(ctx, l.key, l.ttl, &redislock.Options{Metadata: l.runID})
	if errors.Is(err, redislock.ErrNotObtained) {
		return common.ErrLockHeld(l.key).WithContext("run_id", l.runID)
	}
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	l.lock = lock

	l.logger.Info("Run lock acquired",
		zap.String("key", l.key),
		zap.Duration("ttl", l.ttl))
	return nil
}

// Refresh extends the lease by another ttl
func (l *RunLock) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lock == nil {
		return fmt.Errorf("%w: %s was never acquired", ErrLockLost, l.key)
	}

	if err := l.lock.Refresh(ctx, l.ttl, nil); err != nil {
		l.logger.Error("Failed to refresh run lock",
			zap.String("key", l.key),
			zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrLockLost, l.key, err)
	}
	return nil
}

// Release drops the lock if this run still owns it
func (l *RunLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lock == nil {
		return nil
	}
	lock := l.lock
	l.lock = nil

	err := lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		l.logger.Warn("Run lock expired before release", zap.String("key", l.key))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}

	l.logger.Info("Run lock released", zap.String("key", l.key))
	return nil
}

// NoopLock is used when no Redis is configured
type NoopLock struct{}

// Acquire always succeeds
func (NoopLock) Acquire(context.Context) error { return nil }

// Refresh always succeeds
func (NoopLock) Refresh(context.Context) error { return nil }

// Release always succeeds
func (NoopLock) Release(context.Context) error { return nil }
