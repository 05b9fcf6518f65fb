package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// GracefulShutdown cancels a run on SIGINT/SIGTERM and then releases
// resources through prioritised hooks. The in-flight batch is allowed to
// finish; only the boundary between batches observes the cancellation.
type GracefulShutdown struct {
	timeout time.Duration
	logger  *zap.Logger
	hooks   []Hook
	mu      sync.Mutex
	once    sync.Once
	stop    func()
}

// Hook represents a function to be called during shutdown
type Hook struct {
	Name     string
	Priority int // Lower numbers run first
	Timeout  time.Duration
	Fn       func(context.Context) error
}

// Config represents graceful shutdown configuration
type Config struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Signals []os.Signal   `yaml:"-" json:"-"`
}

// New creates a new graceful shutdown manager
func New(config *Config, logger *zap.Logger) *GracefulShutdown {
	if config == nil {
		config = DefaultConfig()
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &GracefulShutdown{
		timeout: config.Timeout,
		logger:  logger,
		hooks:   make([]Hook, 0),
	}
}

// AddHook adds a shutdown hook with priority and timeout
func (gs *GracefulShutdown) AddHook(hook Hook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if hook.Timeout == 0 {
		hook.Timeout = gs.timeout
	}

	// Insert hook in priority order (lower priority runs first)
	inserted := false
	for i, h := range gs.hooks {
		if hook.Priority < h.Priority {
			gs.hooks = append(gs.hooks[:i], append([]Hook{hook}, gs.hooks[i:]...)...)
			inserted = true
			break
		}
	}

	if !inserted {
		gs.hooks = append(gs.hooks, hook)
	}

	gs.logger.Debug("Shutdown hook added",
		zap.String("name", hook.Name),
		zap.Int("priority", hook.Priority),
		zap.Duration("timeout", hook.Timeout),
	)
}

// Listen returns a context that is cancelled when one of the signals
// arrives. Call Close to stop listening and run the hooks.
func (gs *GracefulShutdown) Listen(parent context.Context, signals ...os.Signal) context.Context {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGTERM, syscall.SIGINT}
	}

	ctx, cancel := context.WithCancel(parent)
	c := make(chan os.Signal, 1)
	signal.Notify(c, signals...)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-c:
			gs.logger.Warn("Shutdown signal received, stopping after the current batch",
				zap.String("signal", sig.String()))
			cancel()
		case <-done:
		}
	}()

	gs.mu.Lock()
	gs.stop = func() {
		signal.Stop(c)
		close(done)
		cancel()
	}
	gs.mu.Unlock()

	return ctx
}

// Close stops signal handling and executes all hooks once
func (gs *GracefulShutdown) Close() {
	gs.once.Do(func() {
		gs.mu.Lock()
		stop := gs.stop
		hooks := append([]Hook(nil), gs.hooks...)
		gs.mu.Unlock()

		if stop != nil {
			stop()
		}

		start := time.Now()
		for _, hook := range hooks {
			gs.executeHook(hook)
		}

		gs.logger.Debug("Shutdown hooks completed",
			zap.Int("hooks", len(hooks)),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// executeHook executes a single shutdown hook
func (gs *GracefulShutdown) executeHook(hook Hook) {
	ctx, cancel := context.WithTimeout(context.Background(), hook.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- hook.Fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			gs.logger.Error("Shutdown hook failed",
				zap.String("name", hook.Name),
				zap.Error(err),
			)
		}
	case <-ctx.Done():
		gs.logger.Warn("Shutdown hook timed out",
			zap.String("name", hook.Name),
			zap.Duration("timeout", hook.Timeout),
		)
	}
}

// DefaultConfig returns a default shutdown configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT},
	}
}
