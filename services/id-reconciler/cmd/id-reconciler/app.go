package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agrawalpuran/uds-refresh-sub000/pkg/logging"
	"github.com/agrawalpuran/uds-refresh-sub000/pkg/metrics"
	"github.com/agrawalpuran/uds-refresh-sub000/pkg/shutdown"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/config"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/service"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/infrastructure/database"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/database/encryption"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/database/mongodb"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/database/redis"
)

// app holds the process-wide dependencies of one invocation
type app struct {
	config    *config.Config
	log       *logging.Logger
	logger    *zap.Logger
	shutdown  *shutdown.GracefulShutdown
	client    *mongodb.Client
	store     *database.MongoDocumentStore
	codec     database.ObjectIDCodec
	schema    *entity.Schema
	metrics   *metrics.Manager
	decrypter service.Decrypter
}

// newApp loads configuration and connects to the store. The returned
// context is cancelled on SIGINT or SIGTERM; close must always be called.
func newApp(parent context.Context, opts *options) (*app, context.Context, error) {
	if opts.batchSize < 0 {
		return nil, nil, withExitCode(exitUsage, fmt.Errorf("--batch-size must be positive, got %d", opts.batchSize))
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.batchSize > 0 {
		cfg.Reconcile.BatchSize = opts.batchSize
	}

	log, err := logging.NewLogger(cfg.LoggerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := log.Logger

	a := &app{
		config:   cfg,
		log:      log,
		logger:   logger,
		shutdown: shutdown.New(shutdown.DefaultConfig(), logger),
	}
	a.shutdown.AddHook(shutdown.Hook{
		Name:     "logger",
		Priority: 100,
		Fn: func(context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})
	ctx := a.shutdown.Listen(parent)

	a.schema, err = entity.LoadSchema(cfg.Reconcile.SchemaFile)
	if err != nil {
		a.close()
		return nil, nil, err
	}

	if cfg.Encryption.Key != "" {
		cipher, err := encryption.NewFieldCipher(cfg.Encryption.Key)
		if err != nil {
			a.close()
			return nil, nil, err
		}
		a.decrypter = cipher
	}

	a.metrics, err = metrics.NewManager(cfg.MetricsConfig(), logger)
	if err != nil {
		a.close()
		return nil, nil, err
	}

	client, err := mongodb.NewClient(ctx, mongodb.FromCommon(cfg.Database.MongoDB), logger)
	if err != nil {
		a.close()
		return nil, nil, err
	}
	a.shutdown.AddHook(shutdown.Hook{
		Name:     "mongodb",
		Priority: 10,
		Fn:       client.Close,
	})
	a.client = client
	a.store = database.NewMongoDocumentStore(client, logger)

	logger.Info("Starting id reconciler",
		zap.String("version", serviceVersion),
		zap.String("database", cfg.Database.MongoDB.Database),
		zap.Strings("collections", opts.collections))

	return a, ctx, nil
}

// forRun tags every subsequent log line with the run identifier
func (a *app) forRun(runID string) {
	a.logger = a.log.WithRunID(runID).Logger
}

func (a *app) catalogLoader() *service.CatalogLoader {
	return service.NewCatalogLoader(a.store, a.codec, a.schema, a.decrypter, a.logger)
}

func (a *app) scanner() *service.Scanner {
	return service.NewScanner(a.store, a.codec, a.config.ScannerConfig(), a.logger, a.metrics)
}

// locker returns the run lock, connecting to Redis when one is configured
func (a *app) locker(ctx context.Context, runID string) (redis.Locker, error) {
	redisConfig, ok := a.config.RedisConfig()
	if !ok {
		return redis.NoopLock{}, nil
	}

	client, err := redis.NewClient(ctx, redisConfig, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect run lock: %w", err)
	}
	a.shutdown.AddHook(shutdown.Hook{
		Name:     "redis",
		Priority: 20,
		Fn: func(context.Context) error {
			return client.Close()
		},
	})

	return redis.NewRunLock(client, a.config.Reconcile.LockKey, runID, a.config.Lock.TTL, a.logger), nil
}

// pushMetrics sends run metrics once, ignoring cancellation
func (a *app) pushMetrics(ctx context.Context) {
	if err := a.metrics.Push(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("Failed to push metrics", zap.Error(err))
	}
}

func (a *app) close() {
	a.shutdown.Close()
}
