package config

import (
	"fmt"
	"time"

	"github.com/agrawalpuran/uds-refresh-sub000/pkg/logging"
	"github.com/agrawalpuran/uds-refresh-sub000/pkg/metrics"
	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/service"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/common"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/database/dal"
	"github.com/agrawalpuran/uds-refresh-sub000/shared/database/redis"
)

// Config represents the configuration for the id reconciler
type Config struct {
	// Service configuration
	Service ServiceConfig `mapstructure:"service"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Reconciliation configuration
	Reconcile ReconcileConfig `mapstructure:"reconcile"`

	// Logging configuration
	Logging common.LoggingConfig `mapstructure:"logging"`

	// Metrics configuration
	Metrics common.MetricsConfig `mapstructure:"metrics"`

	// Field encryption configuration
	Encryption common.EncryptionConfig `mapstructure:"encryption"`

	// Run lock configuration
	Lock common.LockConfig `mapstructure:"lock"`
}

// ServiceConfig contains service-specific configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	MongoDB common.MongoDBConfig `mapstructure:"mongodb"`
}

// ReconcileConfig tunes scanning and writing
type ReconcileConfig struct {
	BatchSize           int             `mapstructure:"batch_size"`
	MaxBatchesPerSecond float64         `mapstructure:"max_batches_per_second"`
	SampleLimit         int             `mapstructure:"sample_limit"`
	MaxArrayElements    int             `mapstructure:"max_array_elements"`
	SchemaFile          string          `mapstructure:"schema_file"`
	LockKey             string          `mapstructure:"lock_key"`
	Retry               dal.RetryPolicy `mapstructure:"retry"`
}

// LoadConfig loads the reconciler configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	loader := common.NewLoader(configPath)
	setReconcileDefaults(loader)

	config := &Config{}
	if err := loader.Load(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// setReconcileDefaults sets default values for reconciliation settings
func setReconcileDefaults(loader *common.Loader) {
	v := loader.Viper()

	scan := service.DefaultScannerConfig()
	write := service.DefaultReconcilerConfig()

	v.SetDefault("service.version", "dev")
	v.SetDefault("reconcile.batch_size", write.BatchSize)
	v.SetDefault("reconcile.max_batches_per_second", write.MaxBatchesPerSecond)
	v.SetDefault("reconcile.sample_limit", scan.SampleLimit)
	v.SetDefault("reconcile.max_array_elements", scan.MaxArrayElements)
	v.SetDefault("reconcile.lock_key", "uds:id-reconciler:lock")
	v.SetDefault("reconcile.retry.max_attempts", write.Retry.MaxAttempts)
	v.SetDefault("reconcile.retry.initial_interval", write.Retry.InitialInterval)
	v.SetDefault("reconcile.retry.max_interval", write.Retry.MaxInterval)
	v.SetDefault("reconcile.retry.multiplier", write.Retry.Multiplier)
	v.SetDefault("reconcile.retry.jitter", write.Retry.Jitter)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.MongoDB.URI == "" {
		return common.ErrValidationFailed("database.mongodb.uri is required")
	}

	if c.Database.MongoDB.Database == "" {
		return common.ErrValidationFailed("database.mongodb.database is required")
	}

	if c.Reconcile.BatchSize <= 0 {
		return common.ErrValidationFailed(fmt.Sprintf("reconcile.batch_size must be positive, got %d", c.Reconcile.BatchSize))
	}

	if c.Reconcile.MaxBatchesPerSecond < 0 {
		return common.ErrValidationFailed("reconcile.max_batches_per_second must not be negative")
	}

	if c.Reconcile.MaxArrayElements <= 0 {
		return common.ErrValidationFailed("reconcile.max_array_elements must be positive")
	}

	if c.Lock.RedisAddr != "" && c.Lock.TTL <= 0 {
		return common.ErrValidationFailed("lock.ttl must be positive when lock.redis_addr is set")
	}

	return nil
}

// ScannerConfig returns the scan bounds
func (c *Config) ScannerConfig() service.ScannerConfig {
	return service.ScannerConfig{
		SampleLimit:      c.Reconcile.SampleLimit,
		MaxArrayElements: c.Reconcile.MaxArrayElements,
	}
}

// ReconcilerConfig returns the write settings
func (c *Config) ReconcilerConfig() service.ReconcilerConfig {
	return service.ReconcilerConfig{
		BatchSize:           c.Reconcile.BatchSize,
		MaxBatchesPerSecond: c.Reconcile.MaxBatchesPerSecond,
		Retry:               c.Reconcile.Retry,
	}
}

// LoggerConfig returns the logger configuration
func (c *Config) LoggerConfig() *logging.Config {
	config := logging.DefaultConfig()
	config.Level = logging.LogLevel(c.Logging.Level)
	config.Format = logging.LogFormat(c.Logging.Format)
	config.ServiceName = c.Service.Name
	config.ServiceVersion = c.Service.Version
	config.Environment = c.Service.Environment
	return config
}

// MetricsConfig returns the metrics configuration
func (c *Config) MetricsConfig() *metrics.Config {
	config := metrics.DefaultConfig()
	config.Enabled = c.Metrics.Enabled
	if c.Metrics.Namespace != "" {
		config.Namespace = c.Metrics.Namespace
	}
	config.ServiceName = c.Service.Name
	config.Environment = c.Service.Environment
	config.PushGateway.URL = c.Metrics.PushGatewayURL
	if c.Metrics.Job != "" {
		config.PushGateway.Job = c.Metrics.Job
	}
	return config
}

// RedisConfig returns the lock's Redis connection, or false when locking
// is not configured
func (c *Config) RedisConfig() (redis.Config, bool) {
	if c.Lock.RedisAddr == "" {
		return redis.Config{}, false
	}
	return redis.Config{
		Addr:        c.Lock.RedisAddr,
		Password:    c.Lock.RedisPassword,
		DB:          c.Lock.RedisDB,
		DialTimeout: 5 * time.Second,
	}, true
}
