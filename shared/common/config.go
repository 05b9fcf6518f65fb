package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ReadPreference string        `mapstructure:"read_preference"`
	MaxPoolSize    int           `mapstructure:"max_pool_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Namespace      string `mapstructure:"namespace"`
	PushGatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// EncryptionConfig contains field encryption configuration
type EncryptionConfig struct {
	Key string `mapstructure:"key"`
}

// LockConfig contains the advisory run-lock configuration
type LockConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// Loader wraps a viper instance configured the platform way: optional
// config.yaml, UDS_ env prefix, and explicit legacy env bindings.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a configuration loader searching configPath first
func NewLoader(configPath string) *Loader {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/uds")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvPrefix("UDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindEnvironmentVariables(v)

	return &Loader{v: v}
}

// Viper exposes the underlying viper instance so callers can bind flags
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads the config file (if any) and unmarshals into out
func (l *Loader) Load(out interface{}) error {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("service.name", "id-reconciler")
	v.SetDefault("service.environment", "development")

	// Database defaults
	v.SetDefault("database.mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("database.mongodb.database", "uniforms")
	v.SetDefault("database.mongodb.read_preference", "primaryPreferred")
	v.SetDefault("database.mongodb.max_pool_size", 10)
	v.SetDefault("database.mongodb.connect_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "uds")
	v.SetDefault("metrics.job", "id_reconciler")

	// Lock defaults
	v.SetDefault("lock.ttl", "30m")
}

// bindEnvironmentVariables binds environment variables to configuration keys
func bindEnvironmentVariables(v *viper.Viper) {
	v.BindEnv("service.environment", "ENVIRONMENT")

	v.BindEnv("database.mongodb.uri", "MONGODB_URI")
	v.BindEnv("database.mongodb.database", "MONGODB_DATABASE")
	v.BindEnv("database.mongodb.username", "MONGODB_USERNAME")
	v.BindEnv("database.mongodb.password", "MONGODB_PASSWORD")

	v.BindEnv("encryption.key", "ENCRYPTION_KEY")

	v.BindEnv("lock.redis_addr", "REDIS_ADDR")
	v.BindEnv("lock.redis_password", "REDIS_PASSWORD")

	v.BindEnv("metrics.pushgateway_url", "PUSHGATEWAY_URL")
}
