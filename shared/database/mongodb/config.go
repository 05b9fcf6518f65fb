package mongodb

import (
	"fmt"
	"time"

	"github.com/agrawalpuran/uds-refresh-sub000/shared/common"
)

// Config represents MongoDB configuration for maintenance tooling
type Config struct {
	// Connection settings
	URI                    string        `yaml:"uri" json:"uri"`
	Database               string        `yaml:"database" json:"database"`
	ConnectTimeout         time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	ServerSelectionTimeout time.Duration `yaml:"server_selection_timeout" json:"server_selection_timeout"`
	SocketTimeout          time.Duration `yaml:"socket_timeout" json:"socket_timeout"`

	// Connection pool settings
	MaxPoolSize     uint64        `yaml:"max_pool_size" json:"max_pool_size"`
	MinPoolSize     uint64        `yaml:"min_pool_size" json:"min_pool_size"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" json:"max_conn_idle_time"`

	// Replica set configuration
	ReplicaSet     string             `yaml:"replica_set" json:"replica_set"`
	ReadPreference string             `yaml:"read_preference" json:"read_preference"`
	ReadConcern    string             `yaml:"read_concern" json:"read_concern"`
	WriteConcern   WriteConcernConfig `yaml:"write_concern" json:"write_concern"`

	// Authentication
	Authentication AuthConfig `yaml:"authentication" json:"authentication"`

	// Circuit breaker settings
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// WriteConcernConfig defines write concern settings
type WriteConcernConfig struct {
	W        interface{}   `yaml:"w" json:"w"` // Can be int or string
	WTimeout time.Duration `yaml:"wtimeout" json:"wtimeout"`
	Journal  bool          `yaml:"journal" json:"journal"`
}

// AuthConfig defines authentication settings
type AuthConfig struct {
	Mechanism string `yaml:"mechanism" json:"mechanism"`
	Source    string `yaml:"source" json:"source"`
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"password"`
}

// CircuitBreakerConfig defines circuit breaker settings
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests" json:"max_requests"`
	Interval         time.Duration `yaml:"interval" json:"interval"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold" json:"failure_threshold"`
}

// DefaultConfig returns a MongoDB configuration suited to batch maintenance
func DefaultConfig() *Config {
	return &Config{
		URI:                    "mongodb://localhost:27017",
		Database:               "uniforms",
		ConnectTimeout:         10 * time.Second,
		ServerSelectionTimeout: 10 * time.Second,
		SocketTimeout:          60 * time.Second,
		MaxPoolSize:            10,
		MinPoolSize:            1,
		MaxConnIdleTime:        5 * time.Minute,
		ReadPreference:         "primaryPreferred",
		ReadConcern:            "majority",
		WriteConcern: WriteConcernConfig{
			W:        "majority",
			WTimeout: 10 * time.Second,
			Journal:  true,
		},
		Authentication: AuthConfig{
			Mechanism: "SCRAM-SHA-256",
			Source:    "admin",
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      5,
			Interval:         30 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// FromCommon builds a driver config from the service-level settings
func FromCommon(c common.MongoDBConfig) *Config {
	config := DefaultConfig()
	if c.URI != "" {
		config.URI = c.URI
	}
	if c.Database != "" {
		config.Database = c.Database
	}
	if c.ReadPreference != "" {
		config.ReadPreference = c.ReadPreference
	}
	if c.MaxPoolSize > 0 {
		config.MaxPoolSize = uint64(c.MaxPoolSize)
	}
	if c.ConnectTimeout > 0 {
		config.ConnectTimeout = c.ConnectTimeout
	}
	config.Authentication.Username = c.Username
	config.Authentication.Password = c.Password
	return config
}

// Validate validates the MongoDB configuration
func (c *Config) Validate() error {
	if c.URI == "" {
		return common.ErrValidationFailed("MongoDB URI is required")
	}

	if c.Database == "" {
		return common.ErrValidationFailed("database name is required")
	}

	if c.ConnectTimeout <= 0 {
		return common.ErrValidationFailed("connect timeout must be positive")
	}

	if c.MaxPoolSize == 0 {
		return common.ErrValidationFailed("max pool size must be positive")
	}

	if c.MinPoolSize > c.MaxPoolSize {
		return common.ErrValidationFailed(fmt.Sprintf("min pool size %d exceeds max pool size %d", c.MinPoolSize, c.MaxPoolSize))
	}

	if _, err := parseReadPreference(c.ReadPreference); err != nil {
		return common.ErrValidationFailed(err.Error())
	}

	return nil
}
