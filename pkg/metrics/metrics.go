package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`

	ServiceName string `yaml:"service_name" json:"service_name"`
	Environment string `yaml:"environment" json:"environment"`

	// Maintenance runs are batch jobs: metrics are pushed once at the end
	PushGateway PushGatewayConfig `yaml:"push_gateway" json:"push_gateway"`
}

// PushGatewayConfig represents Pushgateway configuration
type PushGatewayConfig struct {
	URL string `yaml:"url" json:"url"`
	Job string `yaml:"job" json:"job"`
}

// Manager owns a per-run Prometheus registry
type Manager struct {
	config   *Config
	registry *prometheus.Registry
	logger   *zap.Logger

	referencesTotal   *prometheus.CounterVec
	writesTotal       *prometheus.CounterVec
	duplicatesDeleted *prometheus.CounterVec
	batchDuration     *prometheus.HistogramVec
}

// NewManager creates a new metrics manager
func NewManager(config *Config, logger *zap.Logger) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		config:   config,
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}

	if err := m.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initializeMetrics initializes all Prometheus metrics
func (m *Manager) initializeMetrics() error {
	m.referencesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Name:      "references_classified_total",
			Help:      "Reference field values classified by the scanner",
		},
		[]string{"collection", "field", "classification"},
	)

	m.writesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Name:      "writes_total",
			Help:      "Document writes issued by reconciliation, by outcome",
		},
		[]string{"collection", "operation", "outcome"},
	)

	m.duplicatesDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Name:      "duplicates_deleted_total",
			Help:      "Duplicate relationship rows deleted after merge",
		},
		[]string{"collection"},
	)

	m.batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of batched write operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"collection", "operation"},
	)

	collectors := []prometheus.Collector{
		m.referencesTotal,
		m.writesTotal,
		m.duplicatesDeleted,
		m.batchDuration,
	}

	for _, collector := range collectors {
		if err := m.registry.Register(collector); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return nil
}

// RecordReferences adds classified reference counts for a field
func (m *Manager) RecordReferences(collection, field, classification string, count int64) {
	if m == nil || count == 0 {
		return
	}
	m.referencesTotal.WithLabelValues(collection, field, classification).Add(float64(count))
}

// RecordWrites records write outcomes (applied, conflict, failed)
func (m *Manager) RecordWrites(collection, operation, outcome string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.writesTotal.WithLabelValues(collection, operation, outcome).Add(float64(count))
}

// RecordDuplicatesDeleted records duplicate rows removed from a collection
func (m *Manager) RecordDuplicatesDeleted(collection string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.duplicatesDeleted.WithLabelValues(collection).Add(float64(count))
}

// RecordBatch records the duration of one batched write
func (m *Manager) RecordBatch(collection, operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(collection, operation).Observe(duration.Seconds())
}

// Push sends the run's metrics to the configured Pushgateway, if any
func (m *Manager) Push(ctx context.Context) error {
	if m == nil || !m.config.Enabled || m.config.PushGateway.URL == "" {
		return nil
	}

	pusher := push.New(m.config.PushGateway.URL, m.config.PushGateway.Job).
		Gatherer(m.registry).
		Grouping("service", m.config.ServiceName).
		Grouping("environment", m.config.Environment)

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}

	m.logger.Info("Metrics pushed",
		zap.String("pushgateway", m.config.PushGateway.URL),
		zap.String("job", m.config.PushGateway.Job))

	return nil
}

// GetRegistry returns the underlying registry
func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// DefaultConfig returns a default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:     true,
		Namespace:   "uds",
		ServiceName: "id-reconciler",
		Environment: "development",
		PushGateway: PushGatewayConfig{
			Job: "id_reconciler",
		},
	}
}
