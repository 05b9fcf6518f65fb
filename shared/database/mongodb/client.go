package mongodb

import (
	"context"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"

	"github.com/agrawalpuran/uds-refresh-sub000/shared/common"
)

// Client represents a MongoDB client shared by maintenance commands
type Client struct {
	config         *Config
	client         *mongo.Client
	database       *mongo.Database
	logger         *zap.Logger
	circuitBreaker *gobreaker.CircuitBreaker

	mu          sync.Mutex
	collections map[string]*Collection
	closed      bool
}

// Collection represents a MongoDB collection guarded by the client's circuit breaker
type Collection struct {
	name           string
	collection     *mongo.Collection
	logger         *zap.Logger
	circuitBreaker *gobreaker.CircuitBreaker
}

// QueryOptions represents options for MongoDB read operations
type QueryOptions struct {
	Sort       bson.D
	Projection interface{}
	Limit      int64
	BatchSize  int32
}

// NewClient connects to MongoDB and verifies the connection
func NewClient(ctx context.Context, config *Config, logger *zap.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	clientOpts := options.Client().ApplyURI(config.URI)

	// Configure connection pool
	clientOpts.SetMaxPoolSize(config.MaxPoolSize)
	clientOpts.SetMinPoolSize(config.MinPoolSize)
	clientOpts.SetMaxConnIdleTime(config.MaxConnIdleTime)

	// Configure timeouts
	clientOpts.SetConnectTimeout(config.ConnectTimeout)
	if config.ServerSelectionTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(config.ServerSelectionTimeout)
	}
	if config.SocketTimeout > 0 {
		clientOpts.SetSocketTimeout(config.SocketTimeout)
	}

	if config.ReplicaSet != "" {
		clientOpts.SetReplicaSet(config.ReplicaSet)
	}

	readPref, err := parseReadPreference(config.ReadPreference)
	if err != nil {
		return nil, fmt.Errorf("invalid read preference: %w", err)
	}
	clientOpts.SetReadPreference(readPref)
	clientOpts.SetReadConcern(parseReadConcern(config.ReadConcern))
	clientOpts.SetWriteConcern(parseWriteConcern(config.WriteConcern))

	if config.Authentication.Username != "" {
		clientOpts.SetAuth(options.Credential{
			AuthMechanism: config.Authentication.Mechanism,
			AuthSource:    config.Authentication.Source,
			Username:      config.Authentication.Username,
			Password:      config.Authentication.Password,
		})
	}

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	mongoClient, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, common.ErrDatabaseConnection(err)
	}

	if err := mongoClient.Ping(connectCtx, readPref); err != nil {
		_ = mongoClient.Disconnect(context.Background())
		return nil, common.ErrDatabaseConnection(fmt.Errorf("failed to ping MongoDB: %w", err))
	}

	client := &Client{
		config:      config,
		client:      mongoClient,
		database:    mongoClient.Database(config.Database),
		logger:      logger,
		collections: make(map[string]*Collection),
	}

	client.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mongodb-client",
		MaxRequests: config.CircuitBreaker.MaxRequests,
		Interval:    config.CircuitBreaker.Interval,
		Timeout:     config.CircuitBreaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.CircuitBreaker.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	logger.Info("MongoDB client initialized successfully",
		zap.String("database", config.Database),
		zap.String("read_preference", config.ReadPreference))

	return client, nil
}

// Collection returns the wrapper for a named collection
func (c *Client) Collection(name string) (*Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	if coll, ok := c.collections[name]; ok {
		return coll, nil
	}

	coll := &Collection{
		name:           name,
		collection:     c.database.Collection(name),
		logger:         c.logger.With(zap.String("collection", name)),
		circuitBreaker: c.circuitBreaker,
	}
	c.collections[name] = coll
	return coll, nil
}

// ListCollectionNames lists the collections present in the database
func (c *Client) ListCollectionNames(ctx context.Context) ([]string, error) {
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return c.database.ListCollectionNames(ctx, bson.D{})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return result.([]string), nil
}

// Health checks the health of the MongoDB connection
func (c *Client) Health(ctx context.Context) bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}

	return c.client.Ping(ctx, nil) == nil
}

// Close closes the MongoDB connection
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect MongoDB client: %w", err)
	}

	c.logger.Info("MongoDB client closed")
	return nil
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}

// parseReadPreference parses read preference string
func parseReadPreference(pref string) (*readpref.ReadPref, error) {
	switch pref {
	case "primary":
		return readpref.Primary(), nil
	case "", "primaryPreferred":
		return readpref.PrimaryPreferred(), nil
	case "secondary":
		return readpref.Secondary(), nil
	case "secondaryPreferred":
		return readpref.SecondaryPreferred(), nil
	case "nearest":
		return readpref.Nearest(), nil
	default:
		return nil, fmt.Errorf("unknown read preference %q", pref)
	}
}

// parseReadConcern parses read concern string
func parseReadConcern(concern string) *readconcern.ReadConcern {
	switch concern {
	case "local":
		return readconcern.Local()
	case "available":
		return readconcern.Available()
	case "linearizable":
		return readconcern.Linearizable()
	case "snapshot":
		return readconcern.Snapshot()
	default:
		return readconcern.Majority()
	}
}

// parseWriteConcern parses write concern configuration
func parseWriteConcern(config WriteConcernConfig) *writeconcern.WriteConcern {
	var opts []writeconcern.Option

	switch w := config.W.(type) {
	case string:
		if w == "majority" {
			opts = append(opts, writeconcern.WMajority())
		} else if w != "" {
			opts = append(opts, writeconcern.WTagSet(w))
		}
	case int:
		opts = append(opts, writeconcern.W(w))
	}

	if config.WTimeout > 0 {
		opts = append(opts, writeconcern.WTimeout(config.WTimeout))
	}

	if config.Journal {
		opts = append(opts, writeconcern.J(true))
	}

	return writeconcern.New(opts...)
}
