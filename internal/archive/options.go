package archive

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// StoreOption is a functional option for configuring an archive store
type StoreOption func(*storeConfig)

type storeConfig struct {
	sqlitePath   string
	redisClient  *redis.Client
	redisTTL     time.Duration
	redisPrefix  string
	postgresDSN  string
	postgresPool *pgxpool.Pool
	memoryLimit  int
}

// WithSQLitePath sets the database file of the sqlite store
func WithSQLitePath(path string) StoreOption {
	return func(c *storeConfig) { c.sqlitePath = path }
}

// WithRedisClient sets the client of the redis store
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) { c.redisClient = client }
}

// WithRedisTTL sets how long archived sessions live in redis
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) { c.redisTTL = ttl }
}

// WithRedisPrefix namespaces the redis keys
func WithRedisPrefix(prefix string) StoreOption {
	return func(c *storeConfig) { c.redisPrefix = prefix }
}

// WithPostgresDSN sets the connection string of the postgres store
func WithPostgresDSN(dsn string) StoreOption {
	return func(c *storeConfig) { c.postgresDSN = dsn }
}

// WithPostgresPool uses an existing pool for the postgres store
func WithPostgresPool(pool *pgxpool.Pool) StoreOption {
	return func(c *storeConfig) { c.postgresPool = pool }
}

// WithMemoryLimit bounds the number of records the memory store keeps
func WithMemoryLimit(n int) StoreOption {
	return func(c *storeConfig) { c.memoryLimit = n }
}
