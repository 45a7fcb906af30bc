package archive

import (
	"context"
	"time"
)

// StoreType names an archive driver
type StoreType string

const (
	StoreTypeNone     StoreType = "none"
	StoreTypeMemory   StoreType = "memory"
	StoreTypeSQLite   StoreType = "sqlite"
	StoreTypeRedis    StoreType = "redis"
	StoreTypePostgres StoreType = "postgres"
)

// NewStore creates the archive store for storeType. Redis needs
// WithRedisClient; postgres needs WithPostgresDSN or WithPostgresPool.
func NewStore(ctx context.Context, storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeNone, "":
		return nopStore{}, nil

	case StoreTypeMemory:
		return newMemoryStore(config.memoryLimit), nil

	case StoreTypeSQLite:
		if config.sqlitePath == "" {
			return nil, ErrInvalidConfig
		}
		return newSQLiteStore(config.sqlitePath)

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		ttl := config.redisTTL
		if ttl <= 0 {
			ttl = 7 * 24 * time.Hour
		}
		prefix := config.redisPrefix
		if prefix == "" {
			prefix = "neurolens:archive"
		}
		return &redisStore{client: config.redisClient, ttl: ttl, prefix: prefix}, nil

	case StoreTypePostgres:
		if config.postgresPool != nil {
			return newPostgresStoreFromPool(ctx, config.postgresPool)
		}
		if config.postgresDSN == "" {
			return nil, ErrInvalidConfig
		}
		return newPostgresStore(ctx, config.postgresDSN)

	default:
		return nil, ErrInvalidStoreType
	}
}

// nopStore discards everything
type nopStore struct{}

func (nopStore) Save(context.Context, *Record) error { return nil }

func (nopStore) Get(context.Context, string) (*Record, error) { return nil, ErrNotFound }

func (nopStore) List(context.Context, int) ([]Summary, error) { return []Summary{}, nil }

func (nopStore) Close() error { return nil }
