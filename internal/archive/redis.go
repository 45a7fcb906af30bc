package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore keeps each record as a JSON value with a TTL, plus a sorted
// set indexing record ids by archive time.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func (s *redisStore) key(id string) string {
	return s.prefix + ":session:" + id
}

func (s *redisStore) indexKey() string {
	return s.prefix + ":index"
}

func (s *redisStore) Save(ctx context.Context, rec *Record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	cutoff := time.Now().Add(-s.ttl).UnixNano()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(rec.Session.ID), val, s.ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(rec.ArchivedAt.UnixNano()), Member: rec.Session.ID})
		pipe.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("(%d", cutoff))
		return nil
	})
	return err
}

func (s *redisStore) Get(ctx context.Context, id string) (*Record, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

func (s *redisStore) List(ctx context.Context, limit int) ([]Summary, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(normalizeLimit(limit)-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var stale []interface{}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			continue
		}
		out = append(out, rec.Summarize())
	}

	// Values expired before their index entry was trimmed
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, s.indexKey(), stale...).Err()
	}
	return out, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
