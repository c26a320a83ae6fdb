package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries in Redis with a TTL, so several proxy instances
// can share one cache.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a store backed by redisClient.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Get retrieves an entry by key.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (s *RedisStore) Get(ctx context.Context, key Key) (*Entry, error) {
	if !key.Valid() {
		return nil, ErrInvalidKey
	}

	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(layerRedis).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || len(entry.Data) == 0 {
		_ = s.Delete(ctx, key)
		CacheEvictions.WithLabelValues("corrupt").Inc()
		CacheMisses.WithLabelValues(layerRedis).Inc()
		return nil, ErrCacheMiss
	}

	if entry.IsExpired() {
		_ = s.Delete(ctx, key)
		CacheEvictions.WithLabelValues("expired").Inc()
		CacheMisses.WithLabelValues(layerRedis).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(layerRedis).Inc()
	return &entry, nil
}

// Set stores data with the store TTL.
func (s *RedisStore) Set(ctx context.Context, key Key, data []byte) (*Entry, error) {
	if !key.Valid() {
		return nil, ErrInvalidKey
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	now := time.Now()
	entry := &Entry{
		Data:     data,
		StoredAt: now,
		Expires:  now.Add(s.ttl),
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, key.String(), encoded, s.ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return nil, fmt.Errorf("redis set: %w", err)
	}

	CacheSize.WithLabelValues(layerRedis).Set(float64(len(encoded)))

	return entry, nil
}

// Delete removes an entry.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear removes every key under RedisPrefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.redis.Scan(ctx, 0, RedisPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.redis.Del(ctx, iter.Val()).Err(); err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			return fmt.Errorf("redis del: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
