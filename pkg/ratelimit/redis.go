package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisLimiter shares the cooldown across proxy instances. A session start
// is a SET NX with the cooldown as expiry; an existing key is a rejection.
type RedisLimiter struct {
	redis    *redis.Client
	cooldown time.Duration
	logger   zerolog.Logger
}

// NewRedisLimiter creates a limiter; cooldown <= 0 means DefaultCooldown.
func NewRedisLimiter(redisClient *redis.Client, cooldown time.Duration, logger zerolog.Logger) *RedisLimiter {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &RedisLimiter{
		redis:    redisClient,
		cooldown: cooldown,
		logger:   logger,
	}
}

// Allow admits caller unless its cooldown key still exists.
func (r *RedisLimiter) Allow(ctx context.Context, caller string) error {
	key := RedisKeyPrefix + caller

	ok, err := r.redis.SetNX(ctx, key, time.Now().UnixMilli(), r.cooldown).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		return nil
	}

	retry, err := r.redis.PTTL(ctx, key).Result()
	if err != nil || retry <= 0 {
		retry = r.cooldown
	}

	rateLimitRejectionsTotal.WithLabelValues("redis").Inc()
	r.logger.Debug().
		Str("caller", caller).
		Dur("retry_after", retry).
		Msg("Session rejected by cooldown")

	return &RateLimitError{Caller: caller, RetryAfter: retry}
}
