package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/crm-company-cache/internal/config"
	"github.com/Sternrassler/crm-company-cache/internal/server"
	"github.com/Sternrassler/crm-company-cache/pkg/cache"
	"github.com/Sternrassler/crm-company-cache/pkg/classify"
	"github.com/Sternrassler/crm-company-cache/pkg/client"
	"github.com/Sternrassler/crm-company-cache/pkg/companies"
	"github.com/Sternrassler/crm-company-cache/pkg/endpoint"
	"github.com/Sternrassler/crm-company-cache/pkg/logging"
	"github.com/Sternrassler/crm-company-cache/pkg/pagination"
	"github.com/Sternrassler/crm-company-cache/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
)

// app holds the wired components of a running proxy.
type app struct {
	server *server.Server
	redis  *redis.Client
}

func (a *app) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

func build(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}

	if cfg.NeedsRedis() {
		rc, err := newRedisClient(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = rc
	}

	store, err := buildStore(cfg.Cache, a.redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	limiter := buildLimiter(cfg.RateLimit, a.redis)

	gwCfg := client.DefaultConfig()
	gwCfg.Timeout = cfg.Remote.RequestTimeout
	gateway, err := client.New(gwCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	catalog := classify.ForLocale(cfg.Remote.Locale)
	driver := pagination.NewDriver(gateway, classify.New(catalog, gateway.Timeout()))

	svc := companies.NewService(companies.Config{
		DefaultEndpoint: cfg.Remote.WebhookURL,
		AllowOverride:   cfg.Remote.AllowOverride,
		MaxRecords:      cfg.Remote.MaxRecords,
		SessionTimeout:  cfg.Remote.SessionTimeout,
	}, endpoint.NewValidator(logging.NewLogger("endpoint")), driver, store, logging.NewLogger("companies"))

	a.server = server.New(server.Config{
		Fetcher:      svc,
		Limiter:      limiter,
		Cooldown:     cfg.RateLimit.Cooldown,
		Catalog:      catalog,
		Ready:        store,
		SecureCookie: cfg.Server.SecureCookie,
		Logger:       logging.NewLogger("server"),
	})
	return a, nil
}

// readyStore is a cache store that can report its health.
type readyStore interface {
	cache.Store
	server.Pinger
}

func buildStore(cfg config.CacheConfig, rc *redis.Client) (readyStore, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		if rc == nil {
			return nil, errors.New("redis cache backend needs a redis client")
		}
		return cache.NewRedisStore(rc, cfg.TTL), nil
	case config.BackendFile:
		store, err := cache.NewFileStore(cfg.Dir, cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("open file cache: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// buildLimiter returns the cooldown limiter. A zero cooldown disables it.
func buildLimiter(cfg config.RateLimitConfig, rc *redis.Client) ratelimit.Limiter {
	logger := logging.NewLogger("ratelimit")
	switch {
	case cfg.Cooldown <= 0:
		return ratelimit.Nop{}
	case cfg.Backend == config.BackendRedis && rc != nil:
		return ratelimit.NewRedisLimiter(rc, cfg.Cooldown, logger)
	default:
		return ratelimit.NewMemoryLimiter(cfg.Cooldown, logger)
	}
}

// newRedisClient accepts a host:port address or a redis:// URL and pings
// the server before returning.
func newRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	}

	rc := redis.NewClient(opts)
	if err := rc.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return rc, nil
}
