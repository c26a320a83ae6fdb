// Package config loads proxy settings from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Remote    RemoteConfig
	Server    ServerConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type RemoteConfig struct {
	WebhookURL     string
	AllowOverride  bool
	MaxRecords     int
	RequestTimeout time.Duration
	SessionTimeout time.Duration
	Locale         string
}

type ServerConfig struct {
	Port int

	// SecureCookie marks the caller session cookie Secure. Enable it when
	// the proxy is served over https.
	SecureCookie bool
}

type CacheConfig struct {
	Backend  string // "file" or "redis"
	Dir      string
	TTL      time.Duration
	RedisURL string
}

type RateLimitConfig struct {
	Backend  string // "memory" or "redis"
	Cooldown time.Duration
}

type LogConfig struct {
	Level  string
	Debug  bool
	Pretty bool
}

// Backends.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

func defaults() Config {
	return Config{
		Remote: RemoteConfig{
			AllowOverride:  true,
			MaxRecords:     10000,
			RequestTimeout: 45 * time.Second,
			Locale:         "ru",
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Cache: CacheConfig{
			Backend:  BackendFile,
			Dir:      filepath.Join(os.TempDir(), "bitrix_cache"),
			TTL:      300 * time.Second,
			RedisURL: "localhost:6379",
		},
		RateLimit: RateLimitConfig{
			Backend:  BackendMemory,
			Cooldown: 2 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads .env from the working directory if present, then the process
// environment. Variables already set in the environment win over .env.
func Load() (Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit .env path. A missing file is ignored.
func LoadFile(path string) (Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return loadWith(os.LookupEnv)
}

func loadWith(lookup func(string) (string, bool)) (Config, error) {
	cfg := defaults()
	env := envReader{lookup: lookup}

	cfg.Remote.WebhookURL = env.str("BITRIX24_WEBHOOK_URL", cfg.Remote.WebhookURL)
	cfg.Remote.AllowOverride = env.boolean("ALLOW_ENDPOINT_OVERRIDE", cfg.Remote.AllowOverride)
	cfg.Remote.MaxRecords = env.integer("MAX_COMPANIES", cfg.Remote.MaxRecords)
	cfg.Remote.RequestTimeout = env.seconds("REQUEST_TIMEOUT", cfg.Remote.RequestTimeout)
	cfg.Remote.SessionTimeout = env.seconds("SESSION_TIMEOUT", cfg.Remote.SessionTimeout)
	cfg.Remote.Locale = env.str("LOCALE", cfg.Remote.Locale)

	cfg.Server.Port = env.integer("PORT", cfg.Server.Port)
	cfg.Server.SecureCookie = env.boolean("COOKIE_SECURE", cfg.Server.SecureCookie)

	cfg.Cache.Backend = strings.ToLower(env.str("CACHE_BACKEND", cfg.Cache.Backend))
	cfg.Cache.Dir = env.str("CACHE_DIR", cfg.Cache.Dir)
	cfg.Cache.TTL = env.seconds("CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.RedisURL = env.str("REDIS_URL", cfg.Cache.RedisURL)

	cfg.RateLimit.Backend = strings.ToLower(env.str("RATE_LIMIT_BACKEND", cfg.RateLimit.Backend))
	cfg.RateLimit.Cooldown = env.seconds("RATE_LIMIT_COOLDOWN", cfg.RateLimit.Cooldown)

	cfg.Log.Level = env.str("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Debug = env.boolean("DEBUG_MODE", cfg.Log.Debug)
	cfg.Log.Pretty = env.boolean("LOG_PRETTY", cfg.Log.Pretty)

	if err := errors.Join(append(env.errs, cfg.validate())...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Remote.MaxRecords <= 0 {
		errs = append(errs, fmt.Errorf("MAX_COMPANIES must be positive (got %d)", c.Remote.MaxRecords))
	}
	if c.Remote.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive (got %s)", c.Remote.RequestTimeout))
	}
	if c.Remote.SessionTimeout < 0 {
		errs = append(errs, fmt.Errorf("SESSION_TIMEOUT must not be negative (got %s)", c.Remote.SessionTimeout))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range (got %d)", c.Server.Port))
	}
	if c.Cache.Backend != BackendFile && c.Cache.Backend != BackendRedis {
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be %q or %q (got %q)", BackendFile, BackendRedis, c.Cache.Backend))
	}
	if c.Cache.Backend == BackendFile && c.Cache.Dir == "" {
		errs = append(errs, errors.New("CACHE_DIR is required for the file cache"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_TTL must be positive (got %s)", c.Cache.TTL))
	}
	if c.RateLimit.Backend != BackendMemory && c.RateLimit.Backend != BackendRedis {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q (got %q)", BackendMemory, BackendRedis, c.RateLimit.Backend))
	}
	if c.RateLimit.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_COOLDOWN must not be negative (got %s)", c.RateLimit.Cooldown))
	}
	return errors.Join(errs...)
}

// NeedsRedis reports whether any backend uses Redis.
func (c Config) NeedsRedis() bool {
	return c.Cache.Backend == BackendRedis || c.RateLimit.Backend == BackendRedis
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (e *envReader) seconds(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid number of seconds %q", key, v))
		return def
	}
	return time.Duration(n * float64(time.Second))
}

func (e *envReader) boolean(key string, def bool) bool {
	v := strings.ToLower(e.str(key, ""))
	switch v {
	case "":
		return def
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	}
	e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
	return def
}
