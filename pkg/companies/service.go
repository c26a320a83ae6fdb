// Package companies serves the company list: it resolves the webhook,
// answers from the server cache when it can, and otherwise runs one fetch
// session and stores the result.
package companies

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/crm-company-cache/pkg/cache"
	"github.com/Sternrassler/crm-company-cache/pkg/client"
	"github.com/Sternrassler/crm-company-cache/pkg/endpoint"
	"github.com/Sternrassler/crm-company-cache/pkg/logging"
	"github.com/Sternrassler/crm-company-cache/pkg/pagination"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ConfigurationError reports a service that cannot serve any request.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Runner runs a fetch session. *pagination.Driver implements it.
type Runner interface {
	Run(ctx context.Context, ep endpoint.Endpoint, limits pagination.Limits) (*pagination.Result, error)
}

// Config holds service settings.
type Config struct {
	// DefaultEndpoint is used when the caller supplies none.
	DefaultEndpoint string

	// AllowOverride lets callers supply their own webhook URL.
	AllowOverride bool

	// MaxRecords caps every session; caller values above it are clamped.
	MaxRecords int

	// SessionTimeout is the default session budget. Zero means none.
	SessionTimeout time.Duration
}

// Request is one inbound fetch command. Zero fields take the configured
// defaults.
type Request struct {
	Webhook     string
	MaxRecords  int
	MaxRequests int
	Timeout     time.Duration
}

// Response is the served company list. Payload holds the exact bytes sent
// to the caller; for cached responses they are the bytes on disk unless the
// caller's limits cut the list short.
type Response struct {
	Companies []client.Record
	Total     int
	Cached    bool
	Partial   bool
	Warning   string
	Payload   []byte
}

// payload is the wire form of Response and the persisted cache format.
type payload struct {
	Companies []client.Record `json:"companies"`
	Total     int             `json:"total"`
	Cached    bool            `json:"cached"`
	Partial   bool            `json:"partial,omitempty"`
	Warning   string          `json:"warning,omitempty"`
}

// Service coordinates validation, caching and fetch sessions. Concurrent
// requests for the same endpoint and limits share one session.
type Service struct {
	cfg       Config
	validator *endpoint.Validator
	runner    Runner
	store     cache.Store
	logger    zerolog.Logger
	group     singleflight.Group
}

// NewService creates a service. store may be nil to disable server caching.
func NewService(cfg Config, validator *endpoint.Validator, runner Runner, store cache.Store, logger zerolog.Logger) *Service {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = pagination.DefaultMaxRecords
	}
	return &Service{
		cfg:       cfg,
		validator: validator,
		runner:    runner,
		store:     store,
		logger:    logger,
	}
}

// Fetch serves req. Errors are *ConfigurationError, *endpoint.ValidationError,
// *classify.Error or a context error.
func (s *Service) Fetch(ctx context.Context, req Request) (*Response, error) {
	ep, err := s.resolve(req.Webhook)
	if err != nil {
		return nil, err
	}

	limits := s.limits(req)
	key := cache.KeyFor(ep)
	logger := logging.WithEndpoint(s.logger, string(key))

	if resp, ok := s.fromCache(ctx, key, limits, logger); ok {
		return resp, nil
	}

	flightKey := fmt.Sprintf("%s:%d:%d:%d", key, limits.MaxRecords, limits.MaxRequests, limits.Budget)
	v, err, shared := s.group.Do(flightKey, func() (any, error) {
		// Detached from the caller's cancellation; the budget and per-page
		// timeouts still bound the session.
		return s.session(context.WithoutCancel(ctx), ep, key, limits, logger)
	})
	if shared {
		logger.Debug().Msg("Joined in-flight session")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

// Invalidate drops the cached entry for webhook (or the default endpoint).
func (s *Service) Invalidate(ctx context.Context, webhook string) error {
	if s.store == nil {
		return nil
	}
	ep, err := s.resolve(webhook)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, cache.KeyFor(ep))
}

func (s *Service) resolve(webhook string) (endpoint.Endpoint, error) {
	raw := s.cfg.DefaultEndpoint
	if webhook != "" {
		if s.cfg.AllowOverride {
			raw = webhook
		} else {
			s.logger.Warn().Msg("Ignoring caller webhook, endpoint override is disabled")
		}
	}
	if raw == "" {
		return endpoint.Endpoint{}, &ConfigurationError{Reason: "no webhook URL configured"}
	}
	return s.validator.Validate(raw)
}

func (s *Service) limits(req Request) pagination.Limits {
	limits := pagination.Limits{
		MaxRecords:  s.cfg.MaxRecords,
		MaxRequests: req.MaxRequests,
		Budget:      s.cfg.SessionTimeout,
	}
	if req.MaxRecords > 0 && req.MaxRecords < s.cfg.MaxRecords {
		limits.MaxRecords = req.MaxRecords
	}
	if req.Timeout > 0 && (limits.Budget == 0 || req.Timeout < limits.Budget) {
		limits.Budget = req.Timeout
	}
	return limits.Normalize()
}

// cacheable reports whether limits are the configured defaults. Only those
// sessions are stored, so an entry always holds the full default aggregate.
func (s *Service) cacheable(limits pagination.Limits) bool {
	d := s.limits(Request{})
	return limits.MaxRecords == d.MaxRecords && limits.MaxRequests == d.MaxRequests
}

// fromCache returns a fresh, non-empty cached response cut to what a session
// under limits could return. Entries that do not decode or hold no companies
// are evicted.
func (s *Service) fromCache(ctx context.Context, key cache.Key, limits pagination.Limits, logger zerolog.Logger) (*Response, bool) {
	if s.store == nil {
		return nil, false
	}

	entry, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Msg("Cache read failed, fetching from remote")
		} else {
			logger.Debug().Msg("Cache miss")
		}
		return nil, false
	}

	var p payload
	if err := json.Unmarshal(entry.Data, &p); err != nil || len(p.Companies) == 0 {
		logger.Warn().Err(err).Msg("Evicting unusable cache entry")
		if err := s.store.Delete(ctx, key); err != nil {
			logger.Warn().Err(err).Msg("Cache eviction failed")
		}
		return nil, false
	}

	logger.Debug().
		Int("records", len(p.Companies)).
		Dur("age", entry.Age()).
		Msg("Cache hit")

	if n := limits.RecordCap(); len(p.Companies) > n {
		p.Companies = p.Companies[:n]
		p.Total = n
		p.Cached = true
		resp, err := encode(p)
		if err != nil {
			logger.Warn().Err(err).Msg("Re-encoding truncated cache entry failed")
			return nil, false
		}
		return resp, true
	}

	return &Response{
		Companies: p.Companies,
		Total:     p.Total,
		Cached:    true,
		Payload:   entry.Data,
	}, true
}

func (s *Service) session(ctx context.Context, ep endpoint.Endpoint, key cache.Key, limits pagination.Limits, logger zerolog.Logger) (*Response, error) {
	result, err := s.runner.Run(ctx, ep, limits)
	if err != nil {
		return nil, err
	}

	p := payload{
		Companies: result.Records,
		Total:     len(result.Records),
	}
	if p.Companies == nil {
		p.Companies = []client.Record{}
	}

	if result.Partial() {
		p.Partial = true
		p.Warning = result.Err.UserMessage()
		return encode(p)
	}

	if len(p.Companies) == 0 || s.store == nil || !s.cacheable(limits) {
		return encode(p)
	}

	p.Cached = true
	resp, err := encode(p)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Set(ctx, key, resp.Payload); err != nil {
		logger.Warn().Err(err).Msg("Cache write failed")
		p.Cached = false
		return encode(p)
	}

	logger.Debug().Int("records", p.Total).Msg("Cache stored")
	return resp, nil
}

func encode(p payload) (*Response, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return &Response{
		Companies: p.Companies,
		Total:     p.Total,
		Cached:    p.Cached,
		Partial:   p.Partial,
		Warning:   p.Warning,
		Payload:   data,
	}, nil
}
