// Package server exposes the company list over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/crm-company-cache/pkg/classify"
	"github.com/Sternrassler/crm-company-cache/pkg/companies"
	"github.com/Sternrassler/crm-company-cache/pkg/endpoint"
	"github.com/Sternrassler/crm-company-cache/pkg/metrics"
	"github.com/Sternrassler/crm-company-cache/pkg/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// CompaniesPath is the company list route.
const CompaniesPath = "/api/companies"

// Query parameters accepted on CompaniesPath.
const (
	ParamWebhook     = "webhook"
	ParamMax         = "max"
	ParamMaxRequests = "max_requests"
	ParamTimeout     = "timeout"
)

// Fetcher serves company list requests. *companies.Service implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req companies.Request) (*companies.Response, error)
}

// Pinger reports backend health for /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds server dependencies and settings.
type Config struct {
	Fetcher Fetcher

	// Limiter enforces the per-caller cooldown. Nil admits everything.
	Limiter ratelimit.Limiter

	// Cooldown is quoted in the 429 message.
	Cooldown time.Duration

	// Catalog supplies the user-facing messages. Nil means Russian.
	Catalog *classify.Catalog

	// Ready is pinged by /ready. Nil means always ready.
	Ready Pinger

	// SecureCookie marks the session cookie Secure.
	SecureCookie bool

	Logger zerolog.Logger
}

// Server is the HTTP front of the company service.
type Server struct {
	fetcher      Fetcher
	limiter      ratelimit.Limiter
	cooldown     time.Duration
	catalog      *classify.Catalog
	ready        Pinger
	secureCookie bool
	logger       zerolog.Logger
}

// New creates a server.
func New(cfg Config) *Server {
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.Nop{}
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = ratelimit.DefaultCooldown
	}
	if cfg.Catalog == nil {
		cfg.Catalog = classify.Russian()
	}
	return &Server{
		fetcher:      cfg.Fetcher,
		limiter:      cfg.Limiter,
		cooldown:     cfg.Cooldown,
		catalog:      cfg.Catalog,
		ready:        cfg.Ready,
		secureCookie: cfg.SecureCookie,
		logger:       cfg.Logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/health", handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route(CompaniesPath, func(r chi.Router) {
		// Cooldown and CORS run before method routing so that rejected
		// methods get both.
		r.Use(s.cooldownGate)
		r.Use(cors)
		r.MethodNotAllowed(s.handleMethodNotAllowed)
		r.Get("/", s.handleCompanies)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "cache backend unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "READY")
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, s.catalog.Templates.MethodNotAllowed)
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	req, param, ok := parseRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf(s.catalog.Templates.InvalidParameter, param))
		return
	}

	resp, err := s.fetcher.Fetch(r.Context(), req)
	if err != nil {
		s.writeFetchError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.Payload); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write response")
	}
}

// parseRequest reads the query. On a bad value it returns the offending
// parameter name.
func parseRequest(r *http.Request) (companies.Request, string, bool) {
	q := r.URL.Query()
	req := companies.Request{Webhook: q.Get(ParamWebhook)}

	var ok bool
	if req.MaxRecords, ok = positiveInt(q.Get(ParamMax)); !ok {
		return req, ParamMax, false
	}
	if req.MaxRequests, ok = positiveInt(q.Get(ParamMaxRequests)); !ok {
		return req, ParamMaxRequests, false
	}
	secs, ok := positiveInt(q.Get(ParamTimeout))
	if !ok {
		return req, ParamTimeout, false
	}
	req.Timeout = time.Duration(secs) * time.Second
	return req, "", true
}

// positiveInt parses an optional positive integer; "" yields 0.
func positiveInt(v string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// writeFetchError maps service errors to status codes. Only catalog
// messages reach the caller; diagnostics stay in the log.
func (s *Server) writeFetchError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *endpoint.ValidationError
		cerr *companies.ConfigurationError
		kerr *classify.Error
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, fmt.Sprintf(s.catalog.Templates.InvalidEndpoint, verr.Reason))
	case errors.As(err, &cerr):
		s.logger.Error().Err(err).Msg("Service is not configured")
		writeError(w, http.StatusInternalServerError, s.catalog.Templates.NotConfigured)
	case errors.As(err, &kerr):
		writeError(w, http.StatusBadGateway, kerr.UserMessage())
	default:
		if r.Context().Err() != nil {
			// The caller is gone; nobody reads the body.
			return
		}
		s.logger.Error().Err(err).Msg("Unclassified fetch failure")
		writeError(w, http.StatusBadGateway, s.catalog.Templates.Upstream)
	}
}

// writeError writes {"error": message}.
func writeError(w http.ResponseWriter, code int, message string) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(map[string]string{"error": message})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

// remoteIP strips the port from r.RemoteAddr.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
