package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/crm-company-cache/pkg/ratelimit"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// SessionCookie identifies a caller across requests.
const SessionCookie = "crm_session"

// RequestIDHeader carries the per-request id.
const RequestIDHeader = "X-Request-Id"

// requestLog assigns a request id and logs every request once it completes.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		w.Header().Set(RequestIDHeader, id)

		logger := s.logger.With().Str("request_id", id).Logger()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context())))

		event := logger.Info()
		if ww.Status() >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// cors mirrors the caller's Origin and allows GET only.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		} else {
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

// cooldownGate admits at most one request per caller per cooldown window.
// Limiter backend failures are logged and the request is admitted.
func (s *Server) cooldownGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := s.callerID(w, r)

		err := s.limiter.Allow(r.Context(), caller)
		var rlErr *ratelimit.RateLimitError
		switch {
		case err == nil:
		case errors.As(err, &rlErr):
			s.logger.Warn().
				Str("caller", caller).
				Dur("retry_after", rlErr.RetryAfter).
				Msg("Request rejected by cooldown")
			w.Header().Set("Retry-After", strconv.Itoa(rlErr.RetryAfterSeconds()))
			writeError(w, http.StatusTooManyRequests, fmt.Sprintf(s.catalog.Templates.RateLimited, s.cooldownSeconds()))
			return
		default:
			s.logger.Error().Err(err).Str("caller", caller).Msg("Cooldown check failed, admitting request")
		}

		next.ServeHTTP(w, r)
	})
}

// callerID returns the session cookie value. Callers without one are issued
// a new cookie and identified by remote IP for this request.
func (s *Server) callerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return "session:" + c.Value
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    uuid.NewString(),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return "ip:" + remoteIP(r)
}

func (s *Server) cooldownSeconds() int {
	secs := int((s.cooldown + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
