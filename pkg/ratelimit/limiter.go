// Package ratelimit enforces a per-caller cooldown between fetch sessions.
// A caller that starts a session is rejected for the cooldown window that
// follows, whether or not the first session has finished.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultCooldown is the minimum gap between sessions from one caller.
const DefaultCooldown = 2 * time.Second

// RedisKeyPrefix namespaces cooldown markers in Redis.
const RedisKeyPrefix = "crm:cooldown:"

var rateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "crm_rate_limit_rejections_total",
	Help: "Total number of sessions rejected by the caller cooldown",
}, []string{"backend"})

// Limiter admits or rejects a new session for caller. Admission records the
// session start, so the cooldown runs from the moment Allow returns nil.
type Limiter interface {
	Allow(ctx context.Context, caller string) error
}

// RateLimitError is returned when caller is still cooling down.
type RateLimitError struct {
	Caller     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter.Round(time.Millisecond))
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1, for
// the Retry-After header.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Nop admits every session.
type Nop struct{}

func (Nop) Allow(context.Context, string) error { return nil }
