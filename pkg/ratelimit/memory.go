package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// pruneEvery bounds how often idle callers are swept.
const pruneEvery = 256

// MemoryLimiter keeps one token bucket per caller in process memory. Each
// bucket holds a single token refilled once per cooldown.
type MemoryLimiter struct {
	cooldown time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	callers map[string]*caller
	calls   int
}

type caller struct {
	limiter *rate.Limiter
	last    time.Time
}

// NewMemoryLimiter creates a limiter; cooldown <= 0 means DefaultCooldown.
func NewMemoryLimiter(cooldown time.Duration, logger zerolog.Logger) *MemoryLimiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &MemoryLimiter{
		cooldown: cooldown,
		logger:   logger,
		now:      time.Now,
		callers:  make(map[string]*caller),
	}
}

// Allow admits caller unless it started a session within the cooldown.
func (m *MemoryLimiter) Allow(ctx context.Context, key string) error {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls%pruneEvery == 0 {
		m.prune(now)
	}

	c, ok := m.callers[key]
	if !ok {
		c = &caller{limiter: rate.NewLimiter(rate.Every(m.cooldown), 1)}
		m.callers[key] = c
	}

	if !c.limiter.AllowN(now, 1) {
		retry := c.last.Add(m.cooldown).Sub(now)
		rateLimitRejectionsTotal.WithLabelValues("memory").Inc()
		m.logger.Debug().
			Str("caller", key).
			Dur("retry_after", retry).
			Msg("Session rejected by cooldown")
		return &RateLimitError{Caller: key, RetryAfter: retry}
	}

	c.last = now
	return nil
}

// Len returns the number of tracked callers.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.callers)
}

// prune drops callers whose bucket has refilled. Caller must hold mu.
func (m *MemoryLimiter) prune(now time.Time) {
	for key, c := range m.callers {
		if now.Sub(c.last) >= m.cooldown {
			delete(m.callers, key)
		}
	}
}
