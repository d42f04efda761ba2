package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cutemo0953/MIRS-v2.0-single-station-sub000/internal/platform/cache"
)

// RateLimiter is a per-key sliding window limiter, adapted from the
// gateway's request rate limiter to pairing-code exchange: 5 attempts
// per 60-second window, keyed on remote IP rather than API key. When a
// shared cache is configured, the window count is additionally checked
// against Redis so multiple station API workers agree on one counter;
// with no cache configured it degrades to the in-process map alone.
type RateLimiter struct {
	logger  zerolog.Logger
	limit   int
	window  time.Duration
	mu      sync.Mutex
	windows map[string]*slidingWindow
	shared  *cache.Client
}

type slidingWindow struct {
	attempts  []time.Time
	lastClean time.Time
}

// NewRateLimiter constructs a limiter bound to limit attempts per
// window. shared may be nil.
func NewRateLimiter(logger zerolog.Logger, limit int, window time.Duration, shared *cache.Client) *RateLimiter {
	return &RateLimiter{
		logger:  logger,
		limit:   limit,
		window:  window,
		windows: make(map[string]*slidingWindow),
		shared:  shared,
	}
}

// Allow reports whether key may proceed, the attempts remaining, and
// when the window resets.
func (rl *RateLimiter) Allow(key string) (allowed bool, remaining int, resetAt time.Time) {
	if rl.shared != nil {
		if ok := rl.allowShared(key); !ok {
			rl.logger.Warn().Str("key", redactKey(key)).Msg("pairing rate limit exceeded (shared counter)")
			return false, 0, time.Now().Add(rl.window)
		}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)
	resetAt = now.Add(rl.window)

	sw, exists := rl.windows[key]
	if !exists {
		sw = &slidingWindow{attempts: make([]time.Time, 0, rl.limit), lastClean: now}
		rl.windows[key] = sw
	}

	if now.Sub(sw.lastClean) > rl.window/6 {
		valid := make([]time.Time, 0, len(sw.attempts))
		for _, t := range sw.attempts {
			if t.After(windowStart) {
				valid = append(valid, t)
			}
		}
		sw.attempts = valid
		sw.lastClean = now
	}

	count := 0
	for _, t := range sw.attempts {
		if t.After(windowStart) {
			count++
		}
	}

	remaining = rl.limit - count
	if remaining <= 0 {
		if len(sw.attempts) > 0 {
			resetAt = sw.attempts[0].Add(rl.window)
		}
		rl.logger.Warn().Str("key", redactKey(key)).Int("limit", rl.limit).Msg("pairing rate limit exceeded")
		return false, 0, resetAt
	}

	sw.attempts = append(sw.attempts, now)
	return true, remaining - 1, resetAt
}

// Cleanup removes stale per-key windows. Call periodically from a
// background sweeper.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-2 * rl.window)
	for key, sw := range rl.windows {
		if len(sw.attempts) == 0 || sw.attempts[len(sw.attempts)-1].Before(cutoff) {
			delete(rl.windows, key)
		}
	}
}

// allowShared increments the coordinated Redis counter for key and
// reports whether it is still within limit. A Redis error is treated
// as "allow" — the shared counter is an enhancement, not a dependency
// the pairing flow can be taken down by.
func (rl *RateLimiter) allowShared(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	count, err := rl.shared.IncrWithExpiry(ctx, "pairing_rl:"+key, rl.window)
	if err != nil {
		rl.logger.Warn().Err(err).Msg("shared rate limit counter unavailable, falling back to local window")
		return true
	}
	return count <= int64(rl.limit)
}

func redactKey(key string) string {
	if len(key) <= 4 {
		return "***"
	}
	return key[:4] + "..."
}
