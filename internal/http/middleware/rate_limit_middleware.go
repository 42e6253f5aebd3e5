package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/quantumfx/ea-license-service/internal/http/response"
	"github.com/quantumfx/ea-license-service/internal/observability"
)

// The per-IP limiter protects the HTTP surface from floods. It is
// independent of the per-license validation window enforced in the
// service layer.

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	scope   string
	keyFunc func(r *http.Request) string
}

type localFixedWindowLimiter struct {
	mu      sync.Mutex
	store   map[string]*windowState
	cleanup time.Time
}

type windowState struct {
	windowStart time.Time
	count       int
}

func NewLocalFixedWindowLimiter() Limiter {
	return &localFixedWindowLimiter{
		store:   make(map[string]*windowState),
		cleanup: time.Now().Add(time.Minute),
	}
}

func NewRateLimiter(limit int, window time.Duration, scope string) *RateLimiter {
	return &RateLimiter{
		limiter: NewLocalFixedWindowLimiter(),
		policy:  normalizePolicy(RateLimitPolicy{Limit: limit, Window: window}),
		scope:   scope,
		keyFunc: clientIPKey,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			decision, err := rl.limiter.Allow(r.Context(), key, rl.policy)
			if err != nil {
				// The local limiter never errors; a distributed
				// backend failing closed is the safe default here.
				observability.RecordHTTPRateLimitDecision(r.Context(), rl.scope, "backend_error")
				writeRateLimitHeaders(w.Header(), rl.policy.Limit, 0, time.Now().Add(rl.policy.Window))
				w.Header().Set("Retry-After", retryAfterHeader(rl.policy.Window))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.policy.Limit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordHTTPRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordHTTPRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *localFixedWindowLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.cleanup) {
		for k, v := range rl.store {
			if now.Sub(v.windowStart) > 2*policy.Window {
				delete(rl.store, k)
			}
		}
		rl.cleanup = now.Add(policy.Window)
	}

	state, ok := rl.store[key]
	if !ok || now.Sub(state.windowStart) >= policy.Window {
		state = &windowState{windowStart: now}
		rl.store[key] = state
	}

	resetAt := state.windowStart.Add(policy.Window)
	if state.count >= policy.Limit {
		retryAfter := resetAt.Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retryAfter, Remaining: 0, ResetAt: resetAt}, nil
	}

	state.count++
	return Decision{Allowed: true, Remaining: policy.Limit - state.count, ResetAt: resetAt}, nil
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}

func writeRateLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	if remaining < 0 {
		remaining = 0
	}
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.Limit <= 0 {
		policy.Limit = 1
	}
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	return policy
}
