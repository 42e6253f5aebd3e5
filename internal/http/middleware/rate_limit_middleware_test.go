package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, "test")
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/license/validate", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/license/validate", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over limit, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on denial")
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, "test")
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.RemoteAddr = "10.0.0.1:5000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, first)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/", nil)
	second.RemoteAddr = "10.0.0.2:5000"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, second)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for different client, got %d", rr.Code)
	}
}

func TestLocalFixedWindowResets(t *testing.T) {
	lim := NewLocalFixedWindowLimiter().(*localFixedWindowLimiter)
	policy := RateLimitPolicy{Limit: 1, Window: 50 * time.Millisecond}

	d, _ := lim.Allow(context.Background(), "k", policy)
	if !d.Allowed {
		t.Fatal("first call should be allowed")
	}
	d, _ = lim.Allow(context.Background(), "k", policy)
	if d.Allowed {
		t.Fatal("second call inside window should be denied")
	}

	lim.store["k"].windowStart = time.Now().Add(-policy.Window)
	d, _ = lim.Allow(context.Background(), "k", policy)
	if !d.Allowed {
		t.Fatal("call after window reset should be allowed")
	}
}

func TestRateLimitHeaders(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute, "test")
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("limit header = %q, want 5", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Fatalf("remaining header = %q, want 4", got)
	}
	if rr.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatal("expected reset header")
	}
}
