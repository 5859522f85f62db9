package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1}, nil)
	handler := limiter.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/vaults", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesCallers(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1}, nil)
	handler := limiter.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		caller := testCaller(t)
		req := httptest.NewRequest(http.MethodPost, "/v1/positions/deposit", nil)
		req = req.WithContext(context.WithValue(req.Context(), ContextKeyCaller, caller))
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected caller %s to have its own bucket, got %d", caller, res.Code)
		}
	}
}

func TestRateLimiterForwardedFor(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1}, nil)
	handler := limiter.Middleware(okHandler())

	first := httptest.NewRequest(http.MethodGet, "/v1/vaults", nil)
	first.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, first)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/v1/vaults", nil)
	second.Header.Set("X-Forwarded-For", "10.0.0.3")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, second)
	if res.Code != http.StatusOK {
		t.Fatalf("expected distinct client to succeed, got %d", res.Code)
	}
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	limiter.obtainLimiter("ip:a")

	now = now.Add(visitorTTL + time.Second)
	limiter.obtainLimiter("ip:b")
	if _, ok := limiter.visitors["ip:a"]; ok {
		t.Fatalf("expected idle visitor to be swept")
	}
	if len(limiter.visitors) != 1 {
		t.Fatalf("expected one visitor, got %d", len(limiter.visitors))
	}
}
