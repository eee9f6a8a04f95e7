package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/verdant/internal/redis"
)

// MockLimiter allows the first `allow` requests per key.
type MockLimiter struct {
	allow int
	err   error
	seen  map[string]int
}

func (m *MockLimiter) Allow(ctx context.Context, key string) (*redis.RateLimitResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.seen == nil {
		m.seen = make(map[string]int)
	}
	m.seen[key]++
	n := m.seen[key]
	return &redis.RateLimitResult{
		Allowed:   n <= m.allow,
		Remaining: max(0, m.allow-n),
		ResetAt:   time.Now().Add(time.Minute),
	}, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{"X-Forwarded-For", "1.2.3.4", "", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"X-Forwarded-For chain", "1.2.3.4, 10.0.0.1", "", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"X-Real-IP", "", "1.2.3.4", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"RemoteAddr fallback", "", "", "5.6.7.8:1234", "ip:5.6.7.8"},
		{"RemoteAddr without port", "", "", "5.6.7.8", "ip:5.6.7.8"},
		{"IPv6 RemoteAddr", "", "", "[::1]:1234", "ip:::1"},
		{"Forwarded takes precedence", "1.1.1.1", "2.2.2.2", "3.3.3.3:1234", "ip:1.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			req.RemoteAddr = tt.remoteAddr

			result := IPKeyFunc(req)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRateLimitMiddleware_NoLimiter(t *testing.T) {
	wrapped := RateLimitMiddleware(nil, 0, nil, IPKeyFunc)(okHandler())

	req := httptest.NewRequest("POST", "/v1/reminders/run", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_BlocksOverLimit(t *testing.T) {
	limiter := &MockLimiter{allow: 2}
	wrapped := RateLimitMiddleware(limiter, 2, zap.NewNop(), IPKeyFunc)(okHandler())

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/v1/reminders/run", nil)
		req.RemoteAddr = "9.9.9.9:5555"
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)

		if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("expected X-RateLimit-Limit 2, got %q", got)
		}
		if i == 2 {
			if rec.Header().Get("Retry-After") == "" {
				t.Error("expected Retry-After on rejected request")
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("expected problem+json, got %q", ct)
			}
		}
	}

	expected := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range expected {
		if statuses[i] != expected[i] {
			t.Errorf("request %d: expected %d, got %d", i, expected[i], statuses[i])
		}
	}
	if limiter.seen["ip:9.9.9.9"] != 3 {
		t.Errorf("expected limiter keyed by ip, got %v", limiter.seen)
	}
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	limiter := &MockLimiter{err: errors.New("redis down")}
	wrapped := RateLimitMiddleware(limiter, 1, zap.NewNop(), IPKeyFunc)(okHandler())

	req := httptest.NewRequest("POST", "/v1/reminders/run", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 when limiter fails, got %d", rec.Code)
	}
}
