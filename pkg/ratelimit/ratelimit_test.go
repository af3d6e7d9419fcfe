package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/psantana5/unit-provisioner/pkg/auth"
	"github.com/psantana5/unit-provisioner/pkg/principal"
)

func TestLimiter(t *testing.T) {
	// With rate.NewLimiter(10, 2), the limiter starts with 2 tokens in the bucket
	limiter := NewLimiter(10, 2)

	if !limiter.Allow("test-key") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("test-key") {
		t.Error("Second request should be allowed")
	}
	if limiter.Allow("test-key") {
		t.Error("Third request should be rate limited")
	}
	if !limiter.Allow("other-key") {
		t.Error("Keys must not share a bucket")
	}

	// Wait for token refill (10 req/s = 100ms per token)
	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow("test-key") {
		t.Error("Request after waiting should be allowed")
	}
}

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(10, 2)

	handler := limiter.Middleware(func(r *http.Request) string {
		return "test-key"
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	expected := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i, want := range expected {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))
		if rr.Code != want {
			t.Errorf("Request %d: expected status %d, got %d", i+1, want, rr.Code)
		}
	}
}

func TestCleanupOldLimiters(t *testing.T) {
	limiter := NewLimiter(10, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow("old")
	now = now.Add(time.Hour)
	limiter.Allow("fresh")

	if removed := limiter.CleanupOldLimiters(30 * time.Minute); removed != 1 {
		t.Errorf("Expected 1 removed limiter, got %d", removed)
	}
	if limiter.Size() != 1 {
		t.Errorf("Expected 1 remaining limiter, got %d", limiter.Size())
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name          string
		remoteAddr    string
		xForwardedFor string
		expectedKey   string
	}{
		{
			name:        "Direct connection",
			remoteAddr:  "192.168.1.1:12345",
			expectedKey: "192.168.1.1",
		},
		{
			name:          "Behind proxy",
			remoteAddr:    "127.0.0.1:12345",
			xForwardedFor: "203.0.113.1",
			expectedKey:   "203.0.113.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}

			if key := IPKeyFunc(req); key != tt.expectedKey {
				t.Errorf("Expected key %s, got %s", tt.expectedKey, key)
			}
		})
	}
}

func TestCallerKeyFunc(t *testing.T) {
	req := httptest.NewRequest("POST", "/provision", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if key := CallerKeyFunc(req); key != "ip:10.0.0.1" {
		t.Errorf("Anonymous callers should be keyed by IP, got %s", key)
	}

	caller, _ := principal.FromBytes([]byte{0x01, 0x02})
	ctx := context.WithValue(req.Context(), auth.CallerContextKey, caller)
	if key := CallerKeyFunc(req.WithContext(ctx)); key != "principal:"+caller.String() {
		t.Errorf("Signed callers should be keyed by principal, got %s", key)
	}
}
