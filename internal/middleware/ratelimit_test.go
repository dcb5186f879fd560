package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientIPIgnoresForwardedWithoutTrustedProxy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 10, time.Minute)
	req := httptest.NewRequest("GET", "http://localhost", nil)
	req.RemoteAddr = "192.0.2.10:54321"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")

	got := rl.clientIP(req)
	if got != "192.0.2.10" {
		t.Fatalf("expected direct remote IP, got %q", got)
	}
}

func TestClientIPUsesNearestUntrustedForwardedHop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 10, time.Minute)
	rl.SetTrustedProxies([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "http://localhost", nil)
	req.RemoteAddr = "10.1.2.3:44321"
	req.Header.Set("X-Forwarded-For", "198.51.100.66, 203.0.113.10, 10.1.2.3")

	got := rl.clientIP(req)
	if got != "203.0.113.10" {
		t.Fatalf("expected nearest untrusted forwarded hop, got %q", got)
	}
}

func TestClientIPFallsBackToOldestWhenAllForwardedTrusted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 10, time.Minute)
	rl.SetTrustedProxies([]string{"10.0.0.0/8"})

	req := httptest.NewRequest("GET", "http://localhost", nil)
	req.RemoteAddr = "10.1.2.3:44321"
	req.Header.Set("X-Forwarded-For", "10.9.9.9, 10.2.2.2")

	got := rl.clientIP(req)
	if got != "10.9.9.9" {
		t.Fatalf("expected oldest forwarded hop when all are trusted, got %q", got)
	}
}

func TestRateLimiterBlocksAboveLimitWithinWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 3, time.Minute)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "http://localhost/ws", nil)
		req.RemoteAddr = "192.0.2.10:1000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status = %d, want 204", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest("GET", "http://localhost/ws", nil)
	req.RemoteAddr = "192.0.2.10:1000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestRateLimiterTracksAddressesIndependently(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 1, time.Minute)

	if !rl.allow("192.0.2.10") {
		t.Fatal("first request from first address should pass")
	}
	if rl.allow("192.0.2.10") {
		t.Fatal("second request from first address should be blocked")
	}
	if !rl.allow("192.0.2.11") {
		t.Fatal("other address must have its own budget")
	}
}
