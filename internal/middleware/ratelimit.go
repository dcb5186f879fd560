package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter enforces a fixed-window request budget per client IP. Behind
// a reverse proxy the client IP comes from X-Forwarded-For, but only when
// the direct peer is a configured trusted proxy.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration

	proxyIPs  map[string]struct{}
	proxyNets []*net.IPNet
}

type bucket struct {
	start time.Time
	count int
}

func NewRateLimiter(ctx context.Context, limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		limit:    limit,
		window:   window,
		proxyIPs: make(map[string]struct{}),
	}
	go rl.evictLoop(ctx)
	return rl
}

// SetTrustedProxies registers proxy addresses, as plain IPs or CIDR ranges.
// Entries are parsed once here so per-request checks stay cheap.
func (rl *RateLimiter) SetTrustedProxies(proxies []string) {
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(p, "/") {
			if _, ipNet, err := net.ParseCIDR(p); err == nil {
				rl.proxyNets = append(rl.proxyNets, ipNet)
				continue
			}
		}
		if parsed := net.ParseIP(p); parsed != nil {
			rl.proxyIPs[parsed.String()] = struct{}{}
		}
	}
}

func (rl *RateLimiter) isTrustedProxy(ip string) bool {
	if _, ok := rl.proxyIPs[ip]; ok {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, ipNet := range rl.proxyNets {
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}

func (rl *RateLimiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, b := range rl.buckets {
				if time.Since(b.start) > rl.window {
					delete(rl.buckets, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) clientIP(r *http.Request) string {
	remoteIP, ok := canonicalIP(r.RemoteAddr)
	if !ok {
		return r.RemoteAddr
	}

	if !rl.isTrustedProxy(remoteIP) {
		return remoteIP
	}

	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return remoteIP
	}

	parts := strings.Split(forwarded, ",")
	chain := make([]string, 0, len(parts))
	for _, part := range parts {
		if ip, ok := canonicalIP(part); ok {
			chain = append(chain, ip)
		}
	}
	if len(chain) == 0 {
		return remoteIP
	}

	// Walk from the nearest hop outward and stop at the first address not
	// operated by us; anything beyond it is client-controlled.
	for i := len(chain) - 1; i >= 0; i-- {
		if !rl.isTrustedProxy(chain[i]) {
			return chain[i]
		}
	}

	// Every forwarded hop is a trusted proxy; use the oldest one.
	return chain[0]
}

func canonicalIP(raw string) (string, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}

	if host, _, err := net.SplitHostPort(value); err == nil {
		value = strings.TrimSpace(host)
	}
	value = strings.TrimPrefix(value, "[")
	value = strings.TrimSuffix(value, "]")

	parsed := net.ParseIP(value)
	if parsed == nil {
		return "", false
	}
	return parsed.String(), true
}

func (rl *RateLimiter) allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok || now.Sub(b.start) > rl.window {
		rl.buckets[ip] = &bucket{start: now, count: 1}
		return true
	}
	b.count++
	return b.count <= rl.limit
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(rl.clientIP(r)) {
			WriteJSONError(w, "Too many requests. Please try again later.", "RATE_LIMITED", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
