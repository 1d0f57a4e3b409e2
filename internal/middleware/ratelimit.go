// Package middleware provides the HTTP middleware used by the catalog API.
package middleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per client IP with a token bucket.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per
// client with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

func (l *RateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = l.now()
	return c.limiter
}

// Clients returns the number of tracked clients.
func (l *RateLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Sweep forgets clients idle for longer than maxIdle and returns how many
// were removed.
func (l *RateLimiter) Sweep(maxIdle time.Duration) int {
	cutoff := l.now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
			n++
		}
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (l *RateLimiter) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep(maxIdle)
		}
	}
}

// Handler wraps next. Rejected requests get 429 with a Retry-After header.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	limitHeader := strconv.Itoa(int(math.Ceil(float64(l.limit))))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lim := l.get(clientIP(r))
		w.Header().Set("X-RateLimit-Limit", limitHeader)

		if !lim.Allow() {
			retry := 1
			if l.limit > 0 {
				retry = int(math.Ceil(1 / float64(l.limit)))
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code":    http.StatusTooManyRequests,
				"message": "rate limit exceeded",
			})
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, int(lim.Tokens()))))
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
