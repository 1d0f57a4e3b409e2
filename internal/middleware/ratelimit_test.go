package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func get(h http.Handler, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/files", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	h := NewRateLimiter(100, 10).Handler(okHandler())

	for range 5 {
		rec := get(h, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	h := NewRateLimiter(0.5, 2).Handler(okHandler())

	for range 2 {
		require.Equal(t, http.StatusOK, get(h, nil).Code)
	}

	rec := get(h, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.InDelta(t, float64(429), body["code"], 0.001)
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimiter_PerClient(t *testing.T) {
	h := NewRateLimiter(0.5, 1).Handler(okHandler())
	from := func(ip string) func(*http.Request) {
		return func(r *http.Request) { r.RemoteAddr = ip + ":5555" }
	}

	assert.Equal(t, http.StatusOK, get(h, from("10.0.0.1")).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(h, from("10.0.0.1")).Code)
	assert.Equal(t, http.StatusOK, get(h, from("10.0.0.2")).Code)
}

func TestRateLimiter_Sweep(t *testing.T) {
	l := NewRateLimiter(10, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	h := l.Handler(okHandler())
	get(h, func(r *http.Request) { r.RemoteAddr = "10.0.0.1:1" })
	now = now.Add(time.Minute)
	get(h, func(r *http.Request) { r.RemoteAddr = "10.0.0.2:1" })
	require.Equal(t, 2, l.Clients())

	assert.Equal(t, 1, l.Sweep(30*time.Second))
	assert.Equal(t, 1, l.Clients())
}

func TestRateLimiter_RunSweeperStops(t *testing.T) {
	l := NewRateLimiter(10, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.RunSweeper(ctx, time.Millisecond, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*http.Request)
		want   string
	}{
		{"remote addr", func(r *http.Request) { r.RemoteAddr = "192.0.2.1:1234" }, "192.0.2.1"},
		{"forwarded first hop", func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
		}, "203.0.113.7"},
		{"real ip", func(r *http.Request) { r.Header.Set("X-Real-IP", "198.51.100.2") }, "198.51.100.2"},
		{"bare remote addr", func(r *http.Request) { r.RemoteAddr = "pipe" }, "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.mutate(req)
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
