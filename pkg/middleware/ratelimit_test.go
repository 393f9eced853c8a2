package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgkit/pkg/orgs"
)

func smallConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute, BurstSize: 1}
}

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(smallConfig()).WithClock(clock)

	for i := 0; i < 4; i++ {
		result, err := rl.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d", i)
		assert.Equal(t, 3-i, result.Remaining)
	}

	result, err := rl.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	other, err := rl.Allow(ctx, "user:2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "buckets are per key")

	// 3 per minute refills one token every 20s
	clock.Advance(20 * time.Second)
	result, err = rl.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRateLimiter_RefillIsCapped(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(smallConfig()).WithClock(clock)

	_, _ = rl.Allow(ctx, "k")
	clock.Advance(time.Hour)

	result, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Remaining, "capacity is window plus burst")
}

func TestRateLimiter_Cleanup(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(smallConfig()).WithClock(clock)

	_, _ = rl.Allow(ctx, "old")
	clock.Advance(3 * time.Minute)
	_, _ = rl.Allow(ctx, "fresh")

	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.buckets, "old")
	assert.Contains(t, rl.buckets, "fresh")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:1234", "198.51.100.4"},
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}

func TestRateLimit_Handler(t *testing.T) {
	clock := clockwork.NewFakeClock()
	users := NewRateLimiter(RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}).WithClock(clock)
	anonymous := NewRateLimiter(RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}).WithClock(clock)
	handler := NewRateLimit(users, anonymous, nil).Handler(okHandler)

	t.Run("anonymous by ip", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/pricing", nil)
		req.RemoteAddr = "192.0.2.1:1000"

		w := serveAs(nil, handler, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

		w = serveAs(nil, handler, req)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "60", w.Header().Get("Retry-After"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("authenticated by user", func(t *testing.T) {
		user := &orgs.User{ID: 42}
		req := httptest.NewRequest("GET", "/orgs", nil)
		req.RemoteAddr = "192.0.2.1:1000"

		assert.Equal(t, http.StatusNoContent, serveAs(user, handler, req).Code)
		assert.Equal(t, http.StatusNoContent, serveAs(user, handler, req).Code)
		assert.Equal(t, http.StatusTooManyRequests, serveAs(user, handler, req).Code)
	})
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (RateLimitResult, error) {
	return RateLimitResult{}, errors.New("redis down")
}

func TestRateLimit_LimiterFailure(t *testing.T) {
	m := NewRateLimit(failingLimiter{}, failingLimiter{}, nil)

	w := serveAs(nil, m.Handler(okHandler), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code, "fails open by default")

	m.SetFailOpen(false)
	w = serveAs(nil, m.Handler(okHandler), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDistributedRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	rl := NewDistributedRateLimiter(client, RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "")

	for i := 0; i < 2; i++ {
		result, err := rl.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 1-i, result.Remaining)
	}

	result, err := rl.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Greater(t, result.ResetAfter, time.Duration(0))
	assert.True(t, mr.Exists("ratelimit:user:1"))

	mr.FastForward(time.Minute)
	result, err = rl.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, result.Allowed, "window expired")

	require.NoError(t, rl.Reset(ctx, "user:1"))
	assert.False(t, mr.Exists("ratelimit:user:1"))
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	rl := NewDistributedRateLimiter(client, smallConfig(), "rl")
	_, err := rl.Allow(context.Background(), "user:1")
	assert.Error(t, err)
}
