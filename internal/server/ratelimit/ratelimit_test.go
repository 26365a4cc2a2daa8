package ratelimit

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced by hand so refills are deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, config *Config) (*Limiter, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	limiter := NewLimiter(config)
	limiter.now = clock.Now
	t.Cleanup(limiter.Stop)
	return limiter, clock
}

func TestTokenBucket(t *testing.T) {
	start := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	bucket := newTokenBucket(3, 1.0, start)

	for i := 0; i < 3; i++ {
		allowed, remaining, _ := bucket.take(start)
		require.True(t, allowed, "request %d", i+1)
		assert.Equal(t, 2-i, remaining)
	}

	allowed, remaining, full := bucket.take(start)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, start.Add(3*time.Second), full)

	// One second refills one token, and only one.
	later := start.Add(time.Second)
	allowed, _, _ = bucket.take(later)
	assert.True(t, allowed)
	allowed, _, _ = bucket.take(later)
	assert.False(t, allowed)

	// A long pause never overfills.
	_, remaining, full = bucket.take(later.Add(time.Hour))
	assert.Equal(t, 2, remaining)
	assert.Equal(t, later.Add(time.Hour+time.Second), full)
}

func TestTokenBucket_ClockSkewDoesNotDrain(t *testing.T) {
	start := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	bucket := newTokenBucket(2, 1.0, start)

	allowed, remaining, _ := bucket.take(start.Add(-time.Minute))
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)
}

func TestLimiter_DefaultLimit(t *testing.T) {
	limiter, clock := newTestLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  10,
		DefaultWindow: time.Minute,
	})

	for i := 0; i < 10; i++ {
		allowed, info := limiter.Allow("203.0.113.7", "/output/doc.pdf", http.MethodGet)
		require.True(t, allowed, "request %d", i+1)
		assert.Equal(t, 10, info.Limit)
		assert.Equal(t, 9-i, info.Remaining)
	}

	allowed, info := limiter.Allow("203.0.113.7", "/output/doc.pdf", http.MethodGet)
	assert.False(t, allowed)
	assert.Equal(t, 0, info.Remaining)
	assert.InDelta(t, float64(6*time.Second), float64(info.RetryAfter), float64(time.Millisecond), "10 per minute refills one token every 6s")
	assert.WithinDuration(t, clock.Now().Add(time.Minute), info.ResetTime, time.Millisecond)

	clock.Advance(7 * time.Second)
	allowed, _ = limiter.Allow("203.0.113.7", "/output/doc.pdf", http.MethodGet)
	assert.True(t, allowed)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 1, DefaultWindow: time.Minute})

	allowed, _ := limiter.Allow("203.0.113.7", "/api/history", http.MethodGet)
	require.True(t, allowed)
	allowed, _ = limiter.Allow("203.0.113.7", "/api/history", http.MethodGet)
	require.False(t, allowed)

	allowed, _ = limiter.Allow("203.0.113.8", "/api/history", http.MethodGet)
	assert.True(t, allowed, "another client")
	allowed, _ = limiter.Allow("203.0.113.7", "/output/doc.pdf", http.MethodGet)
	assert.True(t, allowed, "another endpoint")
}

func TestLimiter_Policy(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		clientID  string
		path      string
		wantAllow bool
	}{
		{
			name:      "disabled",
			config:    &Config{Enabled: false},
			clientID:  "203.0.113.7",
			path:      "/convert",
			wantAllow: true,
		},
		{
			name:      "whitelisted",
			config:    &Config{Enabled: true, DefaultLimit: 1, DefaultWindow: time.Minute, Whitelist: map[string]bool{"10.0.0.1": true}},
			clientID:  "10.0.0.1",
			path:      "/convert",
			wantAllow: true,
		},
		{
			name:      "blacklisted",
			config:    &Config{Enabled: true, DefaultLimit: 1000, DefaultWindow: time.Minute, Blacklist: map[string]bool{"192.0.2.1": true}},
			clientID:  "192.0.2.1",
			path:      "/convert",
			wantAllow: false,
		},
		{
			name:      "health is never counted",
			config:    &Config{Enabled: true, DefaultLimit: 1, DefaultWindow: time.Minute},
			clientID:  "203.0.113.7",
			path:      "/health",
			wantAllow: true,
		},
		{
			name:      "metrics is never counted",
			config:    &Config{Enabled: true, DefaultLimit: 1, DefaultWindow: time.Minute},
			clientID:  "203.0.113.7",
			path:      "/metrics",
			wantAllow: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, _ := newTestLimiter(t, tt.config)
			method := http.MethodPost
			if tt.path == "/health" || tt.path == "/metrics" {
				method = http.MethodGet
			}
			for i := 0; i < 5; i++ {
				allowed, info := limiter.Allow(tt.clientID, tt.path, method)
				assert.Equal(t, tt.wantAllow, allowed, "request %d", i+1)
				assert.Zero(t, info.Limit, "uncounted requests report no limit")
			}
		})
	}
}

func TestLimiter_ConvertBurst(t *testing.T) {
	limiter, clock := newTestLimiter(t, DefaultConfig())

	// Every conversion route shares the same policy but keeps its own bucket.
	for _, path := range []string{"/convert", "/api/convert", "/api/convert/stream"} {
		for i := 0; i < 5; i++ {
			allowed, info := limiter.Allow("203.0.113.7", path, http.MethodPost)
			require.True(t, allowed, "%s burst request %d", path, i+1)
			assert.Equal(t, 30, info.Limit)
		}
		allowed, info := limiter.Allow("203.0.113.7", path, http.MethodPost)
		assert.False(t, allowed, path)
		assert.InDelta(t, float64(2*time.Minute), float64(info.RetryAfter), float64(time.Millisecond), "30 per hour refills every 2m")
	}

	clock.Advance(3 * time.Minute)
	allowed, _ := limiter.Allow("203.0.113.7", "/convert", http.MethodPost)
	assert.True(t, allowed)

	// Reads fall back to the default limit.
	allowed, info := limiter.Allow("203.0.113.7", "/api/history", http.MethodGet)
	assert.True(t, allowed)
	assert.Equal(t, 1000, info.Limit)
}

func TestLimiter_Concurrent(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 100, DefaultWindow: time.Hour})

	var wg sync.WaitGroup
	var allowed atomic.Int64
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow("203.0.113.7", "/convert", http.MethodPost); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), allowed.Load())
}

func TestLimiter_CleanupBuckets(t *testing.T) {
	limiter, clock := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute})

	for i := 0; i < 10; i++ {
		allowed, _ := limiter.Allow(fmt.Sprintf("203.0.113.%d", i+1), "/api/history", http.MethodGet)
		require.True(t, allowed)
	}

	assert.Equal(t, 0, limiter.cleanupBuckets(clock.Now().Add(-time.Hour)))
	assert.Equal(t, 10, limiter.cleanupBuckets(clock.Now().Add(time.Second)))

	// A removed bucket starts full again.
	allowed, info := limiter.Allow("203.0.113.1", "/api/history", http.MethodGet)
	assert.True(t, allowed)
	assert.Equal(t, 9, info.Remaining)
}

func TestLimiter_StopTwice(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 1, DefaultWindow: time.Minute, CleanupInterval: time.Millisecond})
	limiter.Stop()
	limiter.Stop()
}

func TestNewLimiter_NilConfig(t *testing.T) {
	limiter, _ := newTestLimiter(t, nil)

	allowed, info := limiter.Allow("203.0.113.7", "/output/doc.pdf", http.MethodGet)
	assert.True(t, allowed)
	assert.Equal(t, 1000, info.Limit)
}

func TestMatchEndpoint(t *testing.T) {
	configs := append(DefaultEndpointConfigs(),
		EndpointConfig{Path: "/api/history/clear/", Method: http.MethodDelete, Limit: 5, Window: time.Hour},
	)

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodPost, "/convert", "/convert"},
		{http.MethodPost, "/api/convert", "/api/convert"},
		{http.MethodPost, "/api/convert/stream", "/api/convert/stream"},
		{http.MethodPost, "/update-metadata", "/update-metadata"},
		{http.MethodDelete, "/api/history/delete/123", "/api/history/"},
		{http.MethodDelete, "/api/history/clear/abc", "/api/history/clear/"},
		{http.MethodGet, "/health", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			got := MatchEndpoint(tt.path, tt.method, configs)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Path)
		})
	}

	assert.Nil(t, MatchEndpoint("/api/history", http.MethodGet, configs))
	assert.Nil(t, MatchEndpoint("/convert", http.MethodGet, configs))
}

func TestLoadConfig(t *testing.T) {
	env := map[string]string{
		"RATE_LIMIT_DEFAULT_LIMIT":  "50",
		"RATE_LIMIT_DEFAULT_WINDOW": "30s",
		"RATE_LIMIT_WHITELIST":      "10.0.0.1, 10.0.0.2",
		"RATE_LIMIT_BLACKLIST":      "192.0.2.1",
		"RATE_LIMIT_CONVERT_LIMIT":  "2",
		"RATE_LIMIT_CONVERT_WINDOW": "10m",
	}
	config := LoadConfig(func(key string) string { return env[key] })

	require.True(t, config.Enabled)
	assert.Equal(t, 50, config.DefaultLimit)
	assert.Equal(t, 30*time.Second, config.DefaultWindow)
	assert.True(t, config.Whitelist["10.0.0.2"])
	assert.True(t, config.Blacklist["192.0.2.1"])

	for _, path := range []string{"/convert", "/api/convert", "/api/convert/stream"} {
		ec := MatchEndpoint(path, http.MethodPost, config.EndpointConfigs)
		require.NotNil(t, ec, path)
		assert.Equal(t, 2, ec.Limit, path)
		assert.Equal(t, 10*time.Minute, ec.Window, path)
		assert.Equal(t, 2, ec.Burst, "burst never exceeds the limit")
	}

	ec := MatchEndpoint("/update-metadata", http.MethodPost, config.EndpointConfigs)
	require.NotNil(t, ec)
	assert.Equal(t, 60, ec.Limit)
}

func TestLoadConfig_Disabled(t *testing.T) {
	config := LoadConfig(func(key string) string {
		if key == "RATE_LIMIT_ENABLED" {
			return "false"
		}
		return ""
	})
	assert.False(t, config.Enabled)
}

func TestLoadConfig_InvalidValuesKeepDefaults(t *testing.T) {
	config := LoadConfig(func(key string) string {
		switch key {
		case "RATE_LIMIT_DEFAULT_LIMIT", "RATE_LIMIT_DEFAULT_WINDOW", "RATE_LIMIT_ENABLED":
			return "lots"
		}
		return ""
	})
	assert.True(t, config.Enabled)
	assert.Equal(t, 1000, config.DefaultLimit)
	assert.Equal(t, time.Minute, config.DefaultWindow)
}
