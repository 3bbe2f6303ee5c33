package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, cfg *Config) (*Limiter, *fakeClock) {
	t.Helper()
	cfg.CleanupInterval = 0
	l := NewLimiter(cfg)
	t.Cleanup(l.Stop)
	clock := &fakeClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	l.now = clock.now
	return l, clock
}

func uploadConfig() *Config {
	return &Config{
		Enabled:       true,
		DefaultLimit:  100,
		DefaultWindow: time.Minute,
		EndpointConfigs: []EndpointConfig{
			{Path: "/documents", Method: "POST", Limit: 6, Window: time.Minute, Burst: 3},
			{Path: "/reviews/", Method: "POST", Limit: 60, Window: time.Minute, Burst: 2},
			{Path: "/health", Method: "GET", Limit: 0},
		},
	}
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter(t, uploadConfig())

	for i := 0; i < 3; i++ {
		allowed, info := l.Allow("10.0.0.1", "/documents", "POST")
		require.True(t, allowed, "request %d within burst", i+1)
		assert.Equal(t, 6, info.Limit)
		assert.Equal(t, 2-i, info.Remaining)
	}

	allowed, info := l.Allow("10.0.0.1", "/documents", "POST")
	assert.False(t, allowed)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, 10*time.Second, info.RetryAfter, "6 per minute refills one token every 10s")
}

func TestLimiter_Refill(t *testing.T) {
	l, clock := newTestLimiter(t, uploadConfig())
	for i := 0; i < 3; i++ {
		l.Allow("c", "/documents", "POST")
	}
	allowed, _ := l.Allow("c", "/documents", "POST")
	require.False(t, allowed)

	clock.advance(10 * time.Second)
	allowed, _ = l.Allow("c", "/documents", "POST")
	assert.True(t, allowed)
	allowed, _ = l.Allow("c", "/documents", "POST")
	assert.False(t, allowed)
}

func TestLimiter_ClientsAndEndpointsIsolated(t *testing.T) {
	l, _ := newTestLimiter(t, uploadConfig())
	for i := 0; i < 3; i++ {
		l.Allow("a", "/documents", "POST")
	}
	allowed, _ := l.Allow("a", "/documents", "POST")
	require.False(t, allowed)

	allowed, _ = l.Allow("b", "/documents", "POST")
	assert.True(t, allowed, "other clients have their own bucket")

	allowed, info := l.Allow("a", "/documents/123", "GET")
	assert.True(t, allowed, "reads fall back to the default limit")
	assert.Equal(t, 100, info.Limit)
}

func TestLimiter_PrefixSharesBucket(t *testing.T) {
	l, _ := newTestLimiter(t, uploadConfig())
	allowed, _ := l.Allow("admin", "/reviews/1/override", "POST")
	require.True(t, allowed)
	allowed, _ = l.Allow("admin", "/reviews/2/override", "POST")
	require.True(t, allowed)
	allowed, _ = l.Allow("admin", "/reviews/3/override", "POST")
	assert.False(t, allowed, "every document under /reviews/ draws from one bucket")
}

func TestLimiter_UnlimitedWhitelistBlacklistDisabled(t *testing.T) {
	cfg := uploadConfig()
	cfg.Whitelist = map[string]bool{"trusted": true}
	cfg.Blacklist = map[string]bool{"banned": true}
	l, _ := newTestLimiter(t, cfg)

	for i := 0; i < 50; i++ {
		allowed, _ := l.Allow("c", "/health", "GET")
		require.True(t, allowed)
		allowed, _ = l.Allow("trusted", "/documents", "POST")
		require.True(t, allowed)
	}
	allowed, _ := l.Allow("banned", "/health", "GET")
	assert.False(t, allowed)

	disabled, _ := newTestLimiter(t, &Config{Enabled: false})
	for i := 0; i < 10; i++ {
		allowed, _ := disabled.Allow("c", "/documents", "POST")
		require.True(t, allowed)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(t, uploadConfig())

	var allowedCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("c", "/documents", "POST"); ok {
				allowedCount.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), allowedCount.Load(), "only the burst is admitted at a single instant")
}

func TestLimiter_EvictIdle(t *testing.T) {
	cfg := uploadConfig()
	cfg.IdleTTL = time.Minute
	l, clock := newTestLimiter(t, cfg)

	for i := 0; i < 5; i++ {
		l.Allow(fmt.Sprintf("client-%d", i), "/documents", "POST")
	}
	clock.advance(30 * time.Second)
	l.Allow("client-0", "/documents", "POST")
	clock.advance(45 * time.Second)

	l.evictIdle()
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.buckets, 1)
}

func TestMatchEndpoint(t *testing.T) {
	configs := uploadConfig().EndpointConfigs

	assert.Equal(t, "/documents", MatchEndpoint("/documents", "POST", configs).Path)
	assert.Equal(t, "/reviews/", MatchEndpoint("/reviews/abc/override", "POST", configs).Path)
	assert.Nil(t, MatchEndpoint("/documents/abc", "POST", configs), "no prefix rule for /documents")
	assert.Nil(t, MatchEndpoint("/reviews", "GET", configs))
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("RATE_LIMIT_DEFAULT_LIMIT", "42")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 10.0.0.2,")
	t.Setenv("RATE_LIMIT_DEFAULT_WINDOW", "bogus")

	cfg := LoadConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 42, cfg.DefaultLimit)
	assert.Equal(t, time.Minute, cfg.DefaultWindow, "invalid values keep the default")
	assert.Equal(t, map[string]bool{"10.0.0.1": true, "10.0.0.2": true}, cfg.Whitelist)
}

func TestNewLimiter_NilConfigAndStopTwice(t *testing.T) {
	l := NewLimiter(nil)
	l.Stop()
	l.Stop()
	allowed, _ := l.Allow("c", "/documents", "POST")
	assert.True(t, allowed)
}
