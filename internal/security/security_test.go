package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxRequests: 2, WindowSize: time.Minute})
	defer rl.Stop()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys are independent")

	assert.InDelta(t, float64(30*time.Second), float64(rl.RetryAfter("a")), float64(time.Second))

	now = now.Add(31 * time.Second)
	assert.True(t, rl.Allow("a"), "one token refills after window/max")
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})
	defer rl.Stop()

	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("x"))
	}
	assert.Zero(t, rl.RetryAfter("x"))
}

func TestRateLimiterUpdateAndCleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxRequests: 1, WindowSize: time.Minute})
	defer rl.Stop()

	now := time.Now()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	rl.Update(RateLimitConfig{MaxRequests: 3, WindowSize: time.Minute})
	assert.True(t, rl.Allow("a"))
	assert.Equal(t, 1, rl.Keys())

	now = now.Add(2 * time.Minute)
	rl.performCleanup()
	assert.Zero(t, rl.Keys())

	rl.Stop()
	rl.Stop()
}

func TestRateLimiterUpdateWhileCleaning(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxRequests: 5, WindowSize: time.Second, CleanupInterval: time.Millisecond})
	defer rl.Stop()

	for i := 0; i < 20; i++ {
		rl.Update(RateLimitConfig{MaxRequests: 5 + i, WindowSize: time.Second, CleanupInterval: time.Hour})
		rl.Allow("a")
		time.Sleep(time.Millisecond)
	}
	assert.LessOrEqual(t, rl.Keys(), 1)
}

func TestRateLimiterTinyWindowStillLimits(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxRequests: 10, WindowSize: 5 * time.Nanosecond})
	defer rl.Stop()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		require.True(t, rl.Allow("a"), "request %d", i)
	}
	assert.False(t, rl.Allow("a"))
}

func TestGenerateAccessToken(t *testing.T) {
	tok, err := GenerateAccessToken(16)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, "ang_"))
	assert.Len(t, tok, 4+32)

	other, err := GenerateAccessToken(16)
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)

	_, err = GenerateAccessToken(0)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	tok, ok = BearerToken("bearer   xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestTokenAllowed(t *testing.T) {
	allowed := []string{"first-token-0001", "second-token-002"}
	assert.True(t, TokenAllowed("second-token-002", allowed))
	assert.False(t, TokenAllowed("second-token-00", allowed))
	assert.False(t, TokenAllowed("", allowed))
	assert.False(t, TokenAllowed("x", nil))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "ang_********cdef", MaskToken("ang_01234567cdef"))
	assert.Equal(t, "****", MaskToken("abcd"))
}
