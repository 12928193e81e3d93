package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	MaxRequests     int           // requests allowed per window, 0 disables limiting
	WindowSize      time.Duration // window the requests are spread over
	CleanupInterval time.Duration // how often idle keys are dropped
}

// DefaultRateLimitConfig returns default rate limiting configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests:     30,
		WindowSize:      time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key (client address or access
// token). A key may burst up to MaxRequests and refills at
// MaxRequests/WindowSize.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	config   RateLimitConfig
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop.
// Call Stop to end the loop.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultRateLimitConfig().CleanupInterval
	}
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		config:   config,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanupRoutine(config.CleanupInterval)
	return rl
}

// newLimiter refills at MaxRequests per WindowSize. The rate is computed in
// floating point: dividing the window first truncates to zero for tiny
// windows, and rate.Every(0) is an unlimited rate.
func (rl *RateLimiter) newLimiter() *rate.Limiter {
	perSecond := float64(rl.config.MaxRequests) / rl.config.WindowSize.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), rl.config.MaxRequests)
}

func (rl *RateLimiter) enabled() bool {
	return rl.config.MaxRequests > 0 && rl.config.WindowSize > 0
}

// Allow reports whether a request for key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.enabled() {
		return true
	}
	now := rl.now()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rl.newLimiter()}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RetryAfter returns how long key has to wait for its next request.
func (rl *RateLimiter) RetryAfter(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok || !rl.enabled() {
		return 0
	}
	now := rl.now()
	r := v.limiter.ReserveN(now, 1)
	if !r.OK() {
		return rl.config.WindowSize
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return delay
}

// Update swaps the limits. Existing buckets are dropped so every key starts
// fresh under the new limits.
func (rl *RateLimiter) Update(config RateLimitConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	config.CleanupInterval = rl.config.CleanupInterval
	rl.config = config
	rl.visitors = make(map[string]*visitor)
}

// Reset forgets key.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.visitors, key)
}

// Keys returns the number of tracked keys.
func (rl *RateLimiter) Keys() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.performCleanup()
		}
	}
}

// performCleanup drops keys idle for longer than a window.
func (rl *RateLimiter) performCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.config.WindowSize)
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
		}
	}
}
