// Package ratelimit provides rate limiting functionality for security protection.
// It slows down password guessing against the bootstrap.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter implements a token bucket rate limiter.
type Limiter struct {
	rate       float64   // Tokens per second
	burst      int       // Maximum burst size
	tokens     float64   // Current tokens
	lastUpdate time.Time // Last update time
	mu         sync.Mutex
}

// New creates a new rate limiter.
// rate is tokens per second, burst is maximum burst size.
func New(rate float64, burst int) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// Allow returns true if the action is allowed under the rate limit.
func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN returns true if n tokens can be consumed.
func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.refill(now)

	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}

	return false
}

func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

// Tokens returns the current number of available tokens.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	tokens := l.tokens + time.Since(l.lastUpdate).Seconds()*l.rate
	if tokens > float64(l.burst) {
		tokens = float64(l.burst)
	}

	return tokens
}

// Reset resets the limiter to full capacity.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = float64(l.burst)
	l.lastUpdate = time.Now()
}

// full reports whether the bucket has refilled completely.
func (l *Limiter) full() bool {
	return l.Tokens() >= float64(l.burst)
}

// Config holds rate limit configuration for password attempts.
type Config struct {
	Rate    float64 // Attempts per second per client
	Burst   int     // Attempts allowed back to back
	MaxKeys int     // Clients tracked before idle entries are evicted
}

// DefaultConfig returns secure default rate limits.
func DefaultConfig() Config {
	return Config{
		Rate:    0.2, // one attempt every 5 seconds once the burst is spent
		Burst:   5,
		MaxKeys: 4096,
	}
}

// KeyedLimiter provides one token bucket per key, typically a client address.
type KeyedLimiter struct {
	limiters map[string]*Limiter
	cfg      Config
	mu       sync.Mutex
}

// NewKeyed creates a new per-key rate limiter.
func NewKeyed(cfg Config) *KeyedLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultConfig().Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultConfig().MaxKeys
	}
	return &KeyedLimiter{
		limiters: make(map[string]*Limiter),
		cfg:      cfg,
	}
}

// Allow checks the limit for key.
func (kl *KeyedLimiter) Allow(key string) bool {
	kl.mu.Lock()
	l, ok := kl.limiters[key]
	if !ok {
		if len(kl.limiters) >= kl.cfg.MaxKeys {
			kl.evictIdle()
		}
		l = New(kl.cfg.Rate, kl.cfg.Burst)
		kl.limiters[key] = l
	}
	kl.mu.Unlock()

	return l.Allow()
}

// Reset forgets the bucket for key, e.g. after a successful attempt.
func (kl *KeyedLimiter) Reset(key string) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	delete(kl.limiters, key)
}

// Len returns the number of tracked keys.
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

// evictIdle drops buckets that have fully refilled. Caller holds kl.mu.
func (kl *KeyedLimiter) evictIdle() {
	for key, l := range kl.limiters {
		if l.full() {
			delete(kl.limiters, key)
		}
	}
}
