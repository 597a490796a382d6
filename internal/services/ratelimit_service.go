package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitResult describes the state of a client's attempt window.
type RateLimitResult struct {
	Allowed      bool `json:"allowed"`
	Remaining    int  `json:"remaining"`
	ResetIn      int  `json:"reset_in"` // seconds until the current window expires
	CurrentCount int  `json:"current_count"`
}

// IRateLimitService tracks submission attempts per client identity within a
// sliding window, backed by Redis so behavior is identical across processes.
type IRateLimitService interface {
	Check(ctx context.Context, identity string, maxAttempts, windowSeconds int) RateLimitResult
}

// rateLimitService implements IRateLimitService on Redis counters.
type rateLimitService struct {
	rdb       *redis.Client
	envPrefix string
	now       func() time.Time // test hook
}

// NewRateLimitService creates a new RateLimitService. envPrefix keeps
// environments sharing a Redis instance from throttling each other.
func NewRateLimitService(rdb *redis.Client, envPrefix string) IRateLimitService {
	return &rateLimitService{rdb: rdb, envPrefix: envPrefix, now: time.Now}
}

// Check atomically increments the attempt counter for the current window
// bucket and reports whether the attempt is allowed. On any storage error the
// limiter fails open: availability is prioritized over strict enforcement.
func (s *rateLimitService) Check(ctx context.Context, identity string, maxAttempts, windowSeconds int) RateLimitResult {
	now := s.now().Unix()
	window := int64(windowSeconds)
	windowStart := now - (now % window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", s.envPrefix, identity, windowStart)

	// INCR creates the key at 1 if absent, so increment-or-insert is a single
	// atomic operation; no read-then-write race under concurrent requests.
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, time.Duration(windowSeconds)*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("WARN: rate limiter storage error for %s, failing open: %v", identity, err)
		return RateLimitResult{Allowed: true, Remaining: maxAttempts, ResetIn: windowSeconds, CurrentCount: 0}
	}

	count := int(incr.Val())
	remaining := maxAttempts - count
	if remaining < 0 {
		remaining = 0
	}
	resetIn := int(windowStart + window - now)

	result := RateLimitResult{
		Allowed:      count <= maxAttempts,
		Remaining:    remaining,
		ResetIn:      resetIn,
		CurrentCount: count,
	}
	if !result.Allowed {
		log.Printf("Rate limit exceeded for %s: %d attempts in current %ds window", identity, count, windowSeconds)
	}
	return result
}
