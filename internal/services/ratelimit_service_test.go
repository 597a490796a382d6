package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coalition/builder/internal/utils"
)

func TestCheckCountsAttemptsWithinWindow(t *testing.T) {
	rdb := utils.SetupTestRedis(t)
	svc := NewRateLimitService(rdb, "test")
	identity := fmt.Sprintf("ip:10.0.0.1:%d", time.Now().UnixNano())

	for i := 1; i <= 3; i++ {
		result := svc.Check(context.Background(), identity, 3, 300)
		assert.True(t, result.Allowed, "attempt %d should be allowed", i)
		assert.Equal(t, i, result.CurrentCount)
		assert.Equal(t, 3-i, result.Remaining)
	}

	result := svc.Check(context.Background(), identity, 3, 300)
	assert.False(t, result.Allowed)
	assert.Equal(t, 4, result.CurrentCount)
	assert.Equal(t, 0, result.Remaining)
	assert.Greater(t, result.ResetIn, 0)
	assert.LessOrEqual(t, result.ResetIn, 300)
}

func TestCheckIdentitiesAreIndependent(t *testing.T) {
	rdb := utils.SetupTestRedis(t)
	svc := NewRateLimitService(rdb, "test")
	suffix := time.Now().UnixNano()

	first := fmt.Sprintf("ip:10.0.0.2:%d", suffix)
	second := fmt.Sprintf("email:jane@example.com:%d", suffix)

	for i := 0; i < 3; i++ {
		svc.Check(context.Background(), first, 3, 300)
	}
	require.False(t, svc.Check(context.Background(), first, 3, 300).Allowed)

	result := svc.Check(context.Background(), second, 3, 300)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.CurrentCount)
}

func TestCheckNewWindowResetsCounter(t *testing.T) {
	rdb := utils.SetupTestRedis(t)

	base := time.Now()
	svc := &rateLimitService{rdb: rdb, envPrefix: "test", now: func() time.Time { return base }}
	identity := fmt.Sprintf("ip:10.0.0.3:%d", base.UnixNano())

	for i := 0; i < 4; i++ {
		svc.Check(context.Background(), identity, 3, 300)
	}
	require.False(t, svc.Check(context.Background(), identity, 3, 300).Allowed)

	// Jump past the window boundary; the bucket key changes and counting
	// starts over.
	svc.now = func() time.Time { return base.Add(301 * time.Second) }
	result := svc.Check(context.Background(), identity, 3, 300)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.CurrentCount)
}

func TestCheckFailsOpenOnStorageError(t *testing.T) {
	// A client pointed at nothing reachable errors on every command.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	svc := NewRateLimitService(rdb, "test")

	result := svc.Check(context.Background(), "ip:10.0.0.4", 3, 300)

	assert.True(t, result.Allowed)
	assert.Equal(t, 3, result.Remaining)
	assert.Equal(t, 0, result.CurrentCount)
}
