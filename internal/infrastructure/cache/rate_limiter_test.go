package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupLimiter(t *testing.T) RateLimiter {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRateLimiter(client, zap.NewNop())
}

func TestRedisRateLimiter_AllowUpToLimit(t *testing.T) {
	limiter := setupLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, "client-a", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d within limit", i+1)
	}

	allowed, err := limiter.Allow(ctx, "client-a", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed, "sixth request must be rejected")

	count, err := limiter.Count(ctx, "client-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestRedisRateLimiter_KeyedByClientIdentity(t *testing.T) {
	limiter := setupLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "client-a", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	// Exhausting one client leaves others untouched.
	allowed, err := limiter.Allow(ctx, "client-b", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisRateLimiter_ResetIsDeterministic(t *testing.T) {
	limiter := setupLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Allow(ctx, "client-a", 3, time.Minute)
		require.NoError(t, err)
	}
	allowed, err := limiter.Allow(ctx, "client-a", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "client-a"))

	count, err := limiter.Count(ctx, "client-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	allowed, err = limiter.Allow(ctx, "client-a", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "reset restores a clean window")
}

func TestLocalRateLimiter_Fallback(t *testing.T) {
	limiter := NewLocalRateLimiter()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		allowed, err := limiter.Allow(ctx, "client-a", 4, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := limiter.Allow(ctx, "client-a", 4, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "client-a"))
	allowed, err = limiter.Allow(ctx, "client-a", 4, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}
