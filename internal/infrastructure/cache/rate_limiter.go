package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const rateLimitPrefix = "ratelimit:"

// RateLimiter is an injectable, per-client-identity limiter. It replaces the
// process-global counter the HTTP layer used to share: each caller receives
// its own keyed window, and Reset gives tests a deterministic starting state.
type RateLimiter interface {
	// Allow reports whether the identified client may proceed.
	Allow(ctx context.Context, clientID string, limit int, window time.Duration) (bool, error)

	// Count returns the client's current in-window count.
	Count(ctx context.Context, clientID string, window time.Duration) (int, error)

	// Reset clears all state for the identified client.
	Reset(ctx context.Context, clientID string) error
}

// redisRateLimiter implements RateLimiter using Redis sorted sets for
// sliding-window limiting.
type redisRateLimiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisRateLimiter creates a Redis-backed rate limiter.
func NewRedisRateLimiter(client *redis.Client, logger *zap.Logger) RateLimiter {
	return &redisRateLimiter{client: client, logger: logger}
}

func (r *redisRateLimiter) Allow(ctx context.Context, clientID string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window)
	key := rateLimitPrefix + clientID

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)

	requestID := fmt.Sprintf("%d-%d", now.UnixNano(), now.Nanosecond()%1000)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: requestID,
	})
	pipe.Expire(ctx, key, window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("rate limiter pipeline failed",
			zap.String("client_id", clientID),
			zap.Int("limit", limit),
			zap.Error(err))
		return false, fmt.Errorf("rate limiter pipeline failed: %w", err)
	}

	currentCount := countCmd.Val()
	if currentCount >= int64(limit) {
		// Remove the entry just added; the request was not admitted.
		r.client.ZRem(ctx, key, requestID)

		r.logger.Debug("rate limit exceeded",
			zap.String("client_id", clientID),
			zap.Int64("current_count", currentCount),
			zap.Int("limit", limit))
		return false, nil
	}
	return true, nil
}

func (r *redisRateLimiter) Count(ctx context.Context, clientID string, window time.Duration) (int, error) {
	now := time.Now()
	windowStart := now.Add(-window)
	key := rateLimitPrefix + clientID

	if err := r.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10)).Err(); err != nil {
		return 0, fmt.Errorf("rate limiter cleanup failed: %w", err)
	}

	count, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("rate limiter count failed: %w", err)
	}
	return int(count), nil
}

func (r *redisRateLimiter) Reset(ctx context.Context, clientID string) error {
	return r.client.Del(ctx, rateLimitPrefix+clientID).Err()
}

// localRateLimiter is the in-process fallback used when Redis is
// unavailable. Token buckets approximate the sliding window closely enough
// for a degraded mode.
type localRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocalRateLimiter creates an in-process per-client limiter.
func NewLocalRateLimiter() RateLimiter {
	return &localRateLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *localRateLimiter) Allow(ctx context.Context, clientID string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	limiter, ok := l.limiters[clientID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit)
		l.limiters[clientID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow(), nil
}

func (l *localRateLimiter) Count(ctx context.Context, clientID string, window time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[clientID]
	if !ok {
		return 0, nil
	}
	// Approximate: tokens consumed out of the burst.
	return int(float64(limiter.Burst()) - limiter.Tokens()), nil
}

func (l *localRateLimiter) Reset(ctx context.Context, clientID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, clientID)
	return nil
}
