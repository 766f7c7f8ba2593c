// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package admission

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRateWindow is the sliding window for request counting.
const DefaultRateWindow = time.Minute

// rateKeyPrefix namespaces rate-limit keys in Redis.
const rateKeyPrefix = "rate_limit:"

// Decision is the outcome of one rate-limit check.
type Decision struct {
	// Allowed is false when the request must be rejected.
	Allowed bool

	// Limit is the window capacity.
	Limit int

	// Remaining is how many requests the caller has left in the window.
	Remaining int

	// RetryAfter estimates when capacity frees up. Zero when Allowed.
	RetryAfter time.Duration
}

// DefaultLimit selects the limiter's configured window capacity. An
// explicit zero is a real limit: such callers are always rejected.
const DefaultLimit = -1

// Limiter decides whether a caller identified by key may proceed.
// A non-negative limit overrides the limiter's default window capacity,
// so credentials can carry their own rate, including a revoking zero.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (Decision, error)
}

// =============================================================================
// Redis Sliding Window
// =============================================================================

// RedisLimiter counts requests in a Redis sorted set, scored by
// millisecond timestamp. Old members age out of the window on every
// check, so the count is exact rather than bucketed.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisLimiter builds a sliding-window limiter over client.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RedisLimiter{client: client, limit: limit, window: window}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int) (Decision, error) {
	if limit < 0 {
		limit = l.limit
	}
	if limit == 0 {
		return Decision{Allowed: false, Limit: 0, Remaining: 0, RetryAfter: l.window}, nil
	}
	now := time.Now()
	redisKey := rateKeyPrefix + key
	cutoff := now.Add(-l.window).UnixMilli()
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	card := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}

	count := int(card.Val())
	if count > limit {
		// Over the cap: withdraw the member so a rejected request does not
		// consume capacity.
		l.client.ZRem(ctx, redisKey, member)
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: l.retryAfter(ctx, redisKey, now),
		}, nil
	}
	return Decision{Allowed: true, Limit: limit, Remaining: limit - count}, nil
}

// retryAfter estimates when the oldest window member expires.
func (l *RedisLimiter) retryAfter(ctx context.Context, redisKey string, now time.Time) time.Duration {
	oldest, err := l.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return l.window
	}
	at := time.UnixMilli(int64(oldest[0].Score)).Add(l.window)
	if d := at.Sub(now); d > 0 {
		return d
	}
	return time.Second
}

// =============================================================================
// In-Memory Sliding Window
// =============================================================================

// MemoryLimiter is the standalone fallback: per-key timestamp slices
// behind a mutex. Suitable for a single instance; multi-instance
// deployments need the Redis limiter for a shared window.
type MemoryLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string][]int64
}

// NewMemoryLimiter builds an in-process sliding-window limiter.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string][]int64),
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int) (Decision, error) {
	if limit < 0 {
		limit = l.limit
	}
	if limit == 0 {
		return Decision{Allowed: false, Limit: 0, Remaining: 0, RetryAfter: l.window}, nil
	}
	now := time.Now().UnixMilli()
	cutoff := now - l.window.Milliseconds()

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.windows[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		l.windows[key] = kept
		retry := time.Duration(kept[0]-cutoff) * time.Millisecond
		if retry <= 0 {
			retry = time.Second
		}
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: retry}, nil
	}

	l.windows[key] = append(kept, now)
	return Decision{Allowed: true, Limit: limit, Remaining: limit - len(kept) - 1}, nil
}

// =============================================================================
// Fallback Composition
// =============================================================================

// FallbackLimiter serves from primary and falls back to secondary when
// the primary errors, so an unreachable Redis degrades the limiter
// instead of the API.
type FallbackLimiter struct {
	primary   Limiter
	secondary Limiter
	logger    *slog.Logger
}

// NewFallbackLimiter composes two limiters.
func NewFallbackLimiter(primary, secondary Limiter, logger *slog.Logger) *FallbackLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackLimiter{primary: primary, secondary: secondary, logger: logger}
}

// Allow implements Limiter.
func (l *FallbackLimiter) Allow(ctx context.Context, key string, limit int) (Decision, error) {
	d, err := l.primary.Allow(ctx, key, limit)
	if err == nil {
		return d, nil
	}
	l.logger.Warn("primary rate limiter failed, using in-memory window",
		slog.String("error", err.Error()))
	return l.secondary.Allow(ctx, key, limit)
}
