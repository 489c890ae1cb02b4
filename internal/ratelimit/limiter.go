package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Result describes the outcome of a single Check.
type Result struct {
	Allowed   bool
	Remaining int
	// ResetIn is the number of whole seconds until the oldest counted
	// request leaves the window. Zero when allowed.
	ResetIn int
}

// Limiter implements a Redis sorted-set sliding window. Every Check is
// recorded in the window, including denied ones.
type Limiter struct {
	rdb    redis.Cmdable
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// New creates a limiter allowing limit requests per window for each key.
// Keys are stored under prefix.
func New(rdb redis.Cmdable, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{
		rdb:    rdb,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Check counts the request against key and reports whether it is allowed.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	redisKey := l.prefix + key
	now := l.now()
	nowMs := now.UnixMilli()
	windowStart := now.Add(-l.window).UnixMilli()

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(nowMs),
		Member: fmt.Sprintf("%d-%s", nowMs, uuid.NewString()),
	})
	pipe.Expire(ctx, redisKey, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limiter pipeline: %w", err)
	}

	count := int(countCmd.Val())
	if count < l.limit {
		return Result{Allowed: true, Remaining: max(l.limit-count-1, 0)}, nil
	}

	resetIn := 1
	oldest, err := l.rdb.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	if err != nil {
		return Result{}, fmt.Errorf("reading oldest window entry: %w", err)
	}
	if len(oldest) > 0 {
		remainingMs := int64(oldest[0].Score) + l.window.Milliseconds() - nowMs
		if secs := int((remainingMs + 999) / 1000); secs > resetIn {
			resetIn = secs
		}
	}

	return Result{Allowed: false, Remaining: 0, ResetIn: resetIn}, nil
}
