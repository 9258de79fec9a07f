// Package ratelimit implements a Redis sliding window limiter for the
// mutating payment endpoints.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter allows at most limit events per key within window. Every call is
// recorded, including rejected ones, so a client hammering the endpoint stays
// blocked until it backs off.
type Limiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
	seq    atomic.Uint64
}

// NewLimiter creates a limiter. A non-positive limit disables limiting.
func NewLimiter(client redis.Cmdable, limit int, window time.Duration) *Limiter {
	return &Limiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "mintpay:ratelimit",
		now:    time.Now,
	}
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Allow records one event for key and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l == nil || l.limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	now := l.now()
	redisKey := l.key(key)
	windowStart := now.Add(-l.window).UnixNano()
	nowNano := now.UnixNano()
	member := strconv.FormatInt(nowNano, 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart, 10))
	zcard := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(nowNano), Member: member})
	pipe.Expire(ctx, redisKey, l.window+time.Minute)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("failed to execute rate limit pipeline: %w", err)
	}

	count := int(zcard.Val())
	if count < l.limit {
		return Decision{Allowed: true, Remaining: l.limit - count - 1}, nil
	}

	retryAfter := l.window
	if zs := oldest.Val(); len(zs) == 1 {
		expires := time.Unix(0, int64(zs[0].Score)).Add(l.window)
		if d := expires.Sub(now); d > 0 {
			retryAfter = d
		}
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}, nil
}

func (l *Limiter) key(identifier string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, identifier, l.window.String())
}
