// Package ratelimit throttles moderator commands with fixed windows kept in
// Redis, so every API replica shares one budget per moderator.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	logger "github.com/Gopher0727/RoleInvite/middleware/log"
)

// Decision is the result of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a caller may spend n units in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	AllowN(ctx context.Context, key string, n int) (Decision, error)
	Reset(ctx context.Context, key string) error
}

// WindowLimiter counts requests per key in fixed windows with INCRBY and
// EXPIRE in one pipeline.
type WindowLimiter struct {
	client   *redis.Client
	log      *logger.Logger
	limit    int
	window   time.Duration
	failOpen bool // allow requests when Redis is unavailable
	now      func() time.Time
}

// NewWindowLimiter allows limit requests per window for each key.
func NewWindowLimiter(client *redis.Client, log *logger.Logger, limit int, window time.Duration, failOpen bool) *WindowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &WindowLimiter{
		client:   client,
		log:      log.Named("ratelimit"),
		limit:    limit,
		window:   window,
		failOpen: failOpen,
		now:      time.Now,
	}
}

func (l *WindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN consumes n units. A non-positive limit disables limiting.
func (l *WindowLimiter) AllowN(ctx context.Context, key string, n int) (Decision, error) {
	if l.limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	now := l.now()
	bucketKey := l.bucketKey(key, now)

	pipe := l.client.Pipeline()
	incr := pipe.IncrBy(ctx, bucketKey, int64(n))
	// 多留 1 秒，避免窗口边界上计数提前消失
	pipe.Expire(ctx, bucketKey, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		if l.failOpen {
			l.log.Warn("Rate limit check failed, allowing request", zap.String("key", key), zap.Error(err))
			return Decision{Allowed: true, Remaining: -1}, nil
		}
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := int(incr.Val())
	d := Decision{
		Allowed:   count <= l.limit,
		Remaining: max(l.limit-count, 0),
	}
	if !d.Allowed {
		d.RetryAfter = l.untilNextWindow(now)
		l.log.Debug("Rate limit exceeded",
			zap.String("key", key),
			zap.Int("count", count),
			zap.Int("limit", l.limit))
	}
	return d, nil
}

// Reset clears the current window for key.
func (l *WindowLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.bucketKey(key, l.now())).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to reset rate limit for key %s: %w", key, err)
	}
	return nil
}

func (l *WindowLimiter) bucketKey(key string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", key, now.UnixNano()/int64(l.window))
}

func (l *WindowLimiter) untilNextWindow(now time.Time) time.Duration {
	w := int64(l.window)
	next := (now.UnixNano()/w + 1) * w
	return time.Duration(next - now.UnixNano())
}
