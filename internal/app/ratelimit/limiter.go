package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"transferd/internal/app/apperr"
	"transferd/internal/app/logger"
)

// Limiter is a fixed-window request counter shared across process instances
// through redis. It is advisory: when the counter store is unreachable the
// limiter fails open so that rate limiting never blocks all traffic.
type Limiter struct {
	rdb    *redis.Client
	limit  int64
	period time.Duration
	logger logger.Logger
}

func (l *Limiter) LoggerComponent() string {
	return "RateLimit.Limiter"
}

func New(rdb *redis.Client, limit int64, period time.Duration) *Limiter {
	l := &Limiter{
		rdb:    rdb,
		limit:  limit,
		period: period,
	}
	l.logger = logger.Global().Component(l)

	return l
}

// Allow increments the caller's counter for the current window and fails
// with apperr.ErrTooManyRequests once the count exceeds the limit. The first
// increment of a window sets an expiry equal to the window length.
func (l *Limiter) Allow(ctx context.Context, ident, path string) error {
	return l.allow(ctx, ident, path, time.Now().UTC())
}

func (l *Limiter) allow(ctx context.Context, ident, path string, now time.Time) error {
	key := l.key(ident, path, now)

	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		// fail-open: counter store availability is not on the critical path
		l.logger.Warn().Err(err).Str("key", key).Msg("Counter store unreachable, allowing request")
		return nil
	}

	if n == 1 {
		if err := l.rdb.Expire(ctx, key, l.period).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("Counter expire failed")
		}
	}

	if n > l.limit {
		return fmt.Errorf("%w: %d requests in %s", apperr.ErrTooManyRequests, n, l.period)
	}

	return nil
}

func (l *Limiter) key(ident, path string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", ident, sanitizePath(path), windowStart(now, l.period))
}

// windowStart aligns the instant to the period boundary: now - (now mod period).
// Periods under one second collapse to one-second windows.
func windowStart(now time.Time, period time.Duration) int64 {
	p := int64(period / time.Second)
	if p <= 0 {
		p = 1
	}
	ts := now.Unix()

	return ts - ts%p
}

func sanitizePath(path string) string {
	return strings.ReplaceAll(path, "/", ":")
}
