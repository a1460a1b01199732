// Package rate enforces failed-attempt budgets with Redis counters and
// cooldown TTLs.
package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited signals the attempt budget is exhausted for the
	// cooldown window.
	ErrRateLimited = errors.New("rate limited")
	// ErrBackend wraps limiter transport failures.
	ErrBackend = errors.New("rate limiter backend unavailable")
)

// Config holds limiter tuning parameters.
type Config struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// Limiter counts failed attempts per key. The counter expires after the
// cooldown from the first failure in the window.
type Limiter struct {
	rdb    redis.UniversalClient
	prefix string
	cfg    Config
}

func New(rdb redis.UniversalClient, prefix string, cfg Config) *Limiter {
	if prefix == "" {
		prefix = "castellan"
	}
	return &Limiter{rdb: rdb, prefix: prefix, cfg: cfg}
}

func (l *Limiter) key(scope, id string) string {
	return l.prefix + ":rl:" + scope + ":" + id
}

// Check returns ErrRateLimited when the key has used up its budget.
func (l *Limiter) Check(ctx context.Context, scope, id string) error {
	count, err := l.rdb.Get(ctx, l.key(scope, id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if count >= int64(l.cfg.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Increment records a failed attempt and returns ErrRateLimited when the
// budget is now exceeded.
func (l *Limiter) Increment(ctx context.Context, scope, id string) error {
	key := l.key(scope, id)
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, l.cfg.Cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
	}
	if count > int64(l.cfg.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter after a successful attempt.
func (l *Limiter) Reset(ctx context.Context, scope, id string) error {
	if err := l.rdb.Del(ctx, l.key(scope, id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}
