// Package limiters provides the Redis-backed second-factor failure limiter.
// It counts, nothing more; the engine decides what exceeding the budget
// means.
package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxAttempts = 5
	defaultWindow      = 5 * time.Minute
)

var (
	// ErrRateLimited means the per-user attempt budget is spent.
	ErrRateLimited = errors.New("two-factor rate limited")
	// ErrUnavailable indicates the limiter backend is unreachable.
	ErrUnavailable = errors.New("two-factor limiter unavailable")
)

// Config holds the per-user attempt budget.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// TwoFactorLimiter tracks failed second-factor attempts per user in a fixed
// window, independently of the login throttle: repeated bad OTP codes must
// not be unlimited even for an account that is not delayed or locked.
type TwoFactorLimiter struct {
	redis       redis.UniversalClient
	maxAttempts int64
	window      time.Duration
}

// New creates a limiter. Zero-value fields in cfg fall back to defaults
// (5 attempts / 5 min).
func New(redisClient redis.UniversalClient, cfg Config) *TwoFactorLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultMaxAttempts
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	return &TwoFactorLimiter{redis: redisClient, maxAttempts: int64(max), window: window}
}

func (l *TwoFactorLimiter) key(userID string) string {
	return "tfa:" + userID
}

// Check reports whether the user still has attempt budget.
func (l *TwoFactorLimiter) Check(ctx context.Context, userID string) error {
	count, err := l.redis.Get(ctx, l.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrRateLimited
	}
	return nil
}

// RecordFailure consumes one attempt. The TTL is set on the first failure in
// the window, giving fixed-window semantics.
func (l *TwoFactorLimiter) RecordFailure(ctx context.Context, userID string) error {
	count, err := l.redis.Incr(ctx, l.key(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(userID), l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if count >= l.maxAttempts {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter after a successful verification.
func (l *TwoFactorLimiter) Reset(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
