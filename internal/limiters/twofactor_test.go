package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, cfg Config) (*TwoFactorLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, cfg), mr
}

func TestLimiterUnderBudget(t *testing.T) {
	limiter, _ := newLimiter(t, Config{MaxAttempts: 3, Window: time.Minute})
	ctx := context.Background()

	if err := limiter.Check(ctx, "user-1"); err != nil {
		t.Fatalf("Check with no failures: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := limiter.RecordFailure(ctx, "user-1"); err != nil {
			t.Fatalf("RecordFailure %d: %v", i+1, err)
		}
	}
	if err := limiter.Check(ctx, "user-1"); err != nil {
		t.Fatalf("Check under budget: %v", err)
	}
}

func TestLimiterExhaustion(t *testing.T) {
	limiter, _ := newLimiter(t, Config{MaxAttempts: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.RecordFailure(ctx, "user-1"); err != nil {
			t.Fatalf("RecordFailure %d: %v", i+1, err)
		}
	}
	// The failure that spends the last attempt reports exhaustion itself.
	if err := limiter.RecordFailure(ctx, "user-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("final RecordFailure: err = %v, want ErrRateLimited", err)
	}
	if err := limiter.Check(ctx, "user-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Check over budget: err = %v, want ErrRateLimited", err)
	}
}

func TestLimiterWindowExpiry(t *testing.T) {
	limiter, mr := newLimiter(t, Config{MaxAttempts: 2, Window: time.Minute})
	ctx := context.Background()

	_ = limiter.RecordFailure(ctx, "user-1")
	if err := limiter.RecordFailure(ctx, "user-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	mr.FastForward(2 * time.Minute)

	if err := limiter.Check(ctx, "user-1"); err != nil {
		t.Fatalf("Check after window expiry: %v", err)
	}
}

func TestLimiterReset(t *testing.T) {
	limiter, _ := newLimiter(t, Config{MaxAttempts: 2, Window: time.Minute})
	ctx := context.Background()

	_ = limiter.RecordFailure(ctx, "user-1")
	if err := limiter.RecordFailure(ctx, "user-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	if err := limiter.Reset(ctx, "user-1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := limiter.Check(ctx, "user-1"); err != nil {
		t.Fatalf("Check after Reset: %v", err)
	}
}

func TestLimiterUsersIndependent(t *testing.T) {
	limiter, _ := newLimiter(t, Config{MaxAttempts: 2, Window: time.Minute})
	ctx := context.Background()

	_ = limiter.RecordFailure(ctx, "user-1")
	if err := limiter.RecordFailure(ctx, "user-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	if err := limiter.Check(ctx, "user-2"); err != nil {
		t.Fatalf("unrelated user limited: %v", err)
	}
}

func TestLimiterDefaults(t *testing.T) {
	limiter, _ := newLimiter(t, Config{})
	if limiter.maxAttempts != defaultMaxAttempts {
		t.Fatalf("maxAttempts = %d, want %d", limiter.maxAttempts, defaultMaxAttempts)
	}
	if limiter.window != defaultWindow {
		t.Fatalf("window = %v, want %v", limiter.window, defaultWindow)
	}
}
