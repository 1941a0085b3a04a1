package stores

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/finbudget/authguard/internal/throttle"
)

func newAttemptStore(t *testing.T) (*AttemptStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAttemptStore(client, "", time.Hour), mr
}

func TestAttemptStoreGetMissing(t *testing.T) {
	store, _ := newAttemptStore(t)

	rec, err := store.Get(context.Background(), "user-1", "203.0.113.7")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Fatalf("Get = %+v, want nil for missing pair", rec)
	}
}

func TestAttemptStoreUpdateRoundTrip(t *testing.T) {
	store, _ := newAttemptStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	delayed := now.Add(30 * time.Second)

	updated, err := store.Update(ctx, "user-1", "203.0.113.7", func(rec throttle.Record) throttle.Record {
		rec.ConsecutiveFailures = 3
		rec.DelayedUntil = &delayed
		rec.LastAttempt = now
		return rec
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.ConsecutiveFailures != 3 {
		t.Fatalf("updated failures = %d, want 3", updated.ConsecutiveFailures)
	}

	got, err := store.Get(ctx, "user-1", "203.0.113.7")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get = nil after Update")
	}
	if got.ConsecutiveFailures != 3 {
		t.Fatalf("failures = %d, want 3", got.ConsecutiveFailures)
	}
	if got.DelayedUntil == nil || !got.DelayedUntil.Equal(delayed) {
		t.Fatalf("DelayedUntil = %v, want %v", got.DelayedUntil, delayed)
	}
	if got.LockedUntil != nil {
		t.Fatalf("LockedUntil = %v, want nil", got.LockedUntil)
	}
	if !got.LastAttempt.Equal(now) {
		t.Fatalf("LastAttempt = %v, want %v", got.LastAttempt, now)
	}
	if got.UserID != "user-1" || got.IP != "203.0.113.7" {
		t.Fatalf("identity = %q/%q", got.UserID, got.IP)
	}
}

func TestAttemptStoreUpdateSeesPriorState(t *testing.T) {
	store, _ := newAttemptStore(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		rec, err := store.Update(ctx, "user-1", "203.0.113.7", func(rec throttle.Record) throttle.Record {
			rec.ConsecutiveFailures++
			rec.LastAttempt = time.Now()
			return rec
		})
		if err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
		if rec.ConsecutiveFailures != i {
			t.Fatalf("after update %d: failures = %d", i, rec.ConsecutiveFailures)
		}
	}
}

func TestAttemptStoreReset(t *testing.T) {
	store, _ := newAttemptStore(t)
	ctx := context.Background()

	locked := time.Now().Add(30 * time.Minute)
	if _, err := store.Update(ctx, "user-1", "203.0.113.7", func(rec throttle.Record) throttle.Record {
		rec.ConsecutiveFailures = 5
		rec.LockedUntil = &locked
		rec.LastAttempt = time.Now()
		return rec
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := store.Reset(ctx, "user-1", "203.0.113.7"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	got, err := store.Get(ctx, "user-1", "203.0.113.7")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Reset keeps the record but zeroes the failure state.
	if got == nil {
		t.Fatal("Get = nil after Reset, record should survive")
	}
	if got.ConsecutiveFailures != 0 || got.DelayedUntil != nil || got.LockedUntil != nil {
		t.Fatalf("record not zeroed: %+v", got)
	}
}

func TestAttemptStoreResetUser(t *testing.T) {
	store, _ := newAttemptStore(t)
	ctx := context.Background()

	ips := []string{"203.0.113.7", "198.51.100.9", "192.0.2.33"}
	locked := time.Now().Add(30 * time.Minute)
	for _, ip := range ips {
		if _, err := store.Update(ctx, "user-1", ip, func(rec throttle.Record) throttle.Record {
			rec.ConsecutiveFailures = 5
			rec.LockedUntil = &locked
			rec.LastAttempt = time.Now()
			return rec
		}); err != nil {
			t.Fatalf("Update %s: %v", ip, err)
		}
	}

	if err := store.ResetUser(ctx, "user-1"); err != nil {
		t.Fatalf("ResetUser: %v", err)
	}

	for _, ip := range ips {
		got, err := store.Get(ctx, "user-1", ip)
		if err != nil {
			t.Fatalf("Get %s: %v", ip, err)
		}
		if got == nil || got.ConsecutiveFailures != 0 || got.LockedUntil != nil {
			t.Fatalf("%s not reset: %+v", ip, got)
		}
	}
}

func TestAttemptStoreResetUserUnknown(t *testing.T) {
	store, _ := newAttemptStore(t)
	if err := store.ResetUser(context.Background(), "nobody"); err != nil {
		t.Fatalf("ResetUser on unknown user: %v", err)
	}
}

func TestAttemptStoreRetentionExpiry(t *testing.T) {
	store, mr := newAttemptStore(t)
	ctx := context.Background()

	if _, err := store.Update(ctx, "user-1", "203.0.113.7", func(rec throttle.Record) throttle.Record {
		rec.ConsecutiveFailures = 2
		rec.LastAttempt = time.Now()
		return rec
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	got, err := store.Get(ctx, "user-1", "203.0.113.7")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("record survived past retention: %+v", got)
	}
}

func TestAttemptStoreRejectsCorruptRecord(t *testing.T) {
	store, mr := newAttemptStore(t)

	if err := mr.Set("lat:user-1:203.0.113.7", "garbage"); err != nil {
		t.Fatalf("seed corrupt record: %v", err)
	}
	if _, err := store.Get(context.Background(), "user-1", "203.0.113.7"); err == nil {
		t.Fatal("corrupt record decoded without error")
	}
}
