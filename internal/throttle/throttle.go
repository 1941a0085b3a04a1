// Package throttle implements the login-attempt state machine: Allowed until
// the delay threshold, escalating backoff until the lock threshold, then a
// hard lock.
//
// # Architecture boundaries
//
// This package is pure policy over a Record value. Persistence and atomicity
// belong to the AttemptStore implementations; audit and notification belong
// to the engine. Nothing here performs I/O or reads clocks on its own.
package throttle

import "time"

// State is the throttle state of one (user, ip) pair.
type State uint8

const (
	// StateAllowed permits the attempt to proceed.
	StateAllowed State = iota
	// StateDelayed rejects attempts until DelayedUntil passes.
	StateDelayed
	// StateLocked rejects attempts until LockedUntil passes.
	StateLocked
)

// Record is the persisted failure state of one (user, ip) pair. UserID may be
// empty when the attempted identifier matched no account. Records are updated
// monotonically on failure and reset, never deleted.
type Record struct {
	UserID              string
	IP                  string
	ConsecutiveFailures int
	DelayedUntil        *time.Time
	LockedUntil         *time.Time
	LastAttempt         time.Time
}

// Config holds the thresholds and backoff parameters.
type Config struct {
	DelayThreshold int
	LockThreshold  int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	LockDuration   time.Duration
}

// Status is the outcome of evaluating a record at one instant.
type Status struct {
	State       State
	RetryAfter  time.Duration
	LockedUntil time.Time
}

// Evaluate derives the current state of rec at now. It never mutates rec; an
// expired lock or delay simply evaluates as Allowed, with the stale counter
// left in place until the next failure or reset.
func Evaluate(rec *Record, now time.Time) Status {
	if rec == nil {
		return Status{State: StateAllowed}
	}

	if rec.LockedUntil != nil && now.Before(*rec.LockedUntil) {
		return Status{
			State:       StateLocked,
			RetryAfter:  rec.LockedUntil.Sub(now),
			LockedUntil: *rec.LockedUntil,
		}
	}

	if rec.DelayedUntil != nil && now.Before(*rec.DelayedUntil) {
		return Status{
			State:      StateDelayed,
			RetryAfter: rec.DelayedUntil.Sub(now),
		}
	}

	return Status{State: StateAllowed}
}

// ApplyFailure returns rec advanced by one failed attempt at now, with the
// delay and lock timestamps recomputed from cfg. The caller persists the
// result atomically.
func ApplyFailure(rec Record, now time.Time, cfg Config) Record {
	rec.ConsecutiveFailures++
	rec.LastAttempt = now

	switch {
	case rec.ConsecutiveFailures >= cfg.LockThreshold:
		until := now.Add(cfg.LockDuration)
		rec.LockedUntil = &until
		rec.DelayedUntil = nil
	case rec.ConsecutiveFailures >= cfg.DelayThreshold:
		until := now.Add(backoff(rec.ConsecutiveFailures, cfg))
		rec.DelayedUntil = &until
	}

	return rec
}

// ResetRecord clears the failure state after a successful credential check,
// 2FA success, or unlock-token redemption.
func ResetRecord(rec Record, now time.Time) Record {
	rec.ConsecutiveFailures = 0
	rec.DelayedUntil = nil
	rec.LockedUntil = nil
	rec.LastAttempt = now
	return rec
}

// backoff doubles per failure past the delay threshold, saturating at
// MaxDelay. Exponential escalation keeps a fat-fingered user waiting seconds
// while a credential stuffer quickly runs into minutes.
func backoff(failures int, cfg Config) time.Duration {
	delay := cfg.BaseDelay
	for i := cfg.DelayThreshold; i < failures; i++ {
		delay *= 2
		if delay >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	if delay > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return delay
}
