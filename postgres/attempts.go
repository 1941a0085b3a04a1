package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	authguard "github.com/finbudget/authguard"
)

// AttemptStore persists login-attempt records with row-level locking, so two
// concurrent failures for the same (user, ip) pair serialize instead of both
// observing the pre-increment count.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore wraps the pool.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

// Get returns the stored record for the pair, or nil when none exists.
func (s *AttemptStore) Get(ctx context.Context, userID, ip string) (*authguard.LoginAttemptRecord, error) {
	rec := authguard.LoginAttemptRecord{UserID: userID, IP: ip}

	err := s.pool.QueryRow(ctx,
		`SELECT consecutive_failures, delayed_until, locked_until, last_attempt
		   FROM login_attempts
		  WHERE user_id = $1 AND ip = $2`,
		userID, ip,
	).Scan(&rec.ConsecutiveFailures, &rec.DelayedUntil, &rec.LockedUntil, &rec.LastAttempt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}

	return &rec, nil
}

// Update applies fn under SELECT ... FOR UPDATE in one transaction. The row
// is created first when absent so the lock always has something to hold.
func (s *AttemptStore) Update(ctx context.Context, userID, ip string, apply func(authguard.LoginAttemptRecord) authguard.LoginAttemptRecord) (*authguard.LoginAttemptRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO login_attempts (user_id, ip, consecutive_failures, last_attempt)
		 VALUES ($1, $2, 0, now())
		 ON CONFLICT (user_id, ip) DO NOTHING`,
		userID, ip,
	); err != nil {
		return nil, fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}

	rec := authguard.LoginAttemptRecord{UserID: userID, IP: ip}
	if err := tx.QueryRow(ctx,
		`SELECT consecutive_failures, delayed_until, locked_until, last_attempt
		   FROM login_attempts
		  WHERE user_id = $1 AND ip = $2
		    FOR UPDATE`,
		userID, ip,
	).Scan(&rec.ConsecutiveFailures, &rec.DelayedUntil, &rec.LockedUntil, &rec.LastAttempt); err != nil {
		return nil, fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}

	updated := apply(rec)

	if _, err := tx.Exec(ctx,
		`UPDATE login_attempts
		    SET consecutive_failures = $3, delayed_until = $4, locked_until = $5, last_attempt = $6
		  WHERE user_id = $1 AND ip = $2`,
		userID, ip,
		updated.ConsecutiveFailures, updated.DelayedUntil, updated.LockedUntil, updated.LastAttempt,
	); err != nil {
		return nil, fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}
	return &updated, nil
}

// Reset zeroes the failure state for one pair; the record itself is kept.
func (s *AttemptStore) Reset(ctx context.Context, userID, ip string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE login_attempts
		    SET consecutive_failures = 0, delayed_until = NULL, locked_until = NULL, last_attempt = $3
		  WHERE user_id = $1 AND ip = $2`,
		userID, ip, time.Now(),
	); err != nil {
		return fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}
	return nil
}

// ResetUser zeroes the failure state for every pair the user appears in.
func (s *AttemptStore) ResetUser(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE login_attempts
		    SET consecutive_failures = 0, delayed_until = NULL, locked_until = NULL, last_attempt = $2
		  WHERE user_id = $1`,
		userID, time.Now(),
	); err != nil {
		return fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}
	return nil
}
