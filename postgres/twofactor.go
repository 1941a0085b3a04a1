package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	authguard "github.com/finbudget/authguard"
	"github.com/finbudget/authguard/internal/limiters"
)

// TwoFactorStore serves encrypted TOTP records and consumes backup codes.
type TwoFactorStore struct {
	pool *pgxpool.Pool
}

// NewTwoFactorStore wraps the pool.
func NewTwoFactorStore(pool *pgxpool.Pool) *TwoFactorStore {
	return &TwoFactorStore{pool: pool}
}

// GetTwoFactor returns the stored encrypted secret for the user.
func (s *TwoFactorStore) GetTwoFactor(ctx context.Context, userID string) (*authguard.TwoFactorRecord, error) {
	var rec authguard.TwoFactorRecord
	err := s.pool.QueryRow(ctx,
		`SELECT encrypted_secret, encryption_nonce FROM two_factor_auth WHERE user_id = $1`,
		userID,
	).Scan(&rec.EncryptedSecret, &rec.Nonce)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authguard.ErrTwoFactorNotConfigured
		}
		return nil, fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}
	return &rec, nil
}

// SetTwoFactor stores (or replaces) the encrypted secret for the user.
func (s *TwoFactorStore) SetTwoFactor(ctx context.Context, userID string, rec authguard.TwoFactorRecord) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO two_factor_auth (user_id, encrypted_secret, encryption_nonce)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		    SET encrypted_secret = EXCLUDED.encrypted_secret,
		        encryption_nonce = EXCLUDED.encryption_nonce`,
		userID, rec.EncryptedSecret, rec.Nonce,
	); err != nil {
		return fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}
	return nil
}

// ConsumeBackupCode atomically marks a matching unused code as spent.
// Reports whether a code was consumed.
func (s *TwoFactorStore) ConsumeBackupCode(ctx context.Context, userID string, codeHash [32]byte) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE backup_codes
		    SET used = true, used_at = now()
		  WHERE user_id = $1 AND code_hash = $2 AND NOT used`,
		userID, codeHash[:],
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReplaceBackupCodes swaps the user's full backup-code set for a fresh one.
func (s *TwoFactorStore) ReplaceBackupCodes(ctx context.Context, userID string, hashes [][32]byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}
	for _, hash := range hashes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO backup_codes (user_id, code_hash, used) VALUES ($1, $2, false)`,
			userID, hash[:],
		); err != nil {
			return fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}
	return nil
}

// TwoFactorLimiter is the durable variant of the per-user 2FA failure
// counter. The window reset folds into the upsert so the counter update is a
// single statement.
type TwoFactorLimiter struct {
	pool        *pgxpool.Pool
	maxAttempts int
	window      time.Duration
}

// NewTwoFactorLimiter creates a limiter with the given budget.
func NewTwoFactorLimiter(pool *pgxpool.Pool, maxAttempts int, window time.Duration) *TwoFactorLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &TwoFactorLimiter{pool: pool, maxAttempts: maxAttempts, window: window}
}

// Check reports whether the user still has attempt budget.
func (l *TwoFactorLimiter) Check(ctx context.Context, userID string) error {
	var attempts int
	var windowStart time.Time
	err := l.pool.QueryRow(ctx,
		`SELECT attempts, window_start FROM two_factor_rate_limits WHERE user_id = $1`,
		userID,
	).Scan(&attempts, &windowStart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}

	if time.Since(windowStart) >= l.window {
		return nil
	}
	if attempts >= l.maxAttempts {
		return limiters.ErrRateLimited
	}
	return nil
}

// RecordFailure consumes one attempt, resetting the window when it has
// elapsed.
func (l *TwoFactorLimiter) RecordFailure(ctx context.Context, userID string) error {
	var attempts int
	err := l.pool.QueryRow(ctx,
		`INSERT INTO two_factor_rate_limits (user_id, attempts, window_start)
		 VALUES ($1, 1, now())
		 ON CONFLICT (user_id) DO UPDATE
		    SET attempts = CASE
		            WHEN two_factor_rate_limits.window_start <= now() - make_interval(secs => $2)
		            THEN 1
		            ELSE two_factor_rate_limits.attempts + 1
		        END,
		        window_start = CASE
		            WHEN two_factor_rate_limits.window_start <= now() - make_interval(secs => $2)
		            THEN now()
		            ELSE two_factor_rate_limits.window_start
		        END
		 RETURNING attempts`,
		userID, l.window.Seconds(),
	).Scan(&attempts)
	if err != nil {
		return fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}

	if attempts >= l.maxAttempts {
		return limiters.ErrRateLimited
	}
	return nil
}

// Reset clears the counter after a successful verification.
func (l *TwoFactorLimiter) Reset(ctx context.Context, userID string) error {
	if _, err := l.pool.Exec(ctx,
		`DELETE FROM two_factor_rate_limits WHERE user_id = $1`,
		userID,
	); err != nil {
		return fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}
	return nil
}
