// Package postgres provides durable implementations of the engine's
// persistent collaborators on PostgreSQL via pgx. The login throttle is a
// security boundary, not a fairness mechanism, so unlike the in-memory
// request limiter its state must survive process restarts.
//
// Expected schema:
//
//	CREATE TABLE login_attempts (
//	    user_id              text NOT NULL DEFAULT '',
//	    ip                   text NOT NULL,
//	    consecutive_failures int  NOT NULL DEFAULT 0,
//	    delayed_until        timestamptz,
//	    locked_until         timestamptz,
//	    last_attempt         timestamptz NOT NULL DEFAULT now(),
//	    PRIMARY KEY (user_id, ip)
//	);
//
//	CREATE TABLE unlock_tokens (
//	    id         uuid PRIMARY KEY,
//	    token_hash text NOT NULL UNIQUE,
//	    user_id    text NOT NULL,
//	    expires_at timestamptz NOT NULL,
//	    used       boolean NOT NULL DEFAULT false
//	);
//
//	CREATE TABLE two_factor_auth (
//	    user_id          text PRIMARY KEY,
//	    encrypted_secret bytea NOT NULL,
//	    encryption_nonce bytea NOT NULL
//	);
//
//	CREATE TABLE backup_codes (
//	    user_id   text  NOT NULL,
//	    code_hash bytea NOT NULL,
//	    used      boolean NOT NULL DEFAULT false,
//	    used_at   timestamptz,
//	    PRIMARY KEY (user_id, code_hash)
//	);
//
//	CREATE TABLE two_factor_rate_limits (
//	    user_id      text PRIMARY KEY,
//	    attempts     int NOT NULL,
//	    window_start timestamptz NOT NULL
//	);
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool opens a pgx pool and verifies connectivity with bounded retries,
// so a service racing its database at startup fails late instead of
// instantly.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database pool init failed: %w", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			return pool, nil
		}
		if time.Now().After(deadline) {
			pool.Close()
			return nil, fmt.Errorf("database ping failed after retries: %w", err)
		}
		time.Sleep(1500 * time.Millisecond)
	}
}
