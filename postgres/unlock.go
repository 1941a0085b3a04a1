package postgres

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	authguard "github.com/finbudget/authguard"
)

const unlockTokenRawSize = 32

// UnlockTokenStore persists single-use unlock tokens. Only the SHA-256 of
// the token is stored; redemption is one conditional UPDATE, so a token can
// be consumed at most once no matter how many redemptions race.
type UnlockTokenStore struct {
	pool *pgxpool.Pool
}

// NewUnlockTokenStore wraps the pool.
func NewUnlockTokenStore(pool *pgxpool.Pool) *UnlockTokenStore {
	return &UnlockTokenStore{pool: pool}
}

// Create mints an opaque token for userID, valid for ttl.
func (s *UnlockTokenStore) Create(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	raw := make([]byte, unlockTokenRawSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(token))

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO unlock_tokens (id, token_hash, user_id, expires_at, used)
		 VALUES ($1, $2, $3, $4, false)`,
		uuid.New(), hex.EncodeToString(sum[:]), userID, time.Now().Add(ttl),
	); err != nil {
		return "", fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}

	return token, nil
}

// Redeem consumes the token exactly once and returns the user it unlocks.
func (s *UnlockTokenStore) Redeem(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", authguard.ErrUnlockTokenInvalid
	}
	sum := sha256.Sum256([]byte(token))

	var userID string
	err := s.pool.QueryRow(ctx,
		`UPDATE unlock_tokens
		    SET used = true
		  WHERE token_hash = $1 AND NOT used AND expires_at > now()
		  RETURNING user_id`,
		hex.EncodeToString(sum[:]),
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", authguard.ErrUnlockTokenInvalid
		}
		return "", fmt.Errorf("%w: %v", authguard.ErrStoreUnavailable, err)
	}

	return userID, nil
}
