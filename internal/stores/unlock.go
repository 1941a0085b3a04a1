package stores

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const unlockTokenRawSize = 32

// ErrTokenNotFound covers unknown, expired, and already-redeemed unlock
// tokens alike; callers must not be able to tell these apart.
var ErrTokenNotFound = errors.New("unlock token not found")

// UnlockTokenStore persists single-use unlock tokens in Redis. Only the
// SHA-256 of the token ever touches the store; expiry rides on the key TTL
// and redemption is a single atomic GETDEL.
type UnlockTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewUnlockTokenStore creates a store with the given key prefix ("ult" when
// empty).
func NewUnlockTokenStore(redisClient redis.UniversalClient, prefix string) *UnlockTokenStore {
	if prefix == "" {
		prefix = "ult"
	}
	return &UnlockTokenStore{redis: redisClient, prefix: prefix}
}

func (s *UnlockTokenStore) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return s.prefix + ":" + hex.EncodeToString(sum[:])
}

// Create mints an opaque token for userID, valid for ttl.
func (s *UnlockTokenStore) Create(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		raw := make([]byte, unlockTokenRawSize)
		if _, err := rand.Read(raw); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		token := base64.RawURLEncoding.EncodeToString(raw)

		ok, err := s.redis.SetNX(ctx, s.key(token), userID, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if ok {
			return token, nil
		}
		// 256-bit collision in practice means a broken RNG; try a fresh draw.
	}

	return "", fmt.Errorf("%w: token collision", ErrUnavailable)
}

// Redeem consumes the token exactly once and returns the user it unlocks.
func (s *UnlockTokenStore) Redeem(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrTokenNotFound
	}

	userID, err := s.redis.GetDel(ctx, s.key(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return userID, nil
}
