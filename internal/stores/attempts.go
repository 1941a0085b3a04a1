// Package stores provides the Redis-backed implementations of the engine's
// persistent collaborators: login-attempt records and single-use unlock
// tokens. Records are encoded in a compact versioned binary layout; the
// read-modify-write of an attempt record runs under WATCH so concurrent
// failures for the same (user, ip) pair never under-count.
package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finbudget/authguard/internal/throttle"
)

const attemptRecordVersionV1 = 1

var (
	// ErrUnavailable indicates the Redis backend is unreachable or returned
	// an unexpected failure.
	ErrUnavailable = errors.New("attempt store unavailable")
	// ErrContention indicates the optimistic update kept losing races and
	// gave up.
	ErrContention = errors.New("attempt store contention")
)

// AttemptStore persists throttle records in Redis.
type AttemptStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewAttemptStore creates a store with the given key prefix ("lat" when
// empty). retention bounds how long idle records survive; zero keeps them
// until reset.
func NewAttemptStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *AttemptStore {
	if prefix == "" {
		prefix = "lat"
	}
	return &AttemptStore{redis: redisClient, prefix: prefix, retention: retention}
}

func (s *AttemptStore) key(userID, ip string) string {
	return s.prefix + ":" + userID + ":" + ip
}

func (s *AttemptStore) userIndexKey(userID string) string {
	return s.prefix + "u:" + userID
}

// Get returns the stored record for the pair, or nil when none exists.
func (s *AttemptStore) Get(ctx context.Context, userID, ip string) (*throttle.Record, error) {
	data, err := s.redis.Get(ctx, s.key(userID, ip)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rec, err := decodeAttemptRecord(data)
	if err != nil {
		return nil, err
	}
	rec.UserID = userID
	rec.IP = ip
	return rec, nil
}

// Update applies fn to the current record (zero-valued when absent) and
// persists the result, atomically with respect to other Updates on the same
// pair.
func (s *AttemptStore) Update(ctx context.Context, userID, ip string, apply func(throttle.Record) throttle.Record) (*throttle.Record, error) {
	const maxRetries = 4
	key := s.key(userID, ip)

	for i := 0; i < maxRetries; i++ {
		var updated throttle.Record

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			rec := throttle.Record{UserID: userID, IP: ip}

			data, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				decoded, err := decodeAttemptRecord(data)
				if err != nil {
					return err
				}
				decoded.UserID = userID
				decoded.IP = ip
				rec = *decoded
			}

			updated = apply(rec)
			encoded := encodeAttemptRecord(&updated)

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.retention)
				if userID != "" {
					pipe.SAdd(ctx, s.userIndexKey(userID), ip)
					if s.retention > 0 {
						pipe.Expire(ctx, s.userIndexKey(userID), s.retention)
					}
				}
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return &updated, nil
	}

	return nil, ErrContention
}

// Reset clears the failure state for one pair. The record is overwritten with
// a zeroed one rather than deleted, preserving the last-attempt timestamp.
func (s *AttemptStore) Reset(ctx context.Context, userID, ip string) error {
	rec := throttle.ResetRecord(throttle.Record{UserID: userID, IP: ip}, time.Now())
	if err := s.redis.Set(ctx, s.key(userID, ip), encodeAttemptRecord(&rec), s.retention).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ResetUser clears the failure state across every IP the user has attempted
// from. Used on unlock-token redemption, where the lock must fall regardless
// of the attacker's address.
func (s *AttemptStore) ResetUser(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}

	ips, err := s.redis.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := time.Now()
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ip := range ips {
			rec := throttle.ResetRecord(throttle.Record{UserID: userID, IP: ip}, now)
			pipe.Set(ctx, s.key(userID, ip), encodeAttemptRecord(&rec), s.retention)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func encodeAttemptRecord(rec *throttle.Record) []byte {
	var buf bytes.Buffer

	buf.WriteByte(attemptRecordVersionV1)
	_ = binary.Write(&buf, binary.BigEndian, uint32(rec.ConsecutiveFailures))
	_ = binary.Write(&buf, binary.BigEndian, unixOrZero(rec.DelayedUntil))
	_ = binary.Write(&buf, binary.BigEndian, unixOrZero(rec.LockedUntil))
	_ = binary.Write(&buf, binary.BigEndian, rec.LastAttempt.Unix())

	return buf.Bytes()
}

func decodeAttemptRecord(data []byte) (*throttle.Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != attemptRecordVersionV1 {
		return nil, errors.New("invalid attempt record version")
	}

	var failures uint32
	if err := binary.Read(reader, binary.BigEndian, &failures); err != nil {
		return nil, err
	}

	var delayed, locked, last int64
	if err := binary.Read(reader, binary.BigEndian, &delayed); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &locked); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &last); err != nil {
		return nil, err
	}
	if _, err := reader.ReadByte(); err != io.EOF {
		return nil, errors.New("trailing bytes in attempt record")
	}

	rec := &throttle.Record{
		ConsecutiveFailures: int(failures),
		LastAttempt:         time.Unix(last, 0).UTC(),
	}
	if delayed != 0 {
		t := time.Unix(delayed, 0).UTC()
		rec.DelayedUntil = &t
	}
	if locked != 0 {
		t := time.Unix(locked, 0).UTC()
		rec.LockedUntil = &t
	}
	return rec, nil
}

func unixOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}
