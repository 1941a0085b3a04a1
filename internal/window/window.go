// Package window implements the in-memory fixed-window counter store behind
// the request rate limiter.
//
// # Architecture boundaries
//
// The store knows nothing about HTTP, identities, or limits policy: callers
// hand it an opaque Key and the limit to enforce. Sharded mutexes keep the
// check-reset-compare-increment sequence one critical section per key.
//
// # What this package must NOT do
//
//   - Perform I/O. Counters are ephemeral by design; durability is the login
//     throttle's job.
//   - Block. Take decides immediately.
package window

import (
	"hash/maphash"
	"sync"
	"time"
)

const shardCount = 32

// Key addresses one counter: an identity (kind + value) within a class.
type Key struct {
	Kind  uint8
	Value string
	Class uint8
}

type counter struct {
	windowStart time.Time
	count       int
}

type shard struct {
	mu       sync.Mutex
	counters map[Key]*counter
}

// Store holds fixed-window counters, lazily created per key, swept
// periodically to bound memory under adversarial identity churn.
type Store struct {
	window time.Duration
	now    func() time.Time
	seed   maphash.Seed
	shards [shardCount]*shard

	janitorOnce sync.Once
	done        chan struct{}
}

// New creates a Store with the given window. now may be nil for wall-clock
// time; tests inject their own.
func New(window time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	s := &Store{
		window: window,
		now:    now,
		seed:   maphash.MakeSeed(),
		done:   make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{counters: make(map[Key]*counter)}
	}
	return s
}

// Take consumes one slot for key against limit. When the window has elapsed
// the counter resets before the check. On denial the counter is left
// untouched and the remaining window time is returned, saturating at zero.
func (s *Store) Take(key Key, limit int) (allowed bool, retryAfter time.Duration) {
	now := s.now()
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.counters[key]
	if !ok {
		c = &counter{windowStart: now}
		sh.counters[key] = c
	}

	if now.Sub(c.windowStart) >= s.window {
		c.windowStart = now
		c.count = 0
	}

	if c.count >= limit {
		remaining := s.window - now.Sub(c.windowStart)
		if remaining < 0 {
			remaining = 0
		}
		return false, remaining
	}

	c.count++
	return true, 0
}

// Count returns the current count for key without consuming a slot.
func (s *Store) Count(key Key) int {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.counters[key]
	if !ok {
		return 0
	}
	if s.now().Sub(c.windowStart) >= s.window {
		return 0
	}
	return c.count
}

// Sweep evicts counters whose window expired more than one full window ago
// and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, c := range sh.counters {
			if now.Sub(c.windowStart) >= 2*s.window {
				delete(sh.counters, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// StartJanitor sweeps on the given interval until Close. Calling it more than
// once is a no-op.
func (s *Store) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = s.window
	}
	s.janitorOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.Sweep()
				case <-s.done:
					return
				}
			}
		}()
	})
}

// Close stops the janitor, if one was started.
func (s *Store) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Store) shardFor(key Key) *shard {
	var h maphash.Hash
	h.SetSeed(s.seed)
	_ = h.WriteByte(key.Kind)
	_ = h.WriteByte(key.Class)
	_, _ = h.WriteString(key.Value)
	return s.shards[h.Sum64()%shardCount]
}
