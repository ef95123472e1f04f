package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/qcom/otpguard/internal/clock"
)

const shardCount = 32

// MemoryLimiter keeps last-send timestamps in process memory. The table is
// split into shards so identifiers in different shards never contend, and it
// is bounded: entries older than the cooldown are swept, and a full shard
// evicts its oldest entry before inserting.
type MemoryLimiter struct {
	cooldown      time.Duration
	shardCapacity int
	cleanupEvery  time.Duration
	clock         clock.Clock
	shards        [shardCount]*shard
}

type shard struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
}

type MemoryOption func(*MemoryLimiter)

func WithClock(c clock.Clock) MemoryOption {
	return func(l *MemoryLimiter) { l.clock = c }
}

func WithCapacity(n int) MemoryOption {
	return func(l *MemoryLimiter) {
		l.shardCapacity = n / shardCount
		if n%shardCount != 0 {
			l.shardCapacity++
		}
	}
}

func WithCleanupEvery(d time.Duration) MemoryOption {
	return func(l *MemoryLimiter) { l.cleanupEvery = d }
}

func NewMemoryLimiter(cooldown time.Duration, opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		cooldown:      cooldown,
		shardCapacity: 100000 / shardCount,
		cleanupEvery:  2 * time.Minute,
		clock:         clock.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.shardCapacity < 1 {
		l.shardCapacity = 1
	}
	for i := range l.shards {
		l.shards[i] = &shard{lastSent: make(map[string]time.Time)}
	}
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, identifier string) (Decision, error) {
	if identifier == "" {
		return Decision{Allowed: true}, nil
	}

	now := l.clock.Now()
	s := l.shardFor(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastSent[identifier]; ok {
		if elapsed := now.Sub(last); elapsed < l.cooldown {
			return Decision{Allowed: false, RetryAfter: l.cooldown - elapsed}, nil
		}
	} else if len(s.lastSent) >= l.shardCapacity {
		s.makeRoom(now, l.cooldown, l.shardCapacity)
	}

	s.lastSent[identifier] = now
	return Decision{Allowed: true}, nil
}

// Len reports how many identifiers are currently tracked.
func (l *MemoryLimiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.lastSent)
		s.mu.Unlock()
	}
	return n
}

// Cleanup drops every entry whose cooldown has already elapsed.
func (l *MemoryLimiter) Cleanup() {
	now := l.clock.Now()
	for _, s := range l.shards {
		s.mu.Lock()
		s.sweep(now, l.cooldown)
		s.mu.Unlock()
	}
}

// StartJanitor runs Cleanup periodically until ctx is done.
func (l *MemoryLimiter) StartJanitor(ctx context.Context) {
	if l.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(l.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Cleanup()
			}
		}
	}()
}

func (l *MemoryLimiter) shardFor(identifier string) *shard {
	h := fnv.New32a()
	h.Write([]byte(identifier))
	return l.shards[h.Sum32()%shardCount]
}

func (s *shard) sweep(now time.Time, cooldown time.Duration) {
	for k, last := range s.lastSent {
		if now.Sub(last) >= cooldown {
			delete(s.lastSent, k)
		}
	}
}

// makeRoom must be called with s.mu held.
func (s *shard) makeRoom(now time.Time, cooldown time.Duration, capacity int) {
	s.sweep(now, cooldown)
	if len(s.lastSent) < capacity {
		return
	}

	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, last := range s.lastSent {
		if !found || last.Before(oldest) {
			oldestKey, oldest, found = k, last, true
		}
	}
	delete(s.lastSent, oldestKey)
}
