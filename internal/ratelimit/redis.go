package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares the cooldown table between service instances. Each
// allowed send writes a key that expires after the cooldown, so Redis evicts
// the table on its own.
type RedisLimiter struct {
	rdb      redis.UniversalClient
	cooldown time.Duration
	prefix   string
}

type RedisOption func(*RedisLimiter)

func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) { l.prefix = strings.Trim(prefix, ":") }
}

func NewRedisLimiter(rdb redis.UniversalClient, cooldown time.Duration, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		rdb:      rdb,
		cooldown: cooldown,
		prefix:   "otp:last",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLimiter) Allow(ctx context.Context, identifier string) (Decision, error) {
	if identifier == "" {
		return Decision{Allowed: true}, nil
	}

	key := l.prefix + ":" + identifier

	// The key can expire between SETNX and PTTL; one retry covers that window.
	for i := 0; i < 2; i++ {
		ok, err := l.rdb.SetNX(ctx, key, time.Now().UnixMilli(), l.cooldown).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("failed to record OTP send: %w", err)
		}
		if ok {
			return Decision{Allowed: true}, nil
		}

		ttl, err := l.rdb.PTTL(ctx, key).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("failed to read OTP cooldown: %w", err)
		}
		if ttl > 0 {
			return Decision{Allowed: false, RetryAfter: ttl}, nil
		}
	}

	return Decision{Allowed: false, RetryAfter: l.cooldown}, nil
}
