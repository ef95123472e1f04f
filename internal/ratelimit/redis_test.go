package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container tests are skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}

	uri, err := ctr.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("redis connection string: %v", err)
	}
	opt, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}

	rdb := redis.NewClient(opt)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisLimiter_CooldownAndExpiry(t *testing.T) {
	rdb := newRedisClient(t)
	l := NewRedisLimiter(rdb, 300*time.Millisecond, WithKeyPrefix("test:last:"))
	ctx := context.Background()

	dec, err := l.Allow(ctx, "a@example.com")
	if err != nil || !dec.Allowed {
		t.Fatalf("expected first request allowed, got %+v err=%v", dec, err)
	}

	dec, err = l.Allow(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected second request throttled")
	}
	if dec.RetryAfter <= 0 || dec.RetryAfter > 300*time.Millisecond {
		t.Fatalf("unexpected retry after %s", dec.RetryAfter)
	}

	time.Sleep(400 * time.Millisecond)

	if dec, err := l.Allow(ctx, "a@example.com"); err != nil || !dec.Allowed {
		t.Fatalf("expected allowed after cooldown, got %+v err=%v", dec, err)
	}
}

func TestRedisLimiter_ConcurrentRequestsAllowExactlyOne(t *testing.T) {
	rdb := newRedisClient(t)
	l := NewRedisLimiter(rdb, time.Minute)

	var (
		allowed atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := l.Allow(context.Background(), "+15550001111")
			if err != nil {
				t.Errorf("allow: %v", err)
				return
			}
			if dec.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 1 {
		t.Fatalf("expected exactly one allowed, got %d", got)
	}
}
