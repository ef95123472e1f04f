package repository

import (
	"context"
	"errors"
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

func TestRedisOTPRepository_RoundTripAndTTL(t *testing.T) {
	rdb := newRedisClient(t)
	repo := NewRedisOTPRepository(rdb, time.Hour, discardLogger())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	record := newRecord("a@example.com", now)
	record.Attempts = 2

	if err := repo.Upsert(ctx, record); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := repo.Get(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Attempts != 2 || got.CodeHash != record.CodeHash || !got.ExpiresAt.Equal(record.ExpiresAt) {
		t.Fatalf("unexpected record %+v", got)
	}

	ttl, err := rdb.TTL(ctx, "otp:a@example.com").Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= time.Hour || ttl > time.Hour+5*time.Minute {
		t.Fatalf("expected ttl of expiry plus retention, got %s", ttl)
	}
}

func TestRedisOTPRepository_GetMissing(t *testing.T) {
	repo := NewRedisOTPRepository(newRedisClient(t), time.Hour, discardLogger())

	if _, err := repo.Get(context.Background(), "nobody@example.com"); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound, got %v", err)
	}
}
