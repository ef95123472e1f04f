package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qcom/otpguard/internal/clock"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestMemoryLimiter_SecondRequestWithinCooldownIsThrottled(t *testing.T) {
	clk := clock.NewManual(t0)
	l := NewMemoryLimiter(time.Minute, WithClock(clk))
	ctx := context.Background()

	dec, err := l.Allow(ctx, "a@example.com")
	if err != nil || !dec.Allowed {
		t.Fatalf("expected first request allowed, got %+v err=%v", dec, err)
	}

	clk.Advance(20 * time.Second)
	dec, err = l.Allow(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected second request throttled")
	}
	if dec.RetryAfter != 40*time.Second {
		t.Fatalf("expected 40s retry, got %s", dec.RetryAfter)
	}
}

func TestMemoryLimiter_ThrottledRequestDoesNotExtendCooldown(t *testing.T) {
	clk := clock.NewManual(t0)
	l := NewMemoryLimiter(time.Minute, WithClock(clk))
	ctx := context.Background()

	l.Allow(ctx, "+15551234567")
	clk.Advance(59 * time.Second)
	if dec, _ := l.Allow(ctx, "+15551234567"); dec.Allowed {
		t.Fatalf("expected throttled at 59s")
	}

	clk.Advance(time.Second)
	if dec, _ := l.Allow(ctx, "+15551234567"); !dec.Allowed {
		t.Fatalf("expected allowed once the cooldown elapsed, got %+v", dec)
	}
}

func TestMemoryLimiter_EmptyIdentifierIsNotLimited(t *testing.T) {
	l := NewMemoryLimiter(time.Minute)

	for i := 0; i < 3; i++ {
		dec, err := l.Allow(context.Background(), "")
		if err != nil || !dec.Allowed {
			t.Fatalf("expected empty identifier allowed, got %+v err=%v", dec, err)
		}
	}
	if l.Len() != 0 {
		t.Fatalf("expected nothing recorded, got %d entries", l.Len())
	}
}

func TestMemoryLimiter_IdentifiersAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(time.Minute)
	ctx := context.Background()

	if dec, _ := l.Allow(ctx, "a@example.com"); !dec.Allowed {
		t.Fatalf("expected a allowed")
	}
	if dec, _ := l.Allow(ctx, "b@example.com"); !dec.Allowed {
		t.Fatalf("expected b allowed")
	}
}

func TestMemoryLimiter_ConcurrentRequestsAllowExactlyOne(t *testing.T) {
	l := NewMemoryLimiter(time.Minute)

	var (
		allowed atomic.Int32
		wg      sync.WaitGroup
		start   = make(chan struct{})
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			dec, err := l.Allow(context.Background(), "race@example.com")
			if err != nil {
				t.Errorf("allow: %v", err)
				return
			}
			if dec.Allowed {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := allowed.Load(); got != 1 {
		t.Fatalf("expected exactly one allowed, got %d", got)
	}
}

func TestMemoryLimiter_CleanupDropsElapsedEntries(t *testing.T) {
	clk := clock.NewManual(t0)
	l := NewMemoryLimiter(time.Minute, WithClock(clk), WithCleanupEvery(0))
	ctx := context.Background()

	l.Allow(ctx, "old@example.com")
	clk.Advance(45 * time.Second)
	l.Allow(ctx, "new@example.com")
	clk.Advance(30 * time.Second)

	l.Cleanup()

	if l.Len() != 1 {
		t.Fatalf("expected one entry after cleanup, got %d", l.Len())
	}
	if dec, _ := l.Allow(ctx, "new@example.com"); dec.Allowed {
		t.Fatalf("expected entry still in cooldown to survive cleanup")
	}
}

func TestMemoryLimiter_CapacityIsBounded(t *testing.T) {
	clk := clock.NewManual(t0)
	l := NewMemoryLimiter(time.Hour, WithClock(clk), WithCapacity(shardCount))
	ctx := context.Background()

	for i := 0; i < 10*shardCount; i++ {
		clk.Advance(time.Millisecond)
		if dec, _ := l.Allow(ctx, fmt.Sprintf("user%d@example.com", i)); !dec.Allowed {
			t.Fatalf("expected fresh identifier %d allowed", i)
		}
	}

	if got := l.Len(); got > shardCount {
		t.Fatalf("expected at most %d entries, got %d", shardCount, got)
	}
}
