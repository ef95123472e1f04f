package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientLimiter is a token bucket per client address, used to blunt request
// floods across many identifiers from one source. Idle buckets are dropped.
type ClientLimiter struct {
	mu      sync.Mutex
	entries map[string]*clientEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
}

type clientEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewClientLimiter(rps float64, burst int, idleTTL time.Duration) *ClientLimiter {
	return &ClientLimiter{
		entries: make(map[string]*clientEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
	}
}

func (c *ClientLimiter) get(key string) *rate.Limiter {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(c.rps, c.burst)
	c.entries[key] = &clientEntry{lim: lim, lastSeen: now}
	return lim
}

func (c *ClientLimiter) Cleanup() {
	cutoff := time.Now().Add(-c.idleTTL)

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, ent := range c.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}

// StartJanitor runs Cleanup every interval until ctx is done.
func (c *ClientLimiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Cleanup()
			}
		}
	}()
}

// Middleware rejects requests from clients that exhausted their bucket.
func (c *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := c.get(clientKey(r)).Reserve()
		if delay := res.Delay(); !res.OK() || delay > 0 {
			res.Cancel()
			seconds := 1
			if res.OK() && delay > time.Second {
				seconds = int(delay.Seconds())
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"code":"RATE_LIMITED","message":"Too many requests"}}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
