package relay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/crosslink-chat/crosslink-server/internal/cache"
)

func newTestRateLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRateLimiter(cache.New(rdb)), mr
}

func TestAllowFirstInWindow(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestRateLimiter(t)

	allowed, retryAfter, err := limiter.Allow(context.Background(), 1, 10, 30)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Error("first message in window denied, want allowed")
	}
	if retryAfter != 0 {
		t.Errorf("retryAfter = %v, want 0", retryAfter)
	}
}

func TestAllowSecondInWindowDenied(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestRateLimiter(t)
	ctx := context.Background()

	if _, _, err := limiter.Allow(ctx, 1, 10, 30); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	allowed, retryAfter, err := limiter.Allow(ctx, 1, 10, 30)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("second message in window allowed, want denied")
	}
	if retryAfter <= 0 || retryAfter > 30*time.Second {
		t.Errorf("retryAfter = %v, want within (0, 30s]", retryAfter)
	}
}

func TestAllowAfterWindowExpires(t *testing.T) {
	t.Parallel()

	limiter, mr := newTestRateLimiter(t)
	ctx := context.Background()

	if _, _, err := limiter.Allow(ctx, 1, 10, 30); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	mr.FastForward(31 * time.Second)

	allowed, _, err := limiter.Allow(ctx, 1, 10, 30)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Error("message after window expiry denied, want allowed")
	}
}

func TestAllowZeroWindowDisablesLimiting(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestRateLimiter(t)
	ctx := context.Background()

	for range 5 {
		allowed, _, err := limiter.Allow(ctx, 1, 10, 0)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatal("message denied with zero window, want allowed")
		}
	}
}

func TestAllowIsolatesRoomsAndAuthors(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestRateLimiter(t)
	ctx := context.Background()

	if _, _, err := limiter.Allow(ctx, 1, 10, 30); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	// Same author, different room.
	if allowed, _, _ := limiter.Allow(ctx, 2, 10, 30); !allowed {
		t.Error("author denied in a different room")
	}
	// Same room, different author.
	if allowed, _, _ := limiter.Allow(ctx, 1, 11, 30); !allowed {
		t.Error("different author denied in the same room")
	}
}
