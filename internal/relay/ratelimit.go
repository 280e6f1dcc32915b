package relay

import (
	"context"
	"time"

	"github.com/crosslink-chat/crosslink-server/internal/cache"
)

// RateLimiter enforces the per-(room, author) sliding window. The cache's atomic increment linearizes simultaneous
// submissions; there is no additional locking in the relay path.
type RateLimiter struct {
	cache *cache.Cache
}

// NewRateLimiter creates a RateLimiter over the shared cache.
func NewRateLimiter(c *cache.Cache) *RateLimiter {
	return &RateLimiter{cache: c}
}

// Allow reports whether the author may post to the room now. A zero window disables limiting. When denied, retryAfter
// is the remaining window.
func (l *RateLimiter) Allow(ctx context.Context, roomID, authorID int64, windowSeconds int) (bool, time.Duration, error) {
	return l.cache.RateHit(ctx, roomID, authorID, time.Duration(windowSeconds)*time.Second)
}
