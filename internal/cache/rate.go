package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// duplicateTTL is how long a user's last message fingerprint is held for duplicate suppression.
	duplicateTTL = 60 * time.Second

	// noticeTTL suppresses repeat rejection notices to the same author for the same reason.
	noticeTTL = 60 * time.Second
)

func rateKey(roomID, authorID int64) string {
	return "rate:" + strconv.FormatInt(roomID, 10) + ":" + strconv.FormatInt(authorID, 10)
}

func lastMsgKey(roomID, authorID int64) string {
	return "lastmsg:" + strconv.FormatInt(roomID, 10) + ":" + strconv.FormatInt(authorID, 10)
}

func noticeKey(authorID int64, kind string) string {
	return "notice:" + strconv.FormatInt(authorID, 10) + ":" + kind
}

// RateHit increments the author's sliding-window counter for the room and reports whether this message is allowed.
// The first hit in a window sets the TTL; later hits within the window are rejected with the remaining window as the
// retry-after hint. The counter expires naturally, so there is no reset path.
func (c *Cache) RateHit(ctx context.Context, roomID, authorID int64, window time.Duration) (allowed bool, retryAfter time.Duration, err error) {
	if window <= 0 {
		return true, 0, nil
	}

	key := rateKey(roomID, authorID)

	pipe := c.Client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit increment: %w", err)
	}

	if incr.Val() <= 1 {
		return true, 0, nil
	}

	ttl, err := c.Client.TTL(ctx, key).Result()
	if err != nil {
		return false, window, fmt.Errorf("rate limit ttl: %w", err)
	}
	if ttl < 0 {
		ttl = window
	}
	return false, ttl, nil
}

// IsDuplicate reports whether content matches the author's previous message in the room, then records the new
// fingerprint. The fingerprint lives for the rate window or the minimum duplicate TTL, whichever is longer, so only
// rapid exact repeats count.
func (c *Cache) IsDuplicate(ctx context.Context, roomID, authorID int64, content string, window time.Duration) (bool, error) {
	sum := sha256.Sum256([]byte(content))
	fingerprint := hex.EncodeToString(sum[:])
	key := lastMsgKey(roomID, authorID)

	ttl := duplicateTTL
	if window > ttl {
		ttl = window
	}

	prev, err := c.Client.GetSet(ctx, key, fingerprint).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	if expErr := c.Client.Expire(ctx, key, ttl).Err(); expErr != nil {
		return false, fmt.Errorf("duplicate fingerprint expire: %w", expErr)
	}

	return prev == fingerprint, nil
}

// ShouldNotify reports whether a rejection notice for (author, kind) should be sent, suppressing repeats within the
// notice TTL.
func (c *Cache) ShouldNotify(ctx context.Context, authorID int64, kind string) (bool, error) {
	ok, err := c.Client.SetNX(ctx, noticeKey(authorID, kind), "1", noticeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("notice dedupe: %w", err)
	}
	return ok, nil
}
