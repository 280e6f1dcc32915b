package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sessions are keyed by token digest so raw tokens never land in the cache. Logout deletes the entry, which revokes
// the token before its JWT expiry.
func sessionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "session:" + hex.EncodeToString(sum[:])
}

// CreateSession records an admin token as live for the given lifetime.
func (c *Cache) CreateSession(ctx context.Context, token, username string, ttl time.Duration) error {
	if err := c.Client.Set(ctx, sessionKey(token), username, ttl).Err(); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns the username bound to the token, or ok=false if the session is absent or revoked.
func (c *Cache) GetSession(ctx context.Context, token string) (string, bool, error) {
	username, err := c.Client.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get session: %w", err)
	}
	return username, true, nil
}

// DeleteSession revokes the token.
func (c *Cache) DeleteSession(ctx context.Context, token string) error {
	if err := c.Client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
