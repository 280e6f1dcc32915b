package valkey

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Connect parses the cache URL, connects, and pings to verify the connection. The valkey:// scheme is replaced with
// redis:// for go-redis compatibility. poolMax caps the client connection pool.
func Connect(ctx context.Context, rawURL string, poolMax int) (*redis.Client, error) {
	// go-redis only understands the redis:// scheme, so replace valkey:// (case-insensitive) before parsing.
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse cache URL: %w", err)
	}
	if strings.EqualFold(parsed.Scheme, "valkey") {
		parsed.Scheme = "redis"
	}

	opts, err := redis.ParseURL(parsed.String())
	if err != nil {
		return nil, fmt.Errorf("parse cache URL: %w", err)
	}
	opts.PoolSize = poolMax

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping cache: %w", err)
	}

	return client, nil
}
