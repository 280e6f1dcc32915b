package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// liveStatsTTL bounds staleness of the shared live stats document.
const liveStatsTTL = 60 * time.Second

const liveStatsKey = "live_stats"

// LiveStats is the dashboard counter document shared between relay instances and the admin plane.
type LiveStats struct {
	MessagesRelayed  int64     `json:"messages_relayed"`
	MessagesRejected int64     `json:"messages_rejected"`
	DeliveriesFailed int64     `json:"deliveries_failed"`
	ActiveRooms      int       `json:"active_rooms"`
	ActiveGuilds     int       `json:"active_guilds"`
	MessagesLastHour int64     `json:"messages_last_hour"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// GetLiveStats returns the cached stats document, or ok=false when it has expired.
func (c *Cache) GetLiveStats(ctx context.Context) (*LiveStats, bool, error) {
	val, err := c.Client.Get(ctx, liveStatsKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get live stats: %w", err)
	}

	var stats LiveStats
	if err := json.Unmarshal([]byte(val), &stats); err != nil {
		return nil, false, fmt.Errorf("decode live stats: %w", err)
	}
	return &stats, true, nil
}

// SetLiveStats stores the stats document.
func (c *Cache) SetLiveStats(ctx context.Context, stats *LiveStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode live stats: %w", err)
	}
	if err := c.Client.Set(ctx, liveStatsKey, data, liveStatsTTL).Err(); err != nil {
		return fmt.Errorf("set live stats: %w", err)
	}
	return nil
}
