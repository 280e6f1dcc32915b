// Package cache implements the Valkey-backed read path for the relay: room snapshots, channel bindings, ban flags,
// rate counters, and admin sessions, together with the pub/sub invalidation contract that keeps relay instances and
// the admin plane coherent.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crosslink-chat/crosslink-server/internal/room"
	"github.com/crosslink-chat/crosslink-server/internal/subscription"
)

const (
	// RoomTTL bounds staleness of cached room snapshots.
	RoomTTL = 3600 * time.Second

	// PermTTL bounds staleness of cached room policy.
	PermTTL = 1800 * time.Second

	// ChannelTTL bounds staleness of channel-to-room bindings.
	ChannelTTL = 7200 * time.Second

	// TombstoneTTL bounds negative channel entries. Kept short so a fresh registration becomes visible quickly even
	// if the invalidation message is lost.
	TombstoneTTL = 300 * time.Second

	// BanTTL bounds staleness of cached guild ban flags.
	BanTTL = 300 * time.Second

	// scanBatchSize is the number of keys to retrieve per SCAN iteration.
	scanBatchSize = 100
)

// channelTombstone marks a channel known to have no binding, so repeated lookups for unsubscribed channels do not hit
// the database.
const channelTombstone = "-1"

// RoomSnapshot is the cached read model the relay resolves against: the room, its policy, and its active
// subscriptions as of snapshot time.
type RoomSnapshot struct {
	Room          room.Room                   `json:"room"`
	Permissions   room.Permissions            `json:"permissions"`
	Subscriptions []subscription.Subscription `json:"subscriptions"`
}

func roomKey(roomID int64) string { return "room:" + strconv.FormatInt(roomID, 10) }
func permKey(roomID int64) string { return "perms:" + strconv.FormatInt(roomID, 10) }
func banKey(guildID int64) string { return "ban:" + strconv.FormatInt(guildID, 10) }

func channelKey(guildID, channelID int64) string {
	return "chan:" + strconv.FormatInt(guildID, 10) + ":" + strconv.FormatInt(channelID, 10)
}

// Cache wraps the Valkey client with the relay's typed key families.
type Cache struct {
	Client *redis.Client
}

// New creates a Cache on the given client.
func New(client *redis.Client) *Cache {
	return &Cache{Client: client}
}

// GetRoomSnapshot returns the cached snapshot for the room, or ok=false on a miss.
func (c *Cache) GetRoomSnapshot(ctx context.Context, roomID int64) (*RoomSnapshot, bool, error) {
	val, err := c.Client.Get(ctx, roomKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get room snapshot: %w", err)
	}

	var snap RoomSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, false, fmt.Errorf("decode cached room snapshot: %w", err)
	}
	return &snap, true, nil
}

// SetRoomSnapshot stores the snapshot under the room key.
func (c *Cache) SetRoomSnapshot(ctx context.Context, snap *RoomSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode room snapshot: %w", err)
	}
	if err := c.Client.Set(ctx, roomKey(snap.Room.ID), data, RoomTTL).Err(); err != nil {
		return fmt.Errorf("cache set room snapshot: %w", err)
	}
	return nil
}

// DeleteRoom removes the room snapshot and its policy entry.
func (c *Cache) DeleteRoom(ctx context.Context, roomID int64) error {
	if err := c.Client.Del(ctx, roomKey(roomID), permKey(roomID)).Err(); err != nil {
		return fmt.Errorf("cache delete room: %w", err)
	}
	return nil
}

// GetPermissions returns the cached policy for the room, or ok=false on a miss.
func (c *Cache) GetPermissions(ctx context.Context, roomID int64) (*room.Permissions, bool, error) {
	val, err := c.Client.Get(ctx, permKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get permissions: %w", err)
	}

	var perms room.Permissions
	if err := json.Unmarshal([]byte(val), &perms); err != nil {
		return nil, false, fmt.Errorf("decode cached permissions: %w", err)
	}
	return &perms, true, nil
}

// SetPermissions stores the room's policy.
func (c *Cache) SetPermissions(ctx context.Context, perms *room.Permissions) error {
	data, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	if err := c.Client.Set(ctx, permKey(perms.RoomID), data, PermTTL).Err(); err != nil {
		return fmt.Errorf("cache set permissions: %w", err)
	}
	return nil
}

// GetChannelRoom resolves a guild channel to its room ID. The second return distinguishes a cached "no binding"
// tombstone (ok=true, bound=false) from a cache miss (ok=false).
func (c *Cache) GetChannelRoom(ctx context.Context, guildID, channelID int64) (roomID int64, bound, ok bool, err error) {
	val, err := c.Client.Get(ctx, channelKey(guildID, channelID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("cache get channel binding: %w", err)
	}
	if val == channelTombstone {
		return 0, false, true, nil
	}

	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, false, fmt.Errorf("parse cached channel binding: %w", err)
	}
	return id, true, true, nil
}

// SetChannelRoom stores the channel's room binding.
func (c *Cache) SetChannelRoom(ctx context.Context, guildID, channelID, roomID int64) error {
	err := c.Client.Set(ctx, channelKey(guildID, channelID), strconv.FormatInt(roomID, 10), ChannelTTL).Err()
	if err != nil {
		return fmt.Errorf("cache set channel binding: %w", err)
	}
	return nil
}

// SetChannelUnbound stores a tombstone recording that the channel has no binding.
func (c *Cache) SetChannelUnbound(ctx context.Context, guildID, channelID int64) error {
	if err := c.Client.Set(ctx, channelKey(guildID, channelID), channelTombstone, TombstoneTTL).Err(); err != nil {
		return fmt.Errorf("cache set channel tombstone: %w", err)
	}
	return nil
}

// DeleteChannel removes the channel binding entry. Invalidations carry only the channel ID, so this scans the
// guild-qualified key space.
func (c *Cache) DeleteChannel(ctx context.Context, channelID int64) error {
	return c.scanAndDelete(ctx, "chan:*:"+strconv.FormatInt(channelID, 10))
}

// GetGuildBanned returns the cached ban flag for the guild, or ok=false on a miss.
func (c *Cache) GetGuildBanned(ctx context.Context, guildID int64) (banned, ok bool, err error) {
	val, err := c.Client.Get(ctx, banKey(guildID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("cache get guild ban: %w", err)
	}
	return val == "1", true, nil
}

// SetGuildBanned stores the guild's ban flag.
func (c *Cache) SetGuildBanned(ctx context.Context, guildID int64, banned bool) error {
	val := "0"
	if banned {
		val = "1"
	}
	if err := c.Client.Set(ctx, banKey(guildID), val, BanTTL).Err(); err != nil {
		return fmt.Errorf("cache set guild ban: %w", err)
	}
	return nil
}

// DeleteGuildBan removes the guild's ban flag entry.
func (c *Cache) DeleteGuildBan(ctx context.Context, guildID int64) error {
	if err := c.Client.Del(ctx, banKey(guildID)).Err(); err != nil {
		return fmt.Errorf("cache delete guild ban: %w", err)
	}
	return nil
}

// DeleteAll removes every relay cache entry. The admin bulk refresh endpoint uses this to force a full reload from
// the store.
func (c *Cache) DeleteAll(ctx context.Context) error {
	for _, pattern := range []string{"room:*", "perms:*", "chan:*", "ban:*"} {
		if err := c.scanAndDelete(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) scanAndDelete(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.Client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("scan keys %q: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.Client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
