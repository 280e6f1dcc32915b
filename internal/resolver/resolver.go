// Package resolver answers the hot-path question: which room does this channel feed, and is the sender allowed to use
// it. Lookups are cache-first; the store is only consulted on a miss and the answer is written back.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/ban"
	"github.com/crosslink-chat/crosslink-server/internal/cache"
	"github.com/crosslink-chat/crosslink-server/internal/room"
	"github.com/crosslink-chat/crosslink-server/internal/subscription"
)

var (
	ErrNotSubscribed = errors.New("channel is not subscribed to any room")
	ErrRoomInactive  = errors.New("room is not active")
	ErrGuildBanned   = errors.New("guild is banned from the relay")
)

// Resolver loads room snapshots for inbound messages.
type Resolver struct {
	cache *cache.Cache
	rooms room.Repository
	subs  subscription.Repository
	bans  ban.Repository
	log   zerolog.Logger
}

// New creates a Resolver over the cache and the backing repositories.
func New(c *cache.Cache, rooms room.Repository, subs subscription.Repository, bans ban.Repository, logger zerolog.Logger) *Resolver {
	return &Resolver{cache: c, rooms: rooms, subs: subs, bans: bans, log: logger}
}

// Resolve maps an inbound (guild, channel) to its room snapshot. It returns ErrNotSubscribed when the channel has no
// active binding, ErrRoomInactive when the room is paused, and ErrGuildBanned when the sending guild is excluded.
// The ban check runs last so banned guilds cannot probe room topology through error differences.
func (r *Resolver) Resolve(ctx context.Context, guildID, channelID int64) (*cache.RoomSnapshot, error) {
	roomID, err := r.resolveChannel(ctx, guildID, channelID)
	if err != nil {
		return nil, err
	}

	snap, err := r.Snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !snap.Room.IsActive {
		return nil, ErrRoomInactive
	}

	banned, err := r.guildBanned(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, ErrGuildBanned
	}

	return snap, nil
}

// Snapshot returns the room's snapshot, loading from the store and filling the cache on a miss.
func (r *Resolver) Snapshot(ctx context.Context, roomID int64) (*cache.RoomSnapshot, error) {
	snap, ok, err := r.cache.GetRoomSnapshot(ctx, roomID)
	if err != nil {
		// A broken cache degrades to store reads rather than dropping traffic.
		r.log.Warn().Err(err).Int64("room_id", roomID).Msg("Room snapshot cache read failed")
	}
	if ok {
		return snap, nil
	}

	rm, err := r.rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			return nil, ErrNotSubscribed
		}
		return nil, fmt.Errorf("load room: %w", err)
	}
	perms, err := r.rooms.GetPermissions(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load room permissions: %w", err)
	}
	subs, err := r.subs.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load room subscriptions: %w", err)
	}

	snap = &cache.RoomSnapshot{Room: *rm, Permissions: *perms, Subscriptions: subs}
	if err := r.cache.SetRoomSnapshot(ctx, snap); err != nil {
		r.log.Warn().Err(err).Int64("room_id", roomID).Msg("Room snapshot cache write failed")
	}
	return snap, nil
}

func (r *Resolver) resolveChannel(ctx context.Context, guildID, channelID int64) (int64, error) {
	roomID, bound, ok, err := r.cache.GetChannelRoom(ctx, guildID, channelID)
	if err != nil {
		r.log.Warn().Err(err).Int64("channel_id", channelID).Msg("Channel binding cache read failed")
	}
	if ok {
		if !bound {
			return 0, ErrNotSubscribed
		}
		return roomID, nil
	}

	sub, err := r.subs.GetByChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			if cacheErr := r.cache.SetChannelUnbound(ctx, guildID, channelID); cacheErr != nil {
				r.log.Warn().Err(cacheErr).Int64("channel_id", channelID).Msg("Channel tombstone cache write failed")
			}
			return 0, ErrNotSubscribed
		}
		return 0, fmt.Errorf("load channel binding: %w", err)
	}
	if !sub.IsActive {
		if cacheErr := r.cache.SetChannelUnbound(ctx, guildID, channelID); cacheErr != nil {
			r.log.Warn().Err(cacheErr).Int64("channel_id", channelID).Msg("Channel tombstone cache write failed")
		}
		return 0, ErrNotSubscribed
	}

	if err := r.cache.SetChannelRoom(ctx, guildID, channelID, sub.RoomID); err != nil {
		r.log.Warn().Err(err).Int64("channel_id", channelID).Msg("Channel binding cache write failed")
	}
	return sub.RoomID, nil
}

func (r *Resolver) guildBanned(ctx context.Context, guildID int64) (bool, error) {
	banned, ok, err := r.cache.GetGuildBanned(ctx, guildID)
	if err != nil {
		r.log.Warn().Err(err).Int64("guild_id", guildID).Msg("Guild ban cache read failed")
	}
	if ok {
		return banned, nil
	}

	banned, err = r.bans.IsBanned(ctx, guildID)
	if err != nil {
		return false, fmt.Errorf("load guild ban: %w", err)
	}
	if err := r.cache.SetGuildBanned(ctx, guildID, banned); err != nil {
		r.log.Warn().Err(err).Int64("guild_id", guildID).Msg("Guild ban cache write failed")
	}
	return banned, nil
}
