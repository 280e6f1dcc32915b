package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// InvalidateChannel is the pub/sub channel the admin plane publishes invalidations on. Every relay instance
// subscribes, so writes through the Admin API become visible within one message round-trip instead of waiting for
// TTL expiry.
const InvalidateChannel = "crosslink.invalidate"

// Invalidation identifies which cache entries to drop. Exactly one field is normally set; All forces a full flush.
type Invalidation struct {
	RoomID    *int64 `json:"room_id,omitempty"`
	ChannelID *int64 `json:"channel_id,omitempty"`
	GuildID   *int64 `json:"guild_id,omitempty"`
	All       bool   `json:"all,omitempty"`
}

// Publisher sends cache invalidation messages via Valkey pub/sub.
type Publisher struct {
	Client *redis.Client
}

// NewPublisher creates a new invalidation publisher.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{Client: client}
}

// InvalidateRoom publishes an invalidation for the room snapshot and its policy.
func (p *Publisher) InvalidateRoom(ctx context.Context, roomID int64) error {
	return p.publish(ctx, Invalidation{RoomID: &roomID})
}

// InvalidateChannelBinding publishes an invalidation for a channel's room binding.
func (p *Publisher) InvalidateChannelBinding(ctx context.Context, channelID int64) error {
	return p.publish(ctx, Invalidation{ChannelID: &channelID})
}

// InvalidateGuild publishes an invalidation for a guild's ban flag.
func (p *Publisher) InvalidateGuild(ctx context.Context, guildID int64) error {
	return p.publish(ctx, Invalidation{GuildID: &guildID})
}

// InvalidateAll publishes a full cache flush.
func (p *Publisher) InvalidateAll(ctx context.Context) error {
	return p.publish(ctx, Invalidation{All: true})
}

func (p *Publisher) publish(ctx context.Context, msg Invalidation) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	return p.Client.Publish(ctx, InvalidateChannel, data).Err()
}

// Subscriber listens for invalidation messages and removes the matching cache entries.
type Subscriber struct {
	Cache  *Cache
	Client *redis.Client
}

// NewSubscriber creates a new invalidation subscriber.
func NewSubscriber(cache *Cache, client *redis.Client) *Subscriber {
	return &Subscriber{Cache: cache, Client: client}
}

// Run subscribes to the invalidation channel and processes messages until the
// context is cancelled. This method blocks and should be called in a goroutine.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.Client.Subscribe(ctx, InvalidateChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handleMessage(ctx, msg.Payload)
		}
	}
}

func (s *Subscriber) handleMessage(ctx context.Context, payload string) {
	var msg Invalidation
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		log.Warn().Err(err).Str("payload", payload).Msg("Invalid invalidation message")
		return
	}

	var err error
	switch {
	case msg.All:
		err = s.Cache.DeleteAll(ctx)
	case msg.RoomID != nil:
		err = s.Cache.DeleteRoom(ctx, *msg.RoomID)
	case msg.ChannelID != nil:
		err = s.Cache.DeleteChannel(ctx, *msg.ChannelID)
	case msg.GuildID != nil:
		err = s.Cache.DeleteGuildBan(ctx, *msg.GuildID)
	default:
		return
	}

	if err != nil {
		log.Warn().Err(err).Msg("Cache invalidation failed")
	}
}
