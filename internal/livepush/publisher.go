package livepush

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/messagelog"
	"github.com/crosslink-chat/crosslink-server/internal/room"
	"github.com/crosslink-chat/crosslink-server/internal/subscription"
)

// eventsChannel is the pub/sub channel carrying dashboard push events. Publishing through the cache rather than
// calling the hub directly keeps event delivery working when the admin plane and relay run in separate processes.
const eventsChannel = "crosslink.events"

// envelope is the JSON structure published to the events channel.
type envelope struct {
	Type string `json:"t"`
	Data any    `json:"d"`
}

// Publisher serialises push events and publishes them to the events channel for the hub to fan out. Publishing is
// best-effort: a lost event only delays a dashboard until its next poll.
type Publisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewPublisher creates a push event publisher.
func NewPublisher(rdb *redis.Client, logger zerolog.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: logger.With().Str("component", "livepush").Logger()}
}

func (p *Publisher) publish(ctx context.Context, frameType string, data any) error {
	payload, err := json.Marshal(envelope{Type: frameType, Data: data})
	if err != nil {
		return fmt.Errorf("marshal push event: %w", err)
	}
	if err := p.rdb.Publish(ctx, eventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish push event: %w", err)
	}
	return nil
}

// NewMessage announces a relayed message to dashboards.
func (p *Publisher) NewMessage(ctx context.Context, entry messagelog.Entry, content string) {
	event := NewMessageEvent{
		RoomID:          entry.RoomID,
		SourceGuildID:   entry.SourceGuildID,
		SourceChannelID: entry.SourceChannelID,
		AuthorDisplay:   entry.AuthorDisplay,
		Content:         content,
		DeliveredCount:  entry.DeliveredCount,
		FailedCount:     entry.FailedCount,
		CreatedAt:       entry.CreatedAt,
	}
	if err := p.publish(ctx, FrameNewMessage, event); err != nil {
		p.log.Warn().Err(err).Int64("room_id", entry.RoomID).Msg("New-message push failed")
	}
}

// ChannelDeactivated announces a subscription removed by a permanent delivery failure.
func (p *Publisher) ChannelDeactivated(ctx context.Context, sub subscription.Subscription, reason string) {
	event := ChannelEvent{
		Action:    "deactivated",
		RoomID:    sub.RoomID,
		GuildID:   sub.GuildID,
		ChannelID: sub.ChannelID,
		GuildName: sub.GuildName,
		Reason:    reason,
	}
	if err := p.publish(ctx, FrameChannelUpdate, event); err != nil {
		p.log.Warn().Err(err).Int64("channel_id", sub.ChannelID).Msg("Channel-deactivated push failed")
	}
}

// RoomChanged announces an admin mutation of a room. Action is one of created, updated, deleted,
// permissions_updated.
func (p *Publisher) RoomChanged(ctx context.Context, action string, r room.Room) {
	if err := p.publish(ctx, FrameRoomUpdate, RoomEvent{Action: action, RoomID: r.ID, Name: r.Name}); err != nil {
		p.log.Warn().Err(err).Int64("room_id", r.ID).Msg("Room-update push failed")
	}
}

// ChannelChanged announces an admin mutation of a subscription. Action is one of registered, unregistered.
func (p *Publisher) ChannelChanged(ctx context.Context, action string, sub subscription.Subscription) {
	event := ChannelEvent{
		Action:    action,
		RoomID:    sub.RoomID,
		GuildID:   sub.GuildID,
		ChannelID: sub.ChannelID,
		GuildName: sub.GuildName,
	}
	if err := p.publish(ctx, FrameChannelUpdate, event); err != nil {
		p.log.Warn().Err(err).Int64("channel_id", sub.ChannelID).Msg("Channel-update push failed")
	}
}

// SystemNotification announces a server health or operational event.
func (p *Publisher) SystemNotification(ctx context.Context, level, message string) {
	event := SystemNotificationEvent{Level: level, Message: message, At: time.Now().UTC()}
	if err := p.publish(ctx, FrameSystemNotification, event); err != nil {
		p.log.Warn().Err(err).Msg("System-notification push failed")
	}
}
