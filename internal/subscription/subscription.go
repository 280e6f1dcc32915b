// Package subscription binds guild channels to relay rooms.
package subscription

import (
	"errors"
	"time"
)

// Subscription binds one guild channel to one room. A channel can be bound to at most one room at a time; inactive
// rows are kept for audit and revived when the channel re-registers.
type Subscription struct {
	ID            int64      `json:"id"`
	RoomID        int64      `json:"room_id"`
	GuildID       int64      `json:"guild_id"`
	ChannelID     int64      `json:"channel_id"`
	GuildName     string     `json:"guild_name"`
	ChannelName   string     `json:"channel_name"`
	RegisteredBy  string     `json:"registered_by"`
	IsActive      bool       `json:"is_active"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	RegisteredAt  time.Time  `json:"registered_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RegisterParams holds the fields required to subscribe a channel to a room.
type RegisterParams struct {
	RoomID       int64
	GuildID      int64
	ChannelID    int64
	GuildName    string
	ChannelName  string
	RegisteredBy string
}

// GuildSummary aggregates a guild's subscriptions for the admin server listing.
type GuildSummary struct {
	GuildID           int64      `json:"guild_id"`
	GuildName         string     `json:"guild_name"`
	SubscriptionCount int        `json:"subscription_count"`
	ActiveCount       int        `json:"active_count"`
	FirstSubscribedAt time.Time  `json:"first_subscribed_at"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty"`
}

var (
	ErrNotFound     = errors.New("subscription not found")
	ErrAlreadyBound = errors.New("channel is already bound to a room")
	ErrRoomFull     = errors.New("room has reached its server limit")
	ErrRoomInactive = errors.New("room is not active")
	ErrRoomMissing  = errors.New("room does not exist")
	ErrGuildBanned  = errors.New("guild is banned from the relay")
)
