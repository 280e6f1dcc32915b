package livepush

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame types exchanged with dashboard clients. Unknown types are ignored by both ends.
const (
	FrameAuthenticate       = "authenticate"
	FrameAuthSuccess        = "authentication_success"
	FrameAuthError          = "authentication_error"
	FramePing               = "ping"
	FramePong               = "pong"
	FrameLiveStats          = "live_stats"
	FrameNewMessage         = "new_message"
	FrameRoomUpdate         = "room_update"
	FrameChannelUpdate      = "channel_update"
	FrameSystemNotification = "system_notification"
)

// Frame is the JSON structure of every WebSocket message in either direction.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type authenticateData struct {
	Token string `json:"token"`
}

type authResultData struct {
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

type pingData struct {
	TS int64 `json:"ts"`
}

// newFrame serialises a complete frame with the given payload.
func newFrame(frameType string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", frameType, err)
	}
	return json.Marshal(Frame{Type: frameType, Data: payload})
}

// newRawFrame wraps already-serialised payload bytes in a frame.
func newRawFrame(frameType string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Type: frameType, Data: data})
}

// NewMessageEvent is pushed for every successfully relayed message. RoomID lets dashboards filter to the rooms they
// are watching.
type NewMessageEvent struct {
	RoomID          int64     `json:"room_id"`
	SourceGuildID   int64     `json:"source_guild_id,string"`
	SourceChannelID int64     `json:"source_channel_id,string"`
	AuthorDisplay   string    `json:"author_display"`
	Content         string    `json:"content"`
	DeliveredCount  int       `json:"delivered_count"`
	FailedCount     int       `json:"failed_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// RoomEvent announces an admin mutation of a room or its permissions.
type RoomEvent struct {
	Action string `json:"action"`
	RoomID int64  `json:"room_id"`
	Name   string `json:"name,omitempty"`
}

// ChannelEvent announces a subscription change: registered, unregistered, or deactivated by delivery failure.
type ChannelEvent struct {
	Action    string `json:"action"`
	RoomID    int64  `json:"room_id"`
	GuildID   int64  `json:"guild_id,string"`
	ChannelID int64  `json:"channel_id,string"`
	GuildName string `json:"guild_name,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// SystemNotificationEvent carries server health and operational notices.
type SystemNotificationEvent struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}
