// Package relay implements the per-message pipeline: content filtering, rate limiting, reply resolution, envelope
// formatting, and fan-out with retry.
package relay

import (
	"github.com/crosslink-chat/crosslink-server/internal/platform"
)

// Inbound is one chat event handed to the coordinator by the gateway sidecar.
type Inbound struct {
	GuildID       int64                 `json:"guild_id,string"`
	GuildName     string                `json:"guild_name"`
	ChannelID     int64                 `json:"channel_id,string"`
	MessageID     int64                 `json:"message_id,string"`
	AuthorID      int64                 `json:"author_id,string"`
	AuthorDisplay string                `json:"author_display"`
	AuthorIsBot   bool                  `json:"author_is_bot,omitempty"`
	Content       string                `json:"content"`
	Attachments   []platform.Attachment `json:"attachments,omitempty"`
	Referenced    *platform.Message     `json:"referenced_message,omitempty"`
}

// Reason classifies a policy rejection. Rejections are expected outcomes: the message is dropped and the author may
// receive a notice, but nothing is logged as a failure.
type Reason string

const (
	ReasonTooLong               Reason = "TooLong"
	ReasonUrlsDisallowed        Reason = "UrlsDisallowed"
	ReasonAttachmentsDisallowed Reason = "AttachmentsDisallowed"
	ReasonBannedWord            Reason = "BannedWord"
	ReasonDuplicateMessage      Reason = "DuplicateMessage"
	ReasonRateLimited           Reason = "RateLimited"
	ReasonNotSubscribed         Reason = "NotSubscribed"
	ReasonRoomInactive          Reason = "RoomInactive"
	ReasonGuildBanned           Reason = "GuildBanned"
)

// notice returns the author-facing text for a rejection, or "" when the drop is silent.
func (r Reason) notice(detail string) string {
	switch r {
	case ReasonTooLong:
		return "Your message was not relayed: it exceeds the room's length limit."
	case ReasonUrlsDisallowed:
		return "Your message was not relayed: links are not allowed in this room."
	case ReasonAttachmentsDisallowed:
		return "Your message was not relayed: attachments are not allowed in this room."
	case ReasonBannedWord:
		return "Your message was not relayed: it contains a blocked word."
	case ReasonDuplicateMessage:
		return "Your message was not relayed: duplicate of your previous message."
	case ReasonRateLimited:
		if detail != "" {
			return "You're sending messages too quickly. Try again in " + detail + "."
		}
		return "You're sending messages too quickly."
	default:
		// Routing outcomes (not subscribed, banned, inactive room) drop silently.
		return ""
	}
}
