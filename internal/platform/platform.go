// Package platform is the narrow boundary to the hosting chat platform. The relay only needs to read channel
// messages, post formatted envelopes, and send short notices; everything else the platform API offers stays out of
// scope behind this interface.
package platform

import (
	"context"
	"errors"
)

// Author identifies the platform user who wrote a message.
type Author struct {
	ID       int64  `json:"id,string"`
	Username string `json:"username"`
	Bot      bool   `json:"bot,omitempty"`
}

// Attachment is a file attached to a platform message. The relay forwards attachments by URL only.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// Message is the subset of a platform message the relay reads.
type Message struct {
	ID                int64        `json:"id,string"`
	ChannelID         int64        `json:"channel_id,string"`
	GuildID           int64        `json:"guild_id,string,omitempty"`
	Author            Author       `json:"author"`
	Content           string       `json:"content"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	ReferencedMessage *Message     `json:"referenced_message,omitempty"`
}

// Client is what the relay requires from the platform API.
type Client interface {
	// SendMessage posts content to the channel and returns the created message ID.
	SendMessage(ctx context.Context, channelID int64, content string) (int64, error)

	// FetchMessage retrieves a single message, used by the reply resolver when the referenced message is not in
	// the log.
	FetchMessage(ctx context.Context, channelID, messageID int64) (*Message, error)

	// SendNotice posts a short rejection notice to the channel. Notices are best-effort; failures are logged, not
	// retried.
	SendNotice(ctx context.Context, channelID int64, content string) error
}

// Sentinel errors for delivery classification. Fan-out retries transient errors and deactivates targets on permanent
// ones.
var (
	ErrNotFound    = errors.New("platform resource not found")
	ErrForbidden   = errors.New("platform denied access")
	ErrRateLimited = errors.New("platform rate limited")
	ErrUnavailable = errors.New("platform unavailable")
)

// IsPermanent reports whether a delivery error will not succeed on retry: the channel is gone or the relay lost
// access to it.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden)
}
