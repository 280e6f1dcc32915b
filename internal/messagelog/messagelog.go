// Package messagelog persists relayed messages and serves the analytics queries built on them.
package messagelog

import (
	"errors"
	"strings"
	"time"
)

// Entry is one relayed message as recorded after fan-out. Entries are immutable after insert.
type Entry struct {
	ID              int64     `json:"id"`
	RoomID          int64     `json:"room_id"`
	SourceGuildID   int64     `json:"source_guild_id"`
	SourceChannelID int64     `json:"source_channel_id"`
	SourceMessageID int64     `json:"source_message_id"`
	AuthorID        int64     `json:"author_id"`
	AuthorDisplay   string    `json:"author_display"`
	Content         string    `json:"content"`
	AttachmentURLs  string    `json:"attachment_urls"`
	ReplyToAuthor   *string   `json:"reply_to_author,omitempty"`
	ReplyToContent  *string   `json:"reply_to_content,omitempty"`
	DeliveredCount  int       `json:"delivered_count"`
	FailedCount     int       `json:"failed_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// AttachmentList splits the newline-separated attachment_urls column.
func (e Entry) AttachmentList() []string {
	if e.AttachmentURLs == "" {
		return nil
	}
	return strings.Split(e.AttachmentURLs, "\n")
}

// RoomStats aggregates logged traffic for one room over a window.
type RoomStats struct {
	RoomID        int64  `json:"room_id"`
	RoomName      string `json:"room_name"`
	MessageCount  int64  `json:"message_count"`
	UniqueAuthors int64  `json:"unique_authors"`
	UniqueGuilds  int64  `json:"unique_guilds"`
	Delivered     int64  `json:"delivered"`
	Failed        int64  `json:"failed"`
}

// GuildStats aggregates logged traffic originating from one guild over a window.
type GuildStats struct {
	GuildID       int64 `json:"guild_id"`
	MessageCount  int64 `json:"message_count"`
	UniqueAuthors int64 `json:"unique_authors"`
	RoomsUsed     int64 `json:"rooms_used"`
	Delivered     int64 `json:"delivered"`
	Failed        int64 `json:"failed"`
}

// TrendPoint is one bucket in a message volume trend series.
type TrendPoint struct {
	Bucket time.Time `json:"bucket"`
	Count  int64     `json:"count"`
}

// Query filters the paged message listing and the export.
type Query struct {
	RoomID   *int64
	GuildID  *int64
	AuthorID *int64
	Search   string
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

var ErrNotFound = errors.New("message log entry not found")
