// Package ban manages relay-wide guild bans.
package ban

import (
	"errors"
	"time"
)

// Ban excludes a guild from the relay. Bans are soft: lifting one keeps the row with audit fields so repeat offenders
// are visible.
type Ban struct {
	ID         int64      `json:"id"`
	GuildID    int64      `json:"guild_id"`
	GuildName  string     `json:"guild_name"`
	Reason     string     `json:"reason"`
	BannedBy   string     `json:"banned_by"`
	BannedAt   time.Time  `json:"banned_at"`
	IsActive   bool       `json:"is_active"`
	UnbannedAt *time.Time `json:"unbanned_at,omitempty"`
	UnbannedBy *string    `json:"unbanned_by,omitempty"`
}

// CreateParams holds the fields required to ban a guild.
type CreateParams struct {
	GuildID   int64
	GuildName string
	Reason    string
	BannedBy  string
}

var (
	ErrNotFound      = errors.New("guild ban not found")
	ErrAlreadyBanned = errors.New("guild is already banned")
)
