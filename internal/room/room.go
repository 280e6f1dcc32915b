// Package room manages relay rooms and their per-room message policy.
package room

import (
	"errors"
	"strings"
	"time"
)

// Room is a named relay group that guild channels subscribe to. A room with IsActive=false is invisible to the relay
// path but retained for telemetry; its name may be reused by a new active room.
type Room struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	MaxServers  int       `json:"max_servers"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permissions is the per-room message policy. Every room has exactly one permissions row, created with defaults when
// the room is created.
type Permissions struct {
	RoomID              int64     `json:"room_id"`
	AllowURLs           bool      `json:"allow_urls"`
	AllowFiles          bool      `json:"allow_files"`
	AllowMentions       bool      `json:"allow_mentions"`
	AllowEmojis         bool      `json:"allow_emojis"`
	EnableBadWordFilter bool      `json:"enable_bad_word_filter"`
	MaxMessageLength    int       `json:"max_message_length"`
	RateLimitSeconds    int       `json:"rate_limit_seconds"`
	BannedWords         string    `json:"banned_words"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// BannedWordList splits the comma-separated banned_words column into lowercase terms, dropping empties.
func (p Permissions) BannedWordList() []string {
	if p.BannedWords == "" {
		return nil
	}
	parts := strings.Split(p.BannedWords, ",")
	words := make([]string, 0, len(parts))
	for _, part := range parts {
		if w := strings.ToLower(strings.TrimSpace(part)); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// WithChannelCount decorates a room with its active subscription count for listings.
type WithChannelCount struct {
	Room
	ChannelCount int `json:"channel_count"`
}

// CreateParams holds the fields required to create a room.
type CreateParams struct {
	Name        string
	Description string
	CreatedBy   string
	MaxServers  int
}

// UpdateParams holds optional room fields for partial updates. Nil fields are left unchanged.
type UpdateParams struct {
	Name        *string
	Description *string
	MaxServers  *int
	IsActive    *bool
}

// PermissionsParams holds optional policy fields for partial updates. Nil fields are left unchanged.
type PermissionsParams struct {
	AllowURLs           *bool
	AllowFiles          *bool
	AllowMentions       *bool
	AllowEmojis         *bool
	EnableBadWordFilter *bool
	MaxMessageLength    *int
	RateLimitSeconds    *int
	BannedWords         *string
}

// Bounds on policy values.
const (
	MinMessageLength = 1
	MaxMessageLength = 4000
	MaxRateLimit     = 60

	maxNameLength        = 50
	maxDescriptionLength = 500
)

// DefaultMaxServers is the server limit applied when a create request leaves max_servers unset.
const DefaultMaxServers = 50

var (
	ErrNotFound      = errors.New("room not found")
	ErrNameTaken     = errors.New("room name already in use")
	ErrInvalidName   = errors.New("room name must be 1-50 visible characters")
	ErrLimitInvalid  = errors.New("room server limit must be positive")
	ErrInvalidPolicy = errors.New("permission values out of range")
	ErrNoFields      = errors.New("no fields to update")
)

// ValidateCreate checks name and limit constraints before hitting the store.
func ValidateCreate(params CreateParams) error {
	name := strings.TrimSpace(params.Name)
	if name == "" || len([]rune(name)) > maxNameLength {
		return ErrInvalidName
	}
	if len(params.Description) > maxDescriptionLength {
		return ErrInvalidName
	}
	if params.MaxServers < 1 {
		return ErrLimitInvalid
	}
	return nil
}

// ValidatePermissions checks the numeric policy fields in a partial update.
func ValidatePermissions(params PermissionsParams) error {
	if params.MaxMessageLength != nil &&
		(*params.MaxMessageLength < MinMessageLength || *params.MaxMessageLength > MaxMessageLength) {
		return ErrInvalidPolicy
	}
	if params.RateLimitSeconds != nil &&
		(*params.RateLimitSeconds < 0 || *params.RateLimitSeconds > MaxRateLimit) {
		return ErrInvalidPolicy
	}
	return nil
}
