package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/auth"
	"github.com/crosslink-chat/crosslink-server/internal/cache"
	"github.com/crosslink-chat/crosslink-server/internal/httputil"
	"github.com/crosslink-chat/crosslink-server/internal/livepush"
	"github.com/crosslink-chat/crosslink-server/internal/messagelog"
	"github.com/crosslink-chat/crosslink-server/internal/room"
	"github.com/crosslink-chat/crosslink-server/internal/subscription"
)

// RoomHandler serves room CRUD, per-room policy, and channel binding endpoints.
type RoomHandler struct {
	rooms      room.Repository
	subs       subscription.Repository
	logs       messagelog.Repository
	invalidate *cache.Publisher
	push       *livepush.Publisher
	log        zerolog.Logger
}

// NewRoomHandler creates a new room handler.
func NewRoomHandler(
	rooms room.Repository,
	subs subscription.Repository,
	logs messagelog.Repository,
	invalidate *cache.Publisher,
	push *livepush.Publisher,
	logger zerolog.Logger,
) *RoomHandler {
	return &RoomHandler{rooms: rooms, subs: subs, logs: logs, invalidate: invalidate, push: push, log: logger}
}

// List handles GET /api/rooms.
func (h *RoomHandler) List(c fiber.Ctx) error {
	includeInactive := c.Query("include_inactive") == "true"

	rooms, err := h.rooms.List(c, includeInactive)
	if err != nil {
		return h.mapRoomError(c, err)
	}
	return httputil.Success(c, rooms)
}

// Get handles GET /api/rooms/:roomID.
func (h *RoomHandler) Get(c fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid room id")
	}

	rm, err := h.rooms.GetByID(c, id)
	if err != nil {
		return h.mapRoomError(c, err)
	}
	return httputil.Success(c, rm)
}

type createRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	MaxServers  int    `json:"max_servers"`
}

// Create handles POST /api/rooms. An absent max_servers takes the default; an explicit zero is still rejected.
func (h *RoomHandler) Create(c fiber.Ctx) error {
	body := createRoomRequest{MaxServers: room.DefaultMaxServers}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}

	identity := auth.IdentityFrom(c)
	rm, err := h.rooms.Create(c, room.CreateParams{
		Name:        body.Name,
		Description: body.Description,
		CreatedBy:   identity.Username,
		MaxServers:  body.MaxServers,
	})
	if err != nil {
		return h.mapRoomError(c, err)
	}

	h.notifyRoom(c, "created", *rm)
	return httputil.SuccessStatus(c, fiber.StatusCreated, rm)
}

type updateRoomRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	MaxServers  *int    `json:"max_servers"`
	IsActive    *bool   `json:"is_active"`
}

// Update handles PUT /api/rooms/:roomID.
func (h *RoomHandler) Update(c fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid room id")
	}

	var body updateRoomRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}

	rm, err := h.rooms.Update(c, id, room.UpdateParams{
		Name:        body.Name,
		Description: body.Description,
		MaxServers:  body.MaxServers,
		IsActive:    body.IsActive,
	})
	if err != nil {
		return h.mapRoomError(c, err)
	}

	h.notifyRoom(c, "updated", *rm)
	return httputil.Success(c, rm)
}

// Delete handles DELETE /api/rooms/:roomID. The room and its subscriptions are deactivated, not erased.
func (h *RoomHandler) Delete(c fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid room id")
	}

	rm, err := h.rooms.GetByID(c, id)
	if err != nil {
		return h.mapRoomError(c, err)
	}
	if err := h.rooms.Delete(c, id); err != nil {
		return h.mapRoomError(c, err)
	}

	h.notifyRoom(c, "deleted", *rm)
	return httputil.Success(c, fiber.Map{"message": "Room deactivated"})
}

// GetPermissions handles GET /api/rooms/:roomID/permissions.
func (h *RoomHandler) GetPermissions(c fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid room id")
	}

	perms, err := h.rooms.GetPermissions(c, id)
	if err != nil {
		return h.mapRoomError(c, err)
	}
	return httputil.Success(c, perms)
}

type updatePermissionsRequest struct {
	AllowURLs           *bool   `json:"allow_urls"`
	AllowFiles          *bool   `json:"allow_files"`
	AllowMentions       *bool   `json:"allow_mentions"`
	AllowEmojis         *bool   `json:"allow_emojis"`
	EnableBadWordFilter *bool   `json:"enable_bad_word_filter"`
	MaxMessageLength    *int    `json:"max_message_length"`
	RateLimitSeconds    *int    `json:"rate_limit_seconds"`
	BannedWords         *string `json:"banned_words"`
}

// UpdatePermissions handles PUT /api/rooms/:roomID/permissions.
func (h *RoomHandler) UpdatePermissions(c fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid room id")
	}

	var body updatePermissionsRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}

	perms, err := h.rooms.UpdatePermissions(c, id, room.PermissionsParams{
		AllowURLs:           body.AllowURLs,
		AllowFiles:          body.AllowFiles,
		AllowMentions:       body.AllowMentions,
		AllowEmojis:         body.AllowEmojis,
		EnableBadWordFilter: body.EnableBadWordFilter,
		MaxMessageLength:    body.MaxMessageLength,
		RateLimitSeconds:    body.RateLimitSeconds,
		BannedWords:         body.BannedWords,
	})
	if err != nil {
		return h.mapRoomError(c, err)
	}

	if rm, gErr := h.rooms.GetByID(c, id); gErr == nil {
		h.notifyRoom(c, "permissions_updated", *rm)
	}
	return httputil.Success(c, perms)
}

// ListChannels handles GET /api/rooms/:roomID/channels.
func (h *RoomHandler) ListChannels(c fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid room id")
	}

	if _, err := h.rooms.GetByID(c, id); err != nil {
		return h.mapRoomError(c, err)
	}
	subs, err := h.subs.ListByRoom(c, id)
	if err != nil {
		return h.mapRoomError(c, err)
	}
	return httputil.Success(c, subs)
}

type registerChannelRequest struct {
	GuildID     int64  `json:"guild_id,string"`
	ChannelID   int64  `json:"channel_id,string"`
	GuildName   string `json:"guild_name"`
	ChannelName string `json:"channel_name"`
}

// RegisterChannel handles POST /api/rooms/:roomID/channels.
func (h *RoomHandler) RegisterChannel(c fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid room id")
	}

	var body registerChannelRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}
	if body.GuildID == 0 || body.ChannelID == 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, "guild_id and channel_id are required")
	}

	identity := auth.IdentityFrom(c)
	sub, err := h.subs.Register(c, subscription.RegisterParams{
		RoomID:       id,
		GuildID:      body.GuildID,
		ChannelID:    body.ChannelID,
		GuildName:    body.GuildName,
		ChannelName:  body.ChannelName,
		RegisteredBy: identity.Username,
	})
	if err != nil {
		return h.mapRoomError(c, err)
	}

	h.notifyChannel(c, "registered", *sub)
	return httputil.SuccessStatus(c, fiber.StatusCreated, sub)
}

// UnregisterChannel handles DELETE /api/rooms/:roomID/channels/:guildID/:channelID.
func (h *RoomHandler) UnregisterChannel(c fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid room id")
	}
	guildID, err := strconv.ParseInt(c.Params("guildID"), 10, 64)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid guild id")
	}
	channelID, err := strconv.ParseInt(c.Params("channelID"), 10, 64)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid channel id")
	}

	sub, err := h.subs.Unregister(c, id, guildID, channelID)
	if err != nil {
		return h.mapRoomError(c, err)
	}

	h.notifyChannel(c, "unregistered", *sub)
	return httputil.Success(c, fiber.Map{"message": "Channel unregistered"})
}

// Messages handles GET /api/rooms/:roomID/messages.
func (h *RoomHandler) Messages(c fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid room id")
	}

	if _, err := h.rooms.GetByID(c, id); err != nil {
		return h.mapRoomError(c, err)
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	entries, total, err := h.logs.List(c, messagelog.Query{RoomID: &id, Limit: limit, Offset: offset})
	if err != nil {
		return h.mapRoomError(c, err)
	}
	return httputil.Success(c, fiber.Map{
		"messages": entries,
		"total":    total,
	})
}

// notifyRoom publishes the invalidation and dashboard event for a room mutation. Both are fire-and-forget.
func (h *RoomHandler) notifyRoom(c fiber.Ctx, action string, rm room.Room) {
	if err := h.invalidate.InvalidateRoom(c, rm.ID); err != nil {
		h.log.Warn().Err(err).Int64("room_id", rm.ID).Msg("Room invalidation publish failed")
	}
	h.push.RoomChanged(c, action, rm)
}

// notifyChannel publishes the invalidation and dashboard event for a binding mutation.
func (h *RoomHandler) notifyChannel(c fiber.Ctx, action string, sub subscription.Subscription) {
	if err := h.invalidate.InvalidateChannelBinding(c, sub.ChannelID); err != nil {
		h.log.Warn().Err(err).Int64("channel_id", sub.ChannelID).Msg("Channel invalidation publish failed")
	}
	if err := h.invalidate.InvalidateRoom(c, sub.RoomID); err != nil {
		h.log.Warn().Err(err).Int64("room_id", sub.RoomID).Msg("Room invalidation publish failed")
	}
	h.push.ChannelChanged(c, action, sub)
}

func (h *RoomHandler) mapRoomError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, room.ErrNotFound), errors.Is(err, subscription.ErrRoomMissing):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Room not found")
	case errors.Is(err, subscription.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Channel binding not found")
	case errors.Is(err, room.ErrNameTaken):
		return httputil.Fail(c, fiber.StatusConflict, httputil.CodeConflict, err.Error())
	case errors.Is(err, subscription.ErrAlreadyBound):
		return httputil.Fail(c, fiber.StatusConflict, httputil.CodeConflict, err.Error())
	case errors.Is(err, subscription.ErrRoomFull):
		return httputil.Fail(c, fiber.StatusConflict, httputil.CodeConflict, err.Error())
	case errors.Is(err, subscription.ErrRoomInactive):
		return httputil.Fail(c, fiber.StatusConflict, httputil.CodeConflict, err.Error())
	case errors.Is(err, subscription.ErrGuildBanned):
		return httputil.Fail(c, fiber.StatusForbidden, httputil.CodeForbidden, err.Error())
	case errors.Is(err, room.ErrInvalidName),
		errors.Is(err, room.ErrLimitInvalid),
		errors.Is(err, room.ErrInvalidPolicy),
		errors.Is(err, room.ErrNoFields):
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "room").Msg("Unhandled room error")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
}

func roomID(c fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("roomID"), 10, 64)
}
