package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/auth"
	"github.com/crosslink-chat/crosslink-server/internal/ban"
	"github.com/crosslink-chat/crosslink-server/internal/cache"
	"github.com/crosslink-chat/crosslink-server/internal/httputil"
	"github.com/crosslink-chat/crosslink-server/internal/livepush"
)

// BanHandler serves the guild ban endpoints.
type BanHandler struct {
	bans       ban.Repository
	invalidate *cache.Publisher
	push       *livepush.Publisher
	log        zerolog.Logger
}

// NewBanHandler creates a new ban handler.
func NewBanHandler(bans ban.Repository, invalidate *cache.Publisher, push *livepush.Publisher, logger zerolog.Logger) *BanHandler {
	return &BanHandler{bans: bans, invalidate: invalidate, push: push, log: logger}
}

// List handles GET /api/servers/bans.
func (h *BanHandler) List(c fiber.Ctx) error {
	includeInactive := c.Query("include_inactive") == "true"

	bans, err := h.bans.List(c, includeInactive)
	if err != nil {
		return h.mapBanError(c, err)
	}
	return httputil.Success(c, bans)
}

type createBanRequest struct {
	GuildID   int64  `json:"guild_id,string"`
	GuildName string `json:"guild_name"`
	Reason    string `json:"reason"`
}

// Create handles POST /api/servers/bans. Banning only records the flag; the guild's subscriptions stay as they are
// and the relay ignores them until the ban is lifted.
func (h *BanHandler) Create(c fiber.Ctx) error {
	var body createBanRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}
	if body.GuildID == 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, "guild_id is required")
	}

	identity := auth.IdentityFrom(c)
	created, err := h.bans.Ban(c, ban.CreateParams{
		GuildID:   body.GuildID,
		GuildName: body.GuildName,
		Reason:    body.Reason,
		BannedBy:  identity.Username,
	})
	if err != nil {
		return h.mapBanError(c, err)
	}

	if err := h.invalidate.InvalidateGuild(c, body.GuildID); err != nil {
		h.log.Warn().Err(err).Int64("guild_id", body.GuildID).Msg("Guild invalidation publish failed")
	}
	h.push.SystemNotification(c, "warning", "Server "+created.GuildName+" has been banned")

	return httputil.SuccessStatus(c, fiber.StatusCreated, created)
}

// Delete handles DELETE /api/servers/bans/:guildID. The retained subscriptions resume delivery as soon as the
// cached ban flag is dropped.
func (h *BanHandler) Delete(c fiber.Ctx) error {
	guildID, err := strconv.ParseInt(c.Params("guildID"), 10, 64)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid guild id")
	}

	identity := auth.IdentityFrom(c)
	lifted, err := h.bans.Unban(c, guildID, identity.Username)
	if err != nil {
		return h.mapBanError(c, err)
	}

	if err := h.invalidate.InvalidateGuild(c, guildID); err != nil {
		h.log.Warn().Err(err).Int64("guild_id", guildID).Msg("Guild invalidation publish failed")
	}
	h.push.SystemNotification(c, "info", "Server "+lifted.GuildName+" has been unbanned")

	return httputil.Success(c, lifted)
}

func (h *BanHandler) mapBanError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ban.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Ban not found")
	case errors.Is(err, ban.ErrAlreadyBanned):
		return httputil.Fail(c, fiber.StatusConflict, httputil.CodeConflict, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "ban").Msg("Unhandled ban error")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
}
