package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/cache"
	"github.com/crosslink-chat/crosslink-server/internal/httputil"
	"github.com/crosslink-chat/crosslink-server/internal/messagelog"
	"github.com/crosslink-chat/crosslink-server/internal/subscription"
)

// ServerHandler serves the per-guild admin endpoints.
type ServerHandler struct {
	subs       subscription.Repository
	logs       messagelog.Repository
	invalidate *cache.Publisher
	log        zerolog.Logger
}

// NewServerHandler creates a new server handler.
func NewServerHandler(subs subscription.Repository, logs messagelog.Repository, invalidate *cache.Publisher, logger zerolog.Logger) *ServerHandler {
	return &ServerHandler{subs: subs, logs: logs, invalidate: invalidate, log: logger}
}

// List handles GET /api/servers.
func (h *ServerHandler) List(c fiber.Ctx) error {
	activeOnly := c.Query("active_only") != "false"

	guilds, err := h.subs.ListGuilds(c)
	if err != nil {
		return h.mapServerError(c, err)
	}
	if activeOnly {
		filtered := guilds[:0]
		for _, g := range guilds {
			if g.ActiveCount > 0 {
				filtered = append(filtered, g)
			}
		}
		guilds = filtered
	}
	return httputil.Success(c, guilds)
}

// Get handles GET /api/servers/:guildID.
func (h *ServerHandler) Get(c fiber.Ctx) error {
	guildID, err := parseGuildID(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid guild id")
	}

	guilds, err := h.subs.ListGuilds(c)
	if err != nil {
		return h.mapServerError(c, err)
	}
	for _, g := range guilds {
		if g.GuildID == guildID {
			return httputil.Success(c, g)
		}
	}
	return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Server not found")
}

// Channels handles GET /api/servers/:guildID/channels.
func (h *ServerHandler) Channels(c fiber.Ctx) error {
	guildID, err := parseGuildID(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid guild id")
	}

	subs, err := h.subs.ListByGuild(c, guildID)
	if err != nil {
		return h.mapServerError(c, err)
	}
	return httputil.Success(c, subs)
}

// Stats handles GET /api/servers/:guildID/stats?days.
func (h *ServerHandler) Stats(c fiber.Ctx) error {
	guildID, err := parseGuildID(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid guild id")
	}

	days, _ := strconv.Atoi(c.Query("days"))
	if days < 1 {
		days = 7
	}

	stats, err := h.logs.StatsByGuild(c, guildID, time.Now().AddDate(0, 0, -days))
	if err != nil {
		return h.mapServerError(c, err)
	}
	return httputil.Success(c, stats)
}

// Activity handles GET /api/servers/:guildID/activity?hours.
func (h *ServerHandler) Activity(c fiber.Ctx) error {
	guildID, err := parseGuildID(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid guild id")
	}

	hours, _ := strconv.Atoi(c.Query("hours"))
	if hours < 1 {
		hours = 24
	}

	points, err := h.logs.GuildActivity(c, guildID, time.Now().Add(-time.Duration(hours)*time.Hour), time.Hour)
	if err != nil {
		return h.mapServerError(c, err)
	}
	return httputil.Success(c, points)
}

// RefreshCache handles POST /api/servers/bulk/refresh-cache. It flushes every derived cache entry so the next
// resolver pass rebuilds from the store.
func (h *ServerHandler) RefreshCache(c fiber.Ctx) error {
	if err := h.invalidate.InvalidateAll(c); err != nil {
		h.log.Error().Err(err).Msg("Bulk invalidation publish failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Cache invalidation unavailable")
	}
	return httputil.Success(c, fiber.Map{"message": "Cache refresh requested"})
}

func (h *ServerHandler) mapServerError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, subscription.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Server not found")
	default:
		h.log.Error().Err(err).Str("handler", "server").Msg("Unhandled server error")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
}

func parseGuildID(c fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("guildID"), 10, 64)
}
