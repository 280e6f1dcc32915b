package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/analytics"
	"github.com/crosslink-chat/crosslink-server/internal/httputil"
	"github.com/crosslink-chat/crosslink-server/internal/messagelog"
	"github.com/crosslink-chat/crosslink-server/internal/room"
)

// AnalyticsHandler serves the dashboard aggregate endpoints.
type AnalyticsHandler struct {
	analytics *analytics.Service
	log       zerolog.Logger
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(svc *analytics.Service, logger zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: svc, log: logger}
}

// Live handles GET /api/analytics/live.
func (h *AnalyticsHandler) Live(c fiber.Ctx) error {
	stats, err := h.analytics.Live(c)
	if err != nil {
		return h.mapAnalyticsError(c, err)
	}
	return httputil.Success(c, stats)
}

// Messages handles GET /api/analytics/messages?days.
func (h *AnalyticsHandler) Messages(c fiber.Ctx) error {
	days, _ := strconv.Atoi(c.Query("days"))

	stats, err := h.analytics.Messages(c, days)
	if err != nil {
		return h.mapAnalyticsError(c, err)
	}
	return httputil.Success(c, stats)
}

// RoomStats handles GET /api/analytics/rooms/:roomID/stats?days.
func (h *AnalyticsHandler) RoomStats(c fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid room id")
	}
	days, _ := strconv.Atoi(c.Query("days"))

	report, err := h.analytics.Room(c, id, days)
	if err != nil {
		return h.mapAnalyticsError(c, err)
	}
	return httputil.Success(c, report)
}

// Health handles GET /api/analytics/health.
func (h *AnalyticsHandler) Health(c fiber.Ctx) error {
	return httputil.Success(c, h.analytics.CheckHealth(c))
}

// Trends handles GET /api/analytics/trends?period.
func (h *AnalyticsHandler) Trends(c fiber.Ctx) error {
	points, err := h.analytics.Trend(c, c.Query("period"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, err.Error())
	}
	return httputil.Success(c, points)
}

// ExportMessages handles GET /api/analytics/export/messages. Filters mirror the paged listing; the result is the
// complete matching log, oldest first.
func (h *AnalyticsHandler) ExportMessages(c fiber.Ctx) error {
	q := messagelog.Query{Search: strings.TrimSpace(c.Query("search"))}

	if raw := c.Query("room_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid room_id")
		}
		q.RoomID = &id
	}
	if raw := c.Query("guild_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid guild_id")
		}
		q.GuildID = &id
	}
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid since timestamp")
		}
		q.Since = &t
	}
	if raw := c.Query("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid until timestamp")
		}
		q.Until = &t
	}

	entries, err := h.analytics.Export(c, q)
	if err != nil {
		return h.mapAnalyticsError(c, err)
	}
	return httputil.Success(c, fiber.Map{
		"messages": entries,
		"count":    len(entries),
	})
}

func (h *AnalyticsHandler) mapAnalyticsError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Room not found")
	default:
		h.log.Error().Err(err).Str("handler", "analytics").Msg("Unhandled analytics error")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
}
