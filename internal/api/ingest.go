package api

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/auth"
	"github.com/crosslink-chat/crosslink-server/internal/httputil"
	"github.com/crosslink-chat/crosslink-server/internal/relay"
)

// IngestHandler accepts inbound platform events from the edge listener and hands them to the relay pipeline.
type IngestHandler struct {
	coordinator   *relay.Coordinator
	platformToken string
	log           zerolog.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(coordinator *relay.Coordinator, platformToken string, logger zerolog.Logger) *IngestHandler {
	return &IngestHandler{coordinator: coordinator, platformToken: platformToken, log: logger}
}

// Ingest handles POST /api/ingest. The caller authenticates with the shared platform credential, not an admin
// session. A full pipeline queue surfaces as 503 so the edge can back off and retry.
func (h *IngestHandler) Ingest(c fiber.Ctx) error {
	token, ok := auth.BearerToken(c)
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.platformToken)) != 1 {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Invalid platform credential")
	}

	var in relay.Inbound
	if err := c.Bind().Body(&in); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}
	if in.GuildID == 0 || in.ChannelID == 0 || in.MessageID == 0 || in.AuthorID == 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, "guild_id, channel_id, message_id, and author_id are required")
	}

	if !h.coordinator.Enqueue(in) {
		h.log.Warn().Int64("channel_id", in.ChannelID).Msg("Ingest queue full")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Relay queue is full")
	}
	return httputil.SuccessStatus(c, fiber.StatusAccepted, fiber.Map{"queued": true})
}
