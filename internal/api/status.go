package api

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/crosslink-chat/crosslink-server/internal/config"
	"github.com/crosslink-chat/crosslink-server/internal/httputil"
	"github.com/crosslink-chat/crosslink-server/internal/livepush"
	"github.com/crosslink-chat/crosslink-server/internal/relay"
)

// Version is the reported service version.
const Version = "1.0.0"

// StatusHandler serves the public liveness endpoint and the authenticated runtime info endpoint.
type StatusHandler struct {
	cfg     *config.Config
	relay   *relay.Coordinator
	hub     *livepush.Hub
	started time.Time
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(cfg *config.Config, coordinator *relay.Coordinator, hub *livepush.Hub) *StatusHandler {
	return &StatusHandler{cfg: cfg, relay: coordinator, hub: hub, started: time.Now()}
}

// Status handles GET /api/status. It is unauthenticated and safe for load balancer probes.
func (h *StatusHandler) Status(c fiber.Ctx) error {
	return httputil.Success(c, fiber.Map{
		"status":  "ok",
		"service": "crosslink-server",
		"version": Version,
	})
}

// Info handles GET /api/info.
func (h *StatusHandler) Info(c fiber.Ctx) error {
	return httputil.Success(c, fiber.Map{
		"version":        Version,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"relay":          h.relay.Metrics(),
		"dashboards":     h.hub.ClientCount(),
		"fanout": fiber.Map{
			"per_room_concurrency": h.cfg.FanoutPerRoomConcurrency,
			"retry_max":            h.cfg.FanoutRetryMax,
		},
	})
}
