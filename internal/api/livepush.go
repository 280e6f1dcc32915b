package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/crosslink-chat/crosslink-server/internal/livepush"
)

// LivePushHandler serves the WebSocket upgrade endpoint for dashboard live push.
type LivePushHandler struct {
	hub *livepush.Hub
}

// NewLivePushHandler creates a new live push handler.
func NewLivePushHandler(hub *livepush.Hub) *LivePushHandler {
	return &LivePushHandler{hub: hub}
}

// Upgrade handles GET /ws. It upgrades the HTTP connection to a WebSocket and hands it to the Hub. Authentication
// happens in-band with the first frame, not at upgrade time.
func (h *LivePushHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(func(conn *websocket.Conn) {
		h.hub.ServeWebSocket(conn.Conn)
	})(c)
}
