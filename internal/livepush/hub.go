package livepush

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/auth"
	"github.com/crosslink-chat/crosslink-server/internal/cache"
)

// defaultStatsInterval is how often aggregate counters are pushed to connected dashboards.
const defaultStatsInterval = 5 * time.Second

// Authenticator validates a bearer token presented over the WebSocket handshake.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Identity, error)
}

// StatsSource produces the aggregate counters pushed in live_stats frames.
type StatsSource interface {
	Live(ctx context.Context) (cache.LiveStats, error)
}

// Hub is the dashboard WebSocket registry and push distributor. It subscribes to the events channel, fans frames out
// to authenticated clients, and pushes live stats on a fixed interval. Missed frames are never replayed; dashboards
// reconcile by polling after reconnect.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex

	rdb      *redis.Client
	authn    Authenticator
	stats    StatsSource
	interval time.Duration
	log      zerolog.Logger
}

// NewHub creates a live push hub. A non-positive interval falls back to the default stats push cadence.
func NewHub(rdb *redis.Client, authn Authenticator, stats StatsSource, interval time.Duration, logger zerolog.Logger) *Hub {
	if interval <= 0 {
		interval = defaultStatsInterval
	}
	return &Hub{
		clients:  make(map[*Client]struct{}),
		rdb:      rdb,
		authn:    authn,
		stats:    stats,
		interval: interval,
		log:      logger.With().Str("component", "livepush").Logger(),
	}
}

// Run subscribes to the events channel and distributes frames to connected clients. It blocks until the context is
// cancelled or the subscription fails.
func (h *Hub) Run(ctx context.Context) error {
	sub := h.rdb.Subscribe(ctx, eventsChannel)
	defer func() { _ = sub.Close() }()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info().Msg("Live push hub subscribed to event channel")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.handlePubSubEvent(msg.Payload)
		case <-ticker.C:
			h.pushLiveStats(ctx)
		}
	}
}

// ServeWebSocket initialises a new client for an upgraded WebSocket connection and runs its pumps. The client is not
// registered until it authenticates.
func (h *Hub) ServeWebSocket(conn *websocket.Conn) {
	client := newClient(h, conn, h.log)
	go client.writePump()
	client.readPump()
}

// authenticate validates the handshake token, registers the client, and confirms with an authentication_success
// frame. On failure the client gets an authentication_error frame and the connection is closed.
func (h *Hub) authenticate(client *Client, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	identity, err := h.authn.Authenticate(ctx, token)
	if err != nil {
		h.log.Debug().Err(err).Msg("WebSocket authentication failed")
		h.rejectAuth(client, "invalid token")
		return
	}

	client.setAuthenticated(identity.Username)

	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	if frame, fErr := newFrame(FrameAuthSuccess, authResultData{Username: identity.Username}); fErr == nil {
		client.enqueue(frame)
	}
	h.log.Debug().Str("username", identity.Username).Int("total", total).Msg("Dashboard client authenticated")

	// A fresh dashboard should not wait for the next tick to render counters.
	go func() {
		statsCtx, statsCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer statsCancel()
		if frame, sErr := h.liveStatsFrame(statsCtx); sErr == nil {
			client.enqueue(frame)
		}
	}()
}

// rejectAuth sends an authentication_error frame and closes the connection.
func (h *Hub) rejectAuth(client *Client, message string) {
	if frame, err := newFrame(FrameAuthError, authResultData{Message: message}); err == nil {
		client.enqueue(frame)
	}
	// Give the write pump a moment to flush the error before the close frame.
	time.AfterFunc(writeWait/10, func() {
		client.closeWithCode(websocket.ClosePolicyViolation, "authentication failed")
	})
}

// unregister removes a client from the Hub. Safe to call for clients that never authenticated.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
	}
	h.mu.Unlock()

	client.closeSend()
	if ok {
		h.log.Debug().Str("username", client.Username()).Msg("Dashboard client disconnected")
	}
}

// handlePubSubEvent converts one event from the events channel into a frame and broadcasts it.
func (h *Hub) handlePubSubEvent(payload string) {
	var env struct {
		Type string          `json:"t"`
		Data json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		h.log.Warn().Err(err).Msg("Invalid push event envelope")
		return
	}

	frame, err := newRawFrame(env.Type, env.Data)
	if err != nil {
		h.log.Warn().Err(err).Str("type", env.Type).Msg("Failed to build push frame")
		return
	}
	h.broadcast(frame)
}

// pushLiveStats broadcasts current aggregate counters to all authenticated clients. Skipped when nobody is listening
// so an idle admin plane costs no store queries.
func (h *Hub) pushLiveStats(ctx context.Context) {
	if h.ClientCount() == 0 {
		return
	}

	statsCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	frame, err := h.liveStatsFrame(statsCtx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Live stats computation failed")
		return
	}
	h.broadcast(frame)
}

func (h *Hub) liveStatsFrame(ctx context.Context) ([]byte, error) {
	stats, err := h.stats.Live(ctx)
	if err != nil {
		return nil, err
	}
	return newFrame(FrameLiveStats, stats)
}

// broadcast enqueues a frame for every authenticated client.
func (h *Hub) broadcast(frame []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

// ClientCount returns the number of authenticated dashboard connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown gracefully closes all active connections with a Going Away status.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.closeSend()
		_ = client.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait),
		)
		_ = client.conn.Close()
		delete(h.clients, client)
	}
	h.log.Info().Msg("Live push hub shut down")
}
