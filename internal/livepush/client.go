package livepush

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound WebSocket message.
	maxMessageSize = 4096

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// authTimeout is how long a client has to send an authenticate frame after connecting.
	authTimeout = 30 * time.Second

	// readWait is the read deadline, reset on every inbound frame. Clients ping well inside this window.
	readWait = 90 * time.Second
)

// Client represents a single dashboard WebSocket connection. Each client runs two goroutines (readPump and writePump)
// and communicates with the Hub via its send channel.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	log  zerolog.Logger

	send      chan []byte
	closeOnce sync.Once

	mu            sync.RWMutex
	username      string
	authenticated bool
}

func newClient(hub *Hub, conn *websocket.Conn, logger zerolog.Logger) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
		log:  logger,
	}
}

// Username returns the authenticated admin username, empty before authentication.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// IsAuthenticated returns whether the client has completed the post-connect handshake.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Client) setAuthenticated(username string) {
	c.mu.Lock()
	c.username = username
	c.authenticated = true
	c.mu.Unlock()
}

// readPump reads frames from the connection and routes them by type. It runs in its own goroutine and is responsible
// for closing the connection when the read loop exits.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))

	// Handshake timeout: close the connection if the client does not authenticate within the deadline.
	authTimer := time.AfterFunc(authTimeout, func() {
		if !c.IsAuthenticated() {
			c.log.Debug().Msg("Client did not authenticate in time")
			c.closeWithCode(websocket.ClosePolicyViolation, "authentication timeout")
		}
	})
	defer authTimer.Stop()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.closeWithCode(websocket.CloseInvalidFramePayloadData, "invalid JSON")
			return
		}

		switch frame.Type {
		case FrameAuthenticate:
			authTimer.Stop()
			c.handleAuthenticate(frame.Data)
		case FramePing:
			c.handlePing(frame.Data)
		default:
			// Unknown frame types are ignored so the protocol can grow without breaking old clients.
		}
	}
}

// writePump writes messages from the send channel to the connection. It runs in its own goroutine and exits when the
// send channel is closed.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}
}

func (c *Client) handleAuthenticate(data json.RawMessage) {
	if c.IsAuthenticated() {
		c.closeWithCode(websocket.ClosePolicyViolation, "already authenticated")
		return
	}

	var auth authenticateData
	if err := json.Unmarshal(data, &auth); err != nil || auth.Token == "" {
		c.hub.rejectAuth(c, "token required")
		return
	}
	c.hub.authenticate(c, auth.Token)
}

// handlePing echoes the client's timestamp back in a pong frame for liveness measurement.
func (c *Client) handlePing(data json.RawMessage) {
	var ping pingData
	_ = json.Unmarshal(data, &ping)

	pong, err := newFrame(FramePong, pingData{TS: ping.TS})
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to build pong frame")
		return
	}
	c.enqueue(pong)
}

// enqueue sends a message to the client's write channel. If the channel is full, the message is dropped and the
// connection is closed to prevent backpressure from stalling the Hub.
func (c *Client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("Client send buffer full, closing connection")
		c.hub.unregister(c)
		_ = c.conn.Close()
	}
}

// closeSend closes the send channel exactly once, terminating the write pump.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// closeWithCode sends a WebSocket close frame with the given code and reason, then closes the underlying connection.
func (c *Client) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}
