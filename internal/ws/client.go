package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/whiteboard/backend/internal/metrics"
	"github.com/manpreetbhatti/whiteboard/backend/internal/protocol"
	"github.com/manpreetbhatti/whiteboard/backend/internal/ratelimit"
	"github.com/manpreetbhatti/whiteboard/backend/internal/session"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 8 * 1024 * 1024
	sendBufferSize    = 256
	messagesPerSecond = 50
	messageBurst      = 100
	rateWarnEvery     = 100
	maxRateViolations = 1000
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection bound to a single room
type Client struct {
	sessions *session.Manager
	conn     *websocket.Conn
	send     chan []byte
	roomID   string
	clientID string
	guard    *ratelimit.Guard
	log      zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func (c *Client) ID() string { return c.clientID }

// Send queues payload for the write pump. A client whose buffer is full
// is closed rather than allowed to stall the room.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.closed = true
		close(c.send)
		return errSendBufferFull
	}
}

// close stops the write pump after it drains what is already queued
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// RoomID reads the room from /ws/{roomID}, falling back to ?room=
func RoomID(r *http.Request) string {
	if id := r.PathValue("roomID"); id != "" {
		return id
	}
	if id := r.URL.Query().Get("room"); id != "" {
		return id
	}
	return "default"
}

// ServeWs upgrades the request, joins the room and starts the pumps
func ServeWs(sessions *session.Manager, logger zerolog.Logger, w http.ResponseWriter, r *http.Request) {
	roomID := RoomID(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Str("module", "gateway").Msg("upgrade failed")
		return
	}

	clientID := uuid.NewString()
	client := &Client{
		sessions: sessions,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		roomID:   roomID,
		clientID: clientID,
		guard:    ratelimit.NewGuard(ratelimit.NewLimiter(messagesPerSecond, messageBurst), rateWarnEvery, maxRateViolations),
		log: logger.With().
			Str("module", "gateway").
			Str("room", roomID).
			Str("client", clientID).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}

	// The request context ends when this handler returns; the connection outlives it
	ctx, cancel := context.WithCancel(context.Background())

	if _, _, err := sessions.Join(ctx, roomID, client); err != nil {
		client.log.Error().Err(err).Msg("join failed")
		client.closeWith(websocket.CloseInternalServerErr, "room unavailable")
		conn.Close()
		cancel()
		return
	}

	metrics.ConnectionOpened()

	go client.writePump()
	go client.readPump(ctx, cancel)
}

func (c *Client) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		c.sessions.Leave(c.roomID, c)
		c.close()
		c.conn.Close()
		cancel()
		metrics.ConnectionClosed()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("connection error")
			} else {
				c.log.Debug().Msg("disconnected")
			}
			return
		}

		switch c.guard.Check() {
		case ratelimit.Drop:
			continue
		case ratelimit.DropAndWarn:
			c.log.Warn().Int("violations", c.guard.Violations()).Msg("rate limit exceeded")
			continue
		case ratelimit.Disconnect:
			c.log.Warn().Int("violations", c.guard.Violations()).Msg("disconnecting for excessive rate limit violations")
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		action, err := protocol.DecodeAction(message)
		if err != nil {
			c.log.Warn().Err(err).Msg("closing connection")
			c.closeWith(websocket.CloseUnsupportedData, "malformed message")
			return
		}

		if _, err := c.sessions.Apply(ctx, c.roomID, action); err != nil {
			c.log.Error().Err(err).Str("action", action.Kind()).Msg("apply failed, closing connection")
			c.closeWith(websocket.CloseInternalServerErr, "room unavailable")
			return
		}
	}
}

// closeWith sends a close frame. Safe to call alongside the write pump.
func (c *Client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
