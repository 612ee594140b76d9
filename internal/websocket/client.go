package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"social-token-chat/internal/observability"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	maxMessageSize = 8192
	sendBufferSize = 256
)

// Client is one WebSocket connection. The pumps own conn; every other field
// below the mutex block is owned by the hub goroutine.
type Client struct {
	id         uuid.UUID
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	writeMu    sync.Mutex
	closed     atomic.Bool
	ctx        context.Context
	ctxCancel  context.CancelFunc

	state       ConnState
	userID      string
	roomID      string
	pendingRoom string
	pendingUser string
	joinSeq     uint64
	grantedAt   time.Time
	rechecking  bool
	limiter     *rate.Limiter
}

func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	id := uuid.New()
	clientCtx, cancel := context.WithCancel(observability.WithConnID(ctx, id.String()))

	return &Client{
		id:         id,
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		remoteAddr: remoteAddr,
		ctx:        clientCtx,
		ctxCancel:  cancel,
	}
}

// ID returns the connection identifier
func (c *Client) ID() uuid.UUID {
	return c.id
}

func (c *Client) log() *slog.Logger {
	return observability.FromContext(c.ctx)
}

// ReadPump decodes inbound frames and hands them to the hub. It returns when
// the connection fails or the pong deadline passes, and then unregisters.
func (c *Client) ReadPump() {
	defer func() {
		c.ctxCancel()
		c.hub.Unregister(c)
		c.closeConnection()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log().Warn("failed to set read deadline", slog.String("error", err.Error()))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log().Warn("failed to set read deadline in pong handler", slog.String("error", err.Error()))
			return err
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log().Warn("websocket error", slog.String("error", err.Error()))
			}
			break
		}

		var event ClientEvent
		if err := json.Unmarshal(message, &event); err != nil {
			observability.ChatEventsDropped.WithLabelValues(dropInvalidRequest).Inc()
			c.log().Debug("invalid message format", slog.String("error", err.Error()))
			continue
		}

		c.hub.Dispatch(c, event)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				_ = c.writeMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage writes a message to the WebSocket connection in a thread-safe manner
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return websocket.ErrCloseSent
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log().Warn("failed to set write deadline", slog.String("error", err.Error()))
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// closeConnection safely closes the WebSocket connection
func (c *Client) closeConnection() {
	if c.closed.CompareAndSwap(false, true) {
		c.writeMu.Lock()
		c.conn.Close()
		c.writeMu.Unlock()
	}
}
