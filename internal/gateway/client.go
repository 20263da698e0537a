package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/leadline-io/leadline/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// Client is one connected admin websocket.
type Client struct {
	id       string
	conn     *websocket.Conn
	handlers *Handlers
	send     chan []byte
	done     chan struct{}
}

func NewClient(conn *websocket.Conn, handlers *Handlers) *Client {
	return &Client{
		id:       uuid.Must(uuid.NewV7()).String(),
		conn:     conn,
		handlers: handlers,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
	}
}

// Run pumps frames until the peer disconnects or ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	go c.writeLoop()
	c.readLoop(ctx)
}

// Close shuts the connection down. Safe to call once.
func (c *Client) Close() {
	close(c.done)
	c.conn.Close()
}

// SendResponse queues a response frame. Drops if the client is backed up.
func (c *Client) SendResponse(res protocol.ResponseFrame) {
	c.enqueue(res)
}

// SendEvent queues an event frame. Drops if the client is backed up.
func (c *Client) SendEvent(event protocol.EventFrame) {
	c.enqueue(event)
}

func (c *Client) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal frame", "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		slog.Warn("admin client send buffer full, dropping frame", "id", c.id)
	}
}

func (c *Client) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("admin client read error", "id", c.id, "error", err)
			}
			return
		}

		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil || req.Type != protocol.FrameTypeRequest {
			c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "malformed request frame"))
			continue
		}
		c.handlers.Handle(ctx, c, &req)
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
