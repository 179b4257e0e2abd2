package websocket

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"divorcecast/internal/infrastructure"
)

const (
	writeWait       = 10 * time.Second
	defaultPongWait = 60 * time.Second
	maxMessageSize  = 512
	sendBuffer      = 256
)

var heartbeat = []byte(`{"type":"heartbeat"}`)

// Client is one subscriber: a connection plus its outbound queue.
type Client struct {
	hub  *Hub
	conn Connection
	send chan []byte

	id          string
	traceID     string
	remoteAddr  string
	connectedAt time.Time

	logger *slog.Logger

	messagesSent     int64
	messagesReceived int64
	bytesSent        int64
}

// NewClient creates a client for conn. traceID is the trace of the
// upgrade request and is attached to every log line.
func NewClient(hub *Hub, conn Connection, traceID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	id := uuid.NewString()
	logger = logger.With(
		slog.String("component", "websocket.client"),
		slog.String("client_id", id),
	)

	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		id:          id,
		traceID:     traceID,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger:      logger,
	}
}

// ID returns the client identifier.
func (c *Client) ID() string { return c.id }

func (c *Client) context() context.Context {
	ctx := context.Background()
	if c.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, c.traceID)
	}
	return ctx
}

// ReadPump consumes inbound frames until the peer goes away, then
// unregisters the client. Clients only send heartbeats; anything else is
// counted and dropped.
func (c *Client) ReadPump() {
	defer c.disconnect()

	c.conn.SetReadLimit(maxMessageSize)
	c.extendRead()
	c.conn.SetPongHandler(func(string) error {
		c.extendRead()
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WarnContext(c.context(), "websocket read failed", slog.String("error", err.Error()))
			}
			return
		}
		c.messagesReceived++
		if bytes.Equal(bytes.TrimSpace(frame), heartbeat) {
			c.extendRead()
		}
	}
}

func (c *Client) extendRead() {
	c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
}

func (c *Client) disconnect() {
	c.hub.unregisterClient(c)
	c.conn.Close()
	c.logger.InfoContext(c.context(), "websocket client disconnected",
		slog.Duration("connected_for", time.Since(c.connectedAt)),
		slog.Int64("received", c.messagesReceived))
}

// WritePump delivers queued messages and pings the peer every
// pingPeriod. It returns once the hub closes the send channel or a
// write fails.
func (c *Client) WritePump() {
	ping := time.NewTicker(c.hub.pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
		c.logger.DebugContext(c.context(), "websocket writer stopped",
			slog.Int64("sent", c.messagesSent),
			slog.Int64("bytes", c.bytesSent))
	}()

	for {
		var err error
		select {
		case msg, open := <-c.send:
			if !open {
				c.frame(websocket.CloseMessage, nil)
				return
			}
			if err = c.frame(websocket.TextMessage, msg); err == nil {
				c.messagesSent++
				c.bytesSent += int64(len(msg))
			}
		case <-ping.C:
			err = c.frame(websocket.PingMessage, nil)
		}
		if err != nil {
			c.logger.DebugContext(c.context(), "websocket write failed", slog.String("error", err.Error()))
			return
		}
	}
}

func (c *Client) frame(kind int, payload []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, payload)
}
