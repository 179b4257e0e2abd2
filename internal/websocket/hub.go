package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"divorcecast/internal/config"
	"divorcecast/internal/infrastructure"
)

// Event types pushed to dashboard clients.
const (
	EventConnection     = "connection"
	EventDatasetChanged = "dataset.changed"
	EventCacheWarmed    = "cache.warmed"
	EventTuneTrial      = "tune.trial"
	EventTuneComplete   = "tune.complete"
)

// ErrHubStopped is returned when broadcasting to or registering with a
// hub that has been stopped.
var ErrHubStopped = errors.New("websocket hub stopped")

const broadcastBuffer = 64

// Message is the envelope for every server push.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// HubStats is a point-in-time snapshot of hub activity.
type HubStats struct {
	Running          bool  `json:"running"`
	Clients          int   `json:"clients"`
	TotalConnections int64 `json:"total_connections"`
	MessagesSent     int64 `json:"messages_sent"`
	DroppedClients   int64 `json:"dropped_clients"`
}

// Hub maintains the set of active clients and fans broadcasts out to them.
// A client whose send buffer is full is disconnected rather than allowed
// to stall the others.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics

	pingPeriod time.Duration
	pongWait   time.Duration

	totalConnections atomic.Int64
	messagesSent     atomic.Int64
	droppedClients   atomic.Int64

	quit     chan struct{}
	done     chan struct{}
	running  bool
	stopOnce sync.Once
}

// NewHub creates a hub. Zero ping or pong durations fall back to the
// package defaults.
func NewHub(cfg config.WebSocketConfig, logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		pingPeriod: cfg.PingPeriod,
		pongWait:   cfg.PongWait,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if h.pongWait <= 0 {
		h.pongWait = defaultPongWait
	}
	if h.pingPeriod <= 0 || h.pingPeriod >= h.pongWait {
		h.pingPeriod = (h.pongWait * 9) / 10
	}
	return h
}

// Start runs the hub loop in a new goroutine. Calling it twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.Run()
}

// Run is the hub loop. It returns after Stop.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.running = false
			h.mu.Unlock()
			h.logger.Info("Hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.totalConnections.Add(1)

			ctx := client.context()
			infrastructure.RecordWebSocketClient(ctx, h.metrics, 1)
			h.logger.InfoContext(ctx, "Client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))

			welcome, err := h.encode(ctx, EventConnection, map[string]any{
				"client_id": client.id,
				"status":    "connected",
			})
			if err != nil {
				continue
			}
			select {
			case client.send <- welcome:
			default:
				h.logger.WarnContext(ctx, "Failed to send connection message - client buffer full",
					slog.String("client_id", client.id))
			}

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			if ok {
				ctx := client.context()
				infrastructure.RecordWebSocketClient(ctx, h.metrics, -1)
				h.logger.InfoContext(ctx, "Client unregistered",
					slog.Int("total_clients", count),
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)))
			}

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

func (h *Hub) fanOut(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- message:
			h.messagesSent.Add(1)
		default:
			delete(h.clients, client)
			close(client.send)
			h.droppedClients.Add(1)

			ctx := client.context()
			infrastructure.RecordWebSocketClient(ctx, h.metrics, -1)
			h.logger.WarnContext(ctx, "Dropping slow client",
				slog.String("client_id", client.id),
				slog.Int("total_clients", len(h.clients)))
		}
	}
}

func (h *Hub) encode(ctx context.Context, eventType string, data any) ([]byte, error) {
	payload, err := json.Marshal(Message{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
		TraceID:   infrastructure.GetTraceID(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "Error marshaling websocket message",
			slog.String("type", eventType),
			slog.String("error", err.Error()))
		return nil, err
	}
	return payload, nil
}

// Broadcast queues an event for every connected client. It blocks only
// while the broadcast queue is full.
func (h *Hub) Broadcast(ctx context.Context, eventType string, data any) error {
	payload, err := h.encode(ctx, eventType, data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- payload:
		infrastructure.RecordWebSocketEvent(ctx, h.metrics, eventType)
		h.logger.DebugContext(ctx, "Event broadcast",
			slog.String("type", eventType),
			slog.Int("payload_bytes", len(payload)))
		return nil
	case <-h.quit:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register adds client to the hub. It reports false once the hub has
// stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns a snapshot of hub activity.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		Running:          h.running,
		Clients:          len(h.clients),
		TotalConnections: h.totalConnections.Load(),
		MessagesSent:     h.messagesSent.Load(),
		DroppedClients:   h.droppedClients.Load(),
	}
}

// Stop closes every client and ends the hub loop. It is safe to call more
// than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)

		h.mu.RLock()
		running := h.running
		h.mu.RUnlock()
		if running {
			<-h.done
		}
	})
}
