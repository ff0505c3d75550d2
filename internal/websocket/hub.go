// Package websocket streams extraction run progress to connected
// frontends. The hub fans every published event out to all subscribers;
// a subscriber that cannot keep up is dropped rather than allowed to
// stall the pipeline.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"portex/internal/infrastructure"
)

// Event types carried in the envelope.
const (
	TypeConnection  = "connection"
	TypeRunProgress = "run:progress"
	TypeRunComplete = "run:complete"
	TypeError       = "error"
)

// Envelope is the wire format for every hub message.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// Hub owns the subscriber set. All mutation happens on the run loop;
// the mutex only guards the snapshot reads (ClientCount, Stats).
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	quit       chan struct{}

	running bool
	stats   hubStats
	logger  *slog.Logger
}

type hubStats struct {
	totalConnections int64
	messagesSent     int64
	droppedClients   int64
}

// NewHub creates a hub; Start must be called before any run executes.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		quit:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "progress_hub")),
	}
}

// Start launches the hub run loop. Calling Start twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	go h.run()
}

// Stop shuts the run loop down and closes every subscriber.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// Register hands a new subscriber to the run loop.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns a snapshot of hub counters for the health endpoint.
func (h *Hub) Stats() map[string]int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]int64{
		"active_clients":    int64(len(h.clients)),
		"total_connections": h.stats.totalConnections,
		"messages_sent":     h.stats.messagesSent,
		"dropped_clients":   h.stats.droppedClients,
	}
}

// BroadcastEvent marshals an envelope and queues it for all subscribers.
func (h *Hub) BroadcastEvent(eventType string, data interface{}, traceID string) {
	payload, err := json.Marshal(Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
		TraceID:   traceID,
	})
	if err != nil {
		h.logger.Error("progress event not serializable",
			slog.String("type", eventType),
			slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- payload:
	case <-h.quit:
	}
}

func (h *Hub) run() {
	for {
		select {
		case <-h.quit:
			h.logger.Info("progress hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.stats.totalConnections++
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("subscriber connected",
				slog.String("client_id", c.id),
				slog.String("remote_addr", c.remoteAddr),
				slog.Int("active_clients", count))
			recordConnect(c)
			c.greet()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; !ok {
				h.mu.Unlock()
				continue
			}
			delete(h.clients, c)
			close(c.send)
			count := len(h.clients)
			h.mu.Unlock()

			h.logger.Info("subscriber disconnected",
				slog.String("client_id", c.id),
				slog.Duration("connected_for", time.Since(c.connectedAt)),
				slog.Int("active_clients", count))
			recordDisconnect(c)

		case payload := <-h.broadcast:
			h.deliver(payload)
		}
	}
}

// deliver fans a payload out, evicting subscribers with a full buffer.
func (h *Hub) deliver(payload []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
			h.mu.Lock()
			h.stats.messagesSent++
			h.mu.Unlock()
		default:
			h.mu.Lock()
			delete(h.clients, c)
			close(c.send)
			h.stats.droppedClients++
			h.mu.Unlock()
			h.logger.Warn("slow subscriber evicted", slog.String("client_id", c.id))
		}
	}
	recordBroadcast(len(targets), len(payload))
}
