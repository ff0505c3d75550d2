package websocket

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"portex/internal/infrastructure"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

// Client pumps envelopes between the hub and one websocket peer.
// Inbound traffic is limited to heartbeats; the stream is one-way.
type Client struct {
	hub  *Hub
	conn Conn
	send chan []byte

	id          string
	traceID     string
	remoteAddr  string
	connectedAt time.Time
	logger      *slog.Logger
}

// NewClientWithTrace wraps an upgraded connection, tagging the client's
// log lines with the upgrade request's trace id.
func NewClientWithTrace(hub *Hub, conn *websocket.Conn, traceID string, logger *slog.Logger) *Client {
	c := newClient(hub, gorillaConn{conn}, logger)
	c.traceID = traceID
	c.logger = c.logger.With(slog.String("trace_id", traceID))
	return c
}

func newClient(hub *Hub, conn Conn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	id := uuid.New().String()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		id:          id,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger:      logger.With(slog.String("component", "progress_client"), slog.String("client_id", id)),
	}
}

// greet queues the connection acknowledgement. Skipped when the buffer
// is already full; the peer will be evicted on the next broadcast.
func (c *Client) greet() {
	payload, err := json.Marshal(Envelope{
		Type: TypeConnection,
		Data: map[string]string{
			"status":    "connected",
			"client_id": c.id,
		},
		Timestamp: time.Now().Format(time.RFC3339),
		TraceID:   c.traceID,
	})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// ReadPump drains the peer until it disconnects. Heartbeat frames keep
// the read deadline fresh; everything else is ignored.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("subscriber closed abnormally", slog.String("error", err.Error()))
			}
			return
		}
		if string(msg) == `{"type":"heartbeat"}` {
			continue
		}
		c.logger.Debug("ignoring inbound frame", slog.Int("size", len(msg)))
	}
}

// WritePump forwards queued envelopes to the peer and keeps the
// connection alive with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("write failed", slog.String("error", err.Error()))
				return
			}
			recordSend(c, len(payload))

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
