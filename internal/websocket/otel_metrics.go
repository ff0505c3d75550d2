package websocket

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "portex.websocket"

// progressMeters holds the package instruments. Nil until
// InitOTelMetrics runs; the record helpers tolerate that so unit tests
// and the CLI need no meter provider.
type progressMeters struct {
	connections        metric.Int64Counter
	activeConnections  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram
	messagesSent       metric.Int64Counter
	bytesSent          metric.Int64Counter
	broadcasts         metric.Int64Counter
}

var meters *progressMeters

// InitOTelMetrics registers the websocket instruments on the global
// meter provider. Called once during application startup.
func InitOTelMetrics() error {
	m := otel.Meter(meterName)
	pm := &progressMeters{}
	var err error

	if pm.connections, err = m.Int64Counter("ws_connections_total",
		metric.WithDescription("Progress stream connections accepted")); err != nil {
		return err
	}
	if pm.activeConnections, err = m.Int64UpDownCounter("ws_connections_active",
		metric.WithDescription("Currently connected progress subscribers")); err != nil {
		return err
	}
	if pm.connectionDuration, err = m.Float64Histogram("ws_connection_duration_seconds",
		metric.WithDescription("Lifetime of closed progress connections"),
		metric.WithUnit("s")); err != nil {
		return err
	}
	if pm.messagesSent, err = m.Int64Counter("ws_messages_sent_total",
		metric.WithDescription("Progress envelopes delivered to subscribers")); err != nil {
		return err
	}
	if pm.bytesSent, err = m.Int64Counter("ws_bytes_sent_total",
		metric.WithDescription("Payload bytes delivered to subscribers"),
		metric.WithUnit("By")); err != nil {
		return err
	}
	if pm.broadcasts, err = m.Int64Counter("ws_broadcasts_total",
		metric.WithDescription("Fan-out operations performed by the hub")); err != nil {
		return err
	}

	meters = pm
	return nil
}

func recordConnect(c *Client) {
	if meters == nil {
		return
	}
	ctx := context.Background()
	meters.connections.Add(ctx, 1)
	meters.activeConnections.Add(ctx, 1)
}

func recordDisconnect(c *Client) {
	if meters == nil {
		return
	}
	ctx := context.Background()
	meters.activeConnections.Add(ctx, -1)
	meters.connectionDuration.Record(ctx, time.Since(c.connectedAt).Seconds())
}

func recordSend(c *Client, size int) {
	if meters == nil {
		return
	}
	ctx := context.Background()
	meters.messagesSent.Add(ctx, 1)
	meters.bytesSent.Add(ctx, int64(size))
}

func recordBroadcast(subscribers, size int) {
	if meters == nil {
		return
	}
	meters.broadcasts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Int("subscribers", subscribers)))
}
