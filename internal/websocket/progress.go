package websocket

import (
	"log/slog"

	"portex/internal/pipeline"
)

// ProgressPublisher adapts the Hub to the pipeline's Publisher interface:
// every stage transition of a run is broadcast to all connected clients.
type ProgressPublisher struct {
	hub    *Hub
	logger *slog.Logger
}

// NewProgressPublisher creates a publisher backed by the given hub.
func NewProgressPublisher(hub *Hub, logger *slog.Logger) *ProgressPublisher {
	if logger == nil {
		logger = hub.logger
	}
	return &ProgressPublisher{
		hub:    hub,
		logger: logger.With(slog.String("component", "progress_publisher")),
	}
}

// Publish implements pipeline.Publisher. The hub must be started before
// runs execute; slow clients are dropped by the hub, never the sender.
func (p *ProgressPublisher) Publish(event pipeline.ProgressEvent) {
	msgType := TypeRunProgress
	if event.Stage == pipeline.StageGate && event.Status == "completed" {
		msgType = TypeRunComplete
	}

	p.hub.BroadcastEvent(msgType, map[string]interface{}{
		"run_id":    event.RunID,
		"stage":     event.Stage,
		"status":    event.Status,
		"message":   event.Message,
		"timestamp": event.Timestamp,
	}, event.RunID)
}
