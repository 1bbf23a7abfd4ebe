package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notification is the payload handed to the external notification sink.
// Consumers are expected to be idempotent; delivery is at-least-once.
type Notification struct {
	EventType string         `json:"event_type"`
	Recipient string         `json:"recipient"`
	Payload   map[string]any `json:"payload"`
}

// Sink is the fire-and-forget notification collaborator.
type Sink interface {
	Enqueue(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the log. Used when no broker is
// configured (local runs, tests).
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.L()
	}
	return &LogSink{log: logger.With(zap.String("component", "notify_log_sink"))}
}

func (s *LogSink) Enqueue(_ context.Context, n Notification) error {
	s.log.Info("notification",
		zap.String("event_type", n.EventType),
		zap.String("recipient", n.Recipient),
		zap.Any("payload", n.Payload),
	)
	return nil
}
