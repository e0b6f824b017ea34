package notify

import (
	"context"
	"log/slog"
)

// Sink receives every tracker transition and execution error.
type Sink interface {
	// Send delivers message; alert marks it as requiring attention
	Send(ctx context.Context, message string, alert bool) error
}

// LogSink writes notifications to the logger. Used when no chat is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(ctx context.Context, message string, alert bool) error {
	if alert {
		s.logger.Warn("notification", "message", message, "alert", true)
		return nil
	}
	s.logger.Info("notification", "message", message)
	return nil
}
