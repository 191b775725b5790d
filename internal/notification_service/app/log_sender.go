package app

import (
	"context"
	"log/slog"

	"github.com/familysavings/golang_services/internal/notification_service/domain"
)

// LogSender writes notifications to the log, one line per channel.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "log_sender")}
}

func (s *LogSender) Send(ctx context.Context, n *domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, ch := range n.Channels {
		s.logger.InfoContext(ctx, "Notification",
			"channel", ch,
			"user_id", n.UserID,
			"type", n.Type,
			"priority", n.Priority,
			"title", n.Title,
			"message", n.Message,
		)
	}
	return nil
}
