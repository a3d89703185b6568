package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes notifications to the structured log. It is the
// always-on fallback surface when no push backend is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, title, body string) error {
	n.logger.Info("notification", "title", title, "body", body)
	return nil
}
