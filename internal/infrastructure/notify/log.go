// Package notify delivers notifications to users: a log sink for
// development, an HTTP webhook for production, and a Gate enforcing quiet
// hours, a per-user daily cap and a global send rate in front of either.
package notify

import (
	"context"

	"github.com/alem-hub/streak-engine/internal/domain/notification"
	"github.com/alem-hub/streak-engine/pkg/logger"
)

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	logger *logger.Logger
}

var _ notification.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a log notifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &LogNotifier{logger: log.With(logger.Component("log_notifier"))}
}

// Notify logs n.
func (l *LogNotifier) Notify(_ context.Context, n *notification.Notification) error {
	l.logger.Info("notification",
		logger.UserID(n.UserID.String()),
		logger.String("type", string(n.Type)),
		logger.String("priority", n.Priority.String()),
		logger.String("title", n.Title),
		logger.String("message", n.Message),
	)
	return nil
}
