package notifier

import (
	"context"
	"log/slog"

	"github.com/lorrc/carenet-sync/internal/core/ports"
)

// LogNotifier stands in for push delivery: it resolves the recipient and
// logs the notification.
type LogNotifier struct {
	users  ports.DataSource
	logger *slog.Logger
}

var _ ports.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a notifier that looks recipients up in users.
func NewLogNotifier(users ports.DataSource, logger *slog.Logger) *LogNotifier {
	return &LogNotifier{
		users:  users,
		logger: logger.With("component", "notifier"),
	}
}

// Notify is best-effort; failures are logged, never returned.
func (n *LogNotifier) Notify(ctx context.Context, params ports.NotificationParams) {
	// 1. Resolve the recipient as the actor sees them
	users, err := n.users.ResolveOwners(ctx, params.ActorUserID, []string{params.RecipientUserID})
	if err != nil {
		n.logger.ErrorContext(ctx, "failed to resolve notification recipient",
			"recipient_id", params.RecipientUserID,
			"error", err,
		)
		return
	}
	if len(users) == 0 {
		n.logger.WarnContext(ctx, "notification recipient not found", "recipient_id", params.RecipientUserID)
		return
	}

	// 2. Deliver
	n.logger.InfoContext(ctx, "notification sent",
		"recipient_id", users[0].ID,
		"recipient_name", users[0].Name,
		"actor_id", params.ActorUserID,
		"action", params.Action,
		"subject", params.Subject,
		"message", params.Message,
	)
}
