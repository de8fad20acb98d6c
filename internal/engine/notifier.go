package engine

import (
	"github.com/parkrow/estates/internal/logger"
	"github.com/parkrow/estates/internal/models"
)

// Notifier delivers player-facing messages (outbid, tax collected, property
// repossessed). Delivery is a collaborator concern; the engines only state
// what happened.
type Notifier interface {
	Notify(account models.AccountID, message string)
}

// LogNotifier writes notifications to the structured log. It is the default
// when no chat or mail transport is wired in.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a notifier backed by the given logger.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(account models.AccountID, message string) {
	n.log.Info("player notification", map[string]interface{}{
		"account": string(account),
		"message": message,
	})
}
