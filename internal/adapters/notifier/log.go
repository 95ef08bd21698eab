// Package notifier holds the delivery channels handed due occurrences by
// the scheduler.
package notifier

import (
	"context"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/infrastructure/logger"
	"github.com/remindly/core/internal/ports"
)

// Log delivers by writing the reminder to the application log. It is the
// default channel for development and single-user setups.
type Log struct {
	logger *logger.Logger
}

// NewLog creates a log notifier
func NewLog(logger *logger.Logger) *Log {
	return &Log{logger: logger.WithComponent("notifier")}
}

func (n *Log) Deliver(ctx context.Context, occ *entities.Occurrence) error {
	if err := ctx.Err(); err != nil {
		return entities.Transient("deliver", err)
	}
	n.logger.WithOwnerID(occ.OwnerID).Infow("Reminder",
		"occurrence_id", occ.ID,
		"reminder_id", occ.ReminderID,
		"message", occ.Title,
		"scheduled_at", occ.ScheduledAt,
		"attempt", occ.Attempts,
	)
	return nil
}

var _ ports.Notifier = (*Log)(nil)
