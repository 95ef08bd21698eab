package ports

import (
	"context"
	"time"

	"github.com/remindly/core/internal/domain/entities"
)

// EventDraft is the content pushed to the external calendar for an occurrence.
type EventDraft struct {
	// Key identifies the occurrence; creating twice with the same key
	// yields the same remote event.
	Key   string
	Title string
	Time  time.Time
}

// RemoteEvent is the current state of an event in the external calendar
type RemoteEvent struct {
	ID     string
	Title  string
	Time   time.Time
	Exists bool
}

// CalendarAdapter talks to a third-party calendar. Errors are classified as
// entities.TransientExternalError or entities.PermanentExternalError.
type CalendarAdapter interface {
	CreateEvent(ctx context.Context, draft EventDraft) (string, error)
	// GetEvent reports a deleted event with Exists set to false rather than
	// an error.
	GetEvent(ctx context.Context, remoteID string) (RemoteEvent, error)
	DeleteEvent(ctx context.Context, remoteID string) error
	// ListEvents returns the live events starting inside [from, to] in
	// start order.
	ListEvents(ctx context.Context, from, to time.Time) ([]RemoteEvent, error)
}

// Notifier delivers a due occurrence to its owner
type Notifier interface {
	Deliver(ctx context.Context, occurrence *entities.Occurrence) error
}
