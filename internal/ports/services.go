package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/remindly/core/internal/domain/entities"
)

// ReminderService interface for reminder management operations
type ReminderService interface {
	CreateReminder(ctx context.Context, req CreateReminderRequest) (*entities.Reminder, error)
	GetReminder(ctx context.Context, id uuid.UUID) (*entities.Reminder, error)
	EditReminder(ctx context.Context, id uuid.UUID, req UpdateReminderRequest) (*entities.Reminder, error)
	DeleteReminder(ctx context.Context, id uuid.UUID) error
	ReminderHistory(ctx context.Context, id uuid.UUID) ([]*entities.ReminderRecord, error)
	ListUpcoming(ctx context.Context, ownerID string, window UpcomingWindow) ([]*entities.Occurrence, error)
	UpcomingCalendar(ctx context.Context, ownerID string, window UpcomingWindow) ([]byte, error)
	AcknowledgeDelivery(ctx context.Context, occurrenceID uuid.UUID) (*entities.Occurrence, error)
	ResyncOccurrence(ctx context.Context, occurrenceID uuid.UUID) (*entities.Occurrence, error)
	ListReminders(ctx context.Context, ownerID string) ([]*ReminderSummary, error)
	ImportCalendarEvents(ctx context.Context, ownerID string, window UpcomingWindow) (*ImportResult, error)
}

// FeedEncoder renders occurrences as a calendar feed
type FeedEncoder interface {
	Encode(ownerID string, occurrences []*entities.Occurrence) ([]byte, error)
}

// Request/Response Types

type RecurrenceInput struct {
	Kind       entities.RecurrenceKind `json:"kind" validate:"omitempty,oneof=none daily weekly monthly"`
	Weekdays   []string                `json:"weekdays" validate:"omitempty,max=7,dive,required"`
	DayOfMonth int                     `json:"day_of_month" validate:"omitempty,min=1,max=31"`
}

type EndInput struct {
	Until *time.Time `json:"until"`
	Count *int       `json:"count" validate:"omitempty,min=1"`
}

type CreateReminderRequest struct {
	OwnerID    string          `json:"owner_id" validate:"required,max=128"`
	Message    string          `json:"message" validate:"required,max=500"`
	StartAt    time.Time       `json:"start_at" validate:"required"`
	Timezone   string          `json:"timezone" validate:"omitempty,timezone"`
	Recurrence RecurrenceInput `json:"recurrence"`
	End        *EndInput       `json:"end"`
}

type UpdateReminderRequest struct {
	Message    *string          `json:"message" validate:"omitempty,max=500"`
	StartAt    *time.Time       `json:"start_at"`
	Timezone   *string          `json:"timezone" validate:"omitempty,timezone"`
	Recurrence *RecurrenceInput `json:"recurrence"`
	End        *EndInput        `json:"end"`
	// ClearEnd removes the end condition; it is ignored when End is set.
	ClearEnd bool  `json:"clear_end"`
	Active   *bool `json:"active"`
	// ExpectedVersion rejects the edit if the reminder changed since it was read.
	ExpectedVersion *int `json:"expected_version" validate:"omitempty,min=1"`
}

// UpcomingWindow is a closed time range for listing occurrences
type UpcomingWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ReminderSummary is a reminder with its next pending fire time.
type ReminderSummary struct {
	*entities.Reminder
	NextOccurrence *time.Time `json:"next_occurrence,omitempty"`
}

// ImportResult reports the outcome of a calendar import
type ImportResult struct {
	Imported []*entities.Reminder `json:"imported"`
	// Skipped counts events already imported or already in the past.
	Skipped int `json:"skipped"`
}
