package entities

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Enums and types
type RecurrenceKind string

const (
	RecurrenceNone    RecurrenceKind = "none"
	RecurrenceDaily   RecurrenceKind = "daily"
	RecurrenceWeekly  RecurrenceKind = "weekly"
	RecurrenceMonthly RecurrenceKind = "monthly"
)

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryDelivering DeliveryStatus = "delivering"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryCancelled  DeliveryStatus = "cancelled"
)

type SyncStatus string

const (
	SyncUnsynced      SyncStatus = "unsynced"
	SyncSynced        SyncStatus = "synced"
	SyncConflict      SyncStatus = "conflict"
	SyncRemoteDeleted SyncStatus = "remote-deleted"
)

type RecordAction string

const (
	RecordActionCreate RecordAction = "create"
	RecordActionUpdate RecordAction = "update"
	RecordActionDelete RecordAction = "delete"
)

// Recurrence is the closed set of supported repetition rules. Only the
// fields belonging to Kind are meaningful.
type Recurrence struct {
	Kind       RecurrenceKind `json:"kind"`
	Weekdays   []time.Weekday `json:"weekdays,omitempty"`
	DayOfMonth int            `json:"day_of_month,omitempty"`
}

// EndCondition bounds a recurring reminder. At most one field is set.
type EndCondition struct {
	Until *time.Time `json:"until,omitempty"`
	Count *int       `json:"count,omitempty"`
}

// IsZero reports whether no end condition is set
func (e EndCondition) IsZero() bool {
	return e.Until == nil && e.Count == nil
}

// Reminder is a versioned reminder definition. Every edit bumps Version.
// SourceEventID is set on reminders imported from the external calendar.
type Reminder struct {
	ID                  uuid.UUID    `json:"id"`
	OwnerID             string       `json:"owner_id"`
	Message             string       `json:"message"`
	StartAt             time.Time    `json:"start_at"`
	Timezone            string       `json:"timezone"`
	Recurrence          Recurrence   `json:"recurrence"`
	End                 EndCondition `json:"end"`
	Active              bool         `json:"active"`
	Version             int          `json:"version"`
	MaterializedThrough *time.Time   `json:"materialized_through,omitempty"`
	SourceEventID       *string      `json:"source_event_id,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
	DeletedAt           *time.Time   `json:"deleted_at,omitempty"`
}

// Occurrence is one materialized instance of a reminder definition.
type Occurrence struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	ReminderID        uuid.UUID      `json:"reminder_id" db:"reminder_id"`
	DefinitionVersion int            `json:"definition_version" db:"definition_version"`
	OwnerID           string         `json:"owner_id" db:"owner_id"`
	Title             string         `json:"title" db:"title"`
	ScheduledAt       time.Time      `json:"scheduled_at" db:"scheduled_at"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status" db:"delivery_status"`
	SyncStatus        SyncStatus     `json:"sync_status" db:"sync_status"`
	RemoteEventID     *string        `json:"remote_event_id,omitempty" db:"remote_event_id"`
	Attempts          int            `json:"attempts" db:"attempts"`
	NextAttemptAt     *time.Time     `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	ClaimedAt         *time.Time     `json:"claimed_at,omitempty" db:"claimed_at"`
	LastError         *string        `json:"last_error,omitempty" db:"last_error"`
	ShadowTitle       *string        `json:"shadow_title,omitempty" db:"shadow_title"`
	ShadowTime        *time.Time     `json:"shadow_time,omitempty" db:"shadow_time"`
	SyncError         *string        `json:"sync_error,omitempty" db:"sync_error"`
	CheckedAt         *time.Time     `json:"checked_at,omitempty" db:"checked_at"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty" db:"delivered_at"`
	AcknowledgedAt    *time.Time     `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ArchivedAt        *time.Time     `json:"archived_at,omitempty" db:"archived_at"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// SyncLink binds an occurrence to the remote calendar event created for it,
// together with the content last pushed. Imported links point at an event
// the user created; cancelling the occurrence detaches it instead of
// deleting the event.
type SyncLink struct {
	OccurrenceID  uuid.UUID `json:"occurrence_id" db:"occurrence_id"`
	RemoteEventID string    `json:"remote_event_id" db:"remote_event_id"`
	PushedTitle   string    `json:"pushed_title" db:"pushed_title"`
	PushedTime    time.Time `json:"pushed_time" db:"pushed_time"`
	LinkedAt      time.Time `json:"linked_at" db:"linked_at"`
	Imported      bool      `json:"imported" db:"imported"`
}

// ReminderRecord is an audit entry for a change to a reminder definition.
type ReminderRecord struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	ReminderID uuid.UUID    `json:"reminder_id" db:"reminder_id"`
	OwnerID    string       `json:"owner_id" db:"owner_id"`
	Action     RecordAction `json:"action" db:"action"`
	Version    int          `json:"version" db:"version"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// Business logic methods for Reminder
func (r *Reminder) IsDeleted() bool {
	return r.DeletedAt != nil
}

// IsImported reports whether r was created from an external calendar event
func (r *Reminder) IsImported() bool {
	return r.SourceEventID != nil
}

func (r *Reminder) IsRecurring() bool {
	return r.Recurrence.Kind != RecurrenceNone
}

// Location resolves the reminder's timezone, falling back to UTC.
func (r *Reminder) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NewOccurrence builds a pending, unsynced occurrence of r at t.
func (r *Reminder) NewOccurrence(t time.Time, now time.Time) *Occurrence {
	return &Occurrence{
		ID:                uuid.New(),
		ReminderID:        r.ID,
		DefinitionVersion: r.Version,
		OwnerID:           r.OwnerID,
		Title:             r.Message,
		ScheduledAt:       t,
		DeliveryStatus:    DeliveryPending,
		SyncStatus:        SyncUnsynced,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Business logic methods for Occurrence
func (o *Occurrence) IsArchived() bool {
	return o.ArchivedAt != nil
}

func (o *Occurrence) CanAcknowledge() bool {
	return (o.DeliveryStatus == DeliveryDelivered || o.DeliveryStatus == DeliveryFailed) && o.AcknowledgedAt == nil
}

// NeedsRemoteDelete reports whether a cancelled occurrence still has a remote event.
func (o *Occurrence) NeedsRemoteDelete() bool {
	return o.DeliveryStatus == DeliveryCancelled && o.RemoteEventID != nil
}

// Utility methods
func (k RecurrenceKind) IsValid() bool {
	switch k {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	default:
		return false
	}
}

func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncUnsynced, SyncSynced, SyncConflict, SyncRemoteDeleted:
		return true
	default:
		return false
	}
}

var weekdayCodes = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

// WeekdayCode returns the two-letter iCalendar code for d.
func WeekdayCode(d time.Weekday) string {
	return strings.ToUpper(d.String()[:2])
}

// ParseWeekday accepts two-letter codes ("MO") or full English names ("monday").
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) >= 2 {
		if d, ok := weekdayCodes[s[:2]]; ok {
			if len(s) == 2 || strings.EqualFold(s, d.String()) {
				return d, true
			}
		}
	}
	return 0, false
}
