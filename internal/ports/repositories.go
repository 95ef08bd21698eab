package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/remindly/core/internal/domain/entities"
)

// ReminderRepository defines the interface for reminder definition storage
type ReminderRepository interface {
	Create(ctx context.Context, reminder *entities.Reminder) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Reminder, error)
	// Update persists reminder only if the stored version is expectedVersion,
	// otherwise it returns entities.ErrVersionConflict.
	Update(ctx context.Context, reminder *entities.Reminder, expectedVersion int) error
	// SetWatermark advances materialized_through for the given version. It
	// returns entities.ErrVersionConflict if the reminder moved on.
	SetWatermark(ctx context.Context, id uuid.UUID, version int, through time.Time) error
	List(ctx context.Context, filter ReminderFilter) ([]*entities.Reminder, error)
}

// OccurrenceRepository is the occurrence store. All state transitions are
// single atomic writes; the store is the only source of truth for them.
type OccurrenceRepository interface {
	// Upsert inserts occurrences, ignoring ones whose
	// (reminder id, definition version, scheduled time) already exists.
	Upsert(ctx context.Context, occurrences []*entities.Occurrence) (int, error)
	Get(ctx context.Context, id uuid.UUID) (*entities.Occurrence, error)
	// Claim moves a pending occurrence to delivering. A caller that loses
	// the race gets entities.ErrConcurrencyConflict.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (*entities.Occurrence, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed releases a claim. With retryAt set the occurrence returns to
	// pending; without it the failure is terminal.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, retryAt *time.Time, at time.Time) error
	CancelFuture(ctx context.Context, reminderID uuid.UUID, asOf time.Time) (int64, error)
	// CancelSuperseded cancels pending occurrences at or after asOf that were
	// materialized from a version other than currentVersion.
	CancelSuperseded(ctx context.Context, reminderID uuid.UUID, currentVersion int, asOf time.Time) (int64, error)
	Due(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]*entities.Occurrence, error)
	ExpireMissed(ctx context.Context, before time.Time, reason string) (int64, error)
	ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error)
	ListUpcoming(ctx context.Context, filter OccurrenceFilter) ([]*entities.Occurrence, error)
	Acknowledge(ctx context.Context, id uuid.UUID, at time.Time) error
	ListForSync(ctx context.Context, filter SyncFilter) ([]*entities.Occurrence, error)
	UpdateSyncState(ctx context.Context, id uuid.UUID, state SyncState) error
}

// SyncRepository stores the links between occurrences and remote events.
// Link changes and the matching occurrence sync state are written together.
type SyncRepository interface {
	GetLink(ctx context.Context, occurrenceID uuid.UUID) (*entities.SyncLink, error)
	SaveLink(ctx context.Context, link *entities.SyncLink, state SyncState) error
	RemoveLink(ctx context.Context, occurrenceID uuid.UUID, state SyncState) error
}

// RecordRepository stores the audit trail of reminder changes
type RecordRepository interface {
	Create(ctx context.Context, record *entities.ReminderRecord) error
	ListByReminder(ctx context.Context, reminderID uuid.UUID) ([]*entities.ReminderRecord, error)
}

// Filter types
type ReminderFilter struct {
	OwnerID *string
	// ActiveOnly excludes inactive and deleted reminders.
	ActiveOnly bool
	// WatermarkBefore selects reminders not yet materialized through this time.
	WatermarkBefore *time.Time
	Limit           int
}

type OccurrenceFilter struct {
	OwnerID          string
	From             time.Time
	To               time.Time
	IncludeCancelled bool
}

// SyncFilter selects sync candidates. Occurrences carrying a sync error are
// never selected; ResyncOccurrence clears the error.
type SyncFilter struct {
	Now time.Time
	// RecheckBefore selects synced or conflicting occurrences last checked
	// before this time.
	RecheckBefore time.Time
	Limit         int
}

// SyncState is the sync outcome written for an occurrence. Nil shadow
// fields clear any previous values.
type SyncState struct {
	Status      entities.SyncStatus
	ShadowTitle *string
	ShadowTime  *time.Time
	SyncError   *string
	CheckedAt   time.Time
}
