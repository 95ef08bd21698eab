// Package memory is an in-process implementation of the repository ports.
// It backs tests and single-process deployments configured with the
// "memory" database driver.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/ports"
)

type occurrenceKey struct {
	reminderID  uuid.UUID
	version     int
	scheduledAt int64
}

// Store keeps reminders, occurrences, sync links and records behind one
// mutex, so every operation is atomic.
type Store struct {
	mu          sync.Mutex
	reminders   map[uuid.UUID]*entities.Reminder
	occurrences map[uuid.UUID]*entities.Occurrence
	keys        map[occurrenceKey]uuid.UUID
	links       map[uuid.UUID]*entities.SyncLink
	records     []*entities.ReminderRecord
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		reminders:   make(map[uuid.UUID]*entities.Reminder),
		occurrences: make(map[uuid.UUID]*entities.Occurrence),
		keys:        make(map[occurrenceKey]uuid.UUID),
		links:       make(map[uuid.UUID]*entities.SyncLink),
	}
}

// Reminders returns the store as a ports.ReminderRepository
func (s *Store) Reminders() ports.ReminderRepository { return reminderRepo{s} }

// Occurrences returns the store as a ports.OccurrenceRepository
func (s *Store) Occurrences() ports.OccurrenceRepository { return occurrenceRepo{s} }

// SyncLinks returns the store as a ports.SyncRepository
func (s *Store) SyncLinks() ports.SyncRepository { return syncRepo{s} }

// Records returns the store as a ports.RecordRepository
func (s *Store) Records() ports.RecordRepository { return recordRepo{s} }

func cloneReminder(r *entities.Reminder) *entities.Reminder {
	c := *r
	c.Recurrence.Weekdays = append([]time.Weekday(nil), r.Recurrence.Weekdays...)
	return &c
}

func cloneOccurrence(o *entities.Occurrence) *entities.Occurrence {
	c := *o
	return &c
}

func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

// Reminders

type reminderRepo struct{ s *Store }

func (r reminderRepo) Create(ctx context.Context, reminder *entities.Reminder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if reminder.ID == uuid.Nil {
		reminder.ID = uuid.New()
	}
	r.s.reminders[reminder.ID] = cloneReminder(reminder)
	return nil
}

func (r reminderRepo) GetByID(ctx context.Context, id uuid.UUID) (*entities.Reminder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.reminders[id]
	if !ok {
		return nil, entities.ErrReminderNotFound
	}
	return cloneReminder(stored), nil
}

func (r reminderRepo) Update(ctx context.Context, reminder *entities.Reminder, expectedVersion int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.reminders[reminder.ID]
	if !ok {
		return entities.ErrReminderNotFound
	}
	if stored.Version != expectedVersion {
		return entities.ErrVersionConflict
	}
	r.s.reminders[reminder.ID] = cloneReminder(reminder)
	return nil
}

func (r reminderRepo) SetWatermark(ctx context.Context, id uuid.UUID, version int, through time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.reminders[id]
	if !ok {
		return entities.ErrReminderNotFound
	}
	if stored.Version != version {
		return entities.ErrVersionConflict
	}
	through = utc(through)
	if stored.MaterializedThrough == nil || through.After(*stored.MaterializedThrough) {
		stored.MaterializedThrough = &through
	}
	return nil
}

func (r reminderRepo) List(ctx context.Context, filter ports.ReminderFilter) ([]*entities.Reminder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entities.Reminder
	for _, rem := range r.s.reminders {
		if filter.OwnerID != nil && rem.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.ActiveOnly && (!rem.Active || rem.IsDeleted()) {
			continue
		}
		if filter.WatermarkBefore != nil && rem.MaterializedThrough != nil &&
			!rem.MaterializedThrough.Before(*filter.WatermarkBefore) {
			continue
		}
		out = append(out, cloneReminder(rem))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Occurrences

type occurrenceRepo struct{ s *Store }

func (r occurrenceRepo) Upsert(ctx context.Context, occurrences []*entities.Occurrence) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	inserted := 0
	for _, occ := range occurrences {
		c := cloneOccurrence(occ)
		c.ScheduledAt = utc(c.ScheduledAt)
		key := occurrenceKey{c.ReminderID, c.DefinitionVersion, c.ScheduledAt.Unix()}
		if _, exists := r.s.keys[key]; exists {
			continue
		}
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		r.s.keys[key] = c.ID
		r.s.occurrences[c.ID] = c
		inserted++
	}
	return inserted, nil
}

func (r occurrenceRepo) Get(ctx context.Context, id uuid.UUID) (*entities.Occurrence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	occ, ok := r.s.occurrences[id]
	if !ok {
		return nil, entities.ErrOccurrenceNotFound
	}
	return cloneOccurrence(occ), nil
}

func (r occurrenceRepo) Claim(ctx context.Context, id uuid.UUID, now time.Time) (*entities.Occurrence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	occ, ok := r.s.occurrences[id]
	if !ok {
		return nil, entities.ErrOccurrenceNotFound
	}
	if occ.DeliveryStatus != entities.DeliveryPending {
		return nil, entities.ErrConcurrencyConflict
	}
	now = utc(now)
	occ.DeliveryStatus = entities.DeliveryDelivering
	occ.Attempts++
	occ.ClaimedAt = &now
	occ.UpdatedAt = now
	return cloneOccurrence(occ), nil
}

func (r occurrenceRepo) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	occ, ok := r.s.occurrences[id]
	if !ok {
		return entities.ErrOccurrenceNotFound
	}
	if occ.DeliveryStatus != entities.DeliveryDelivering {
		return entities.ErrInvalidTransition
	}
	at = utc(at)
	occ.DeliveryStatus = entities.DeliveryDelivered
	occ.DeliveredAt = ptrTime(at)
	occ.ArchivedAt = ptrTime(at)
	occ.ClaimedAt = nil
	occ.NextAttemptAt = nil
	occ.UpdatedAt = at
	return nil
}

func (r occurrenceRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string, retryAt *time.Time, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	occ, ok := r.s.occurrences[id]
	if !ok {
		return entities.ErrOccurrenceNotFound
	}
	if occ.DeliveryStatus != entities.DeliveryDelivering {
		return entities.ErrInvalidTransition
	}
	at = utc(at)
	occ.LastError = &reason
	occ.ClaimedAt = nil
	occ.UpdatedAt = at
	if retryAt != nil {
		occ.DeliveryStatus = entities.DeliveryPending
		occ.NextAttemptAt = ptrTime(utc(*retryAt))
	} else {
		occ.DeliveryStatus = entities.DeliveryFailed
		occ.NextAttemptAt = nil
	}
	return nil
}

func (r occurrenceRepo) CancelFuture(ctx context.Context, reminderID uuid.UUID, asOf time.Time) (int64, error) {
	return r.cancel(reminderID, asOf, func(*entities.Occurrence) bool { return true })
}

func (r occurrenceRepo) CancelSuperseded(ctx context.Context, reminderID uuid.UUID, currentVersion int, asOf time.Time) (int64, error) {
	return r.cancel(reminderID, asOf, func(o *entities.Occurrence) bool {
		return o.DefinitionVersion != currentVersion
	})
}

func (r occurrenceRepo) cancel(reminderID uuid.UUID, asOf time.Time, match func(*entities.Occurrence) bool) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	asOf = utc(asOf)
	var n int64
	for _, occ := range r.s.occurrences {
		if occ.ReminderID != reminderID || occ.DeliveryStatus != entities.DeliveryPending {
			continue
		}
		if occ.ScheduledAt.Before(asOf) || !match(occ) {
			continue
		}
		occ.DeliveryStatus = entities.DeliveryCancelled
		occ.ArchivedAt = ptrTime(asOf)
		occ.NextAttemptAt = nil
		occ.UpdatedAt = asOf
		n++
	}
	return n, nil
}

func (r occurrenceRepo) Due(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]*entities.Occurrence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now = utc(now)
	floor := now.Add(-grace)
	var out []*entities.Occurrence
	for _, occ := range r.s.occurrences {
		if occ.DeliveryStatus != entities.DeliveryPending {
			continue
		}
		fresh := occ.Attempts == 0 && occ.ScheduledAt.After(floor) && !occ.ScheduledAt.After(now)
		retry := occ.Attempts > 0 && occ.NextAttemptAt != nil && !occ.NextAttemptAt.After(now)
		if fresh || retry {
			out = append(out, cloneOccurrence(occ))
		}
	}
	sortByScheduled(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r occurrenceRepo) ExpireMissed(ctx context.Context, before time.Time, reason string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	before = utc(before)
	var n int64
	for _, occ := range r.s.occurrences {
		if occ.DeliveryStatus != entities.DeliveryPending || occ.Attempts != 0 {
			continue
		}
		if occ.ScheduledAt.After(before) {
			continue
		}
		occ.DeliveryStatus = entities.DeliveryFailed
		occ.LastError = &reason
		occ.UpdatedAt = before
		n++
	}
	return n, nil
}

func (r occurrenceRepo) ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	claimedBefore = utc(claimedBefore)
	var n int64
	for _, occ := range r.s.occurrences {
		if occ.DeliveryStatus != entities.DeliveryDelivering || occ.ClaimedAt == nil {
			continue
		}
		if !occ.ClaimedAt.Before(claimedBefore) {
			continue
		}
		occ.DeliveryStatus = entities.DeliveryPending
		occ.NextAttemptAt = occ.ClaimedAt
		occ.ClaimedAt = nil
		n++
	}
	return n, nil
}

func (r occurrenceRepo) ListUpcoming(ctx context.Context, filter ports.OccurrenceFilter) ([]*entities.Occurrence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entities.Occurrence
	for _, occ := range r.s.occurrences {
		if occ.OwnerID != filter.OwnerID {
			continue
		}
		if !filter.IncludeCancelled && occ.DeliveryStatus == entities.DeliveryCancelled {
			continue
		}
		if occ.ScheduledAt.Before(filter.From) || occ.ScheduledAt.After(filter.To) {
			continue
		}
		out = append(out, cloneOccurrence(occ))
	}
	sortByScheduled(out)
	return out, nil
}

func (r occurrenceRepo) Acknowledge(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	occ, ok := r.s.occurrences[id]
	if !ok {
		return entities.ErrOccurrenceNotFound
	}
	if !occ.CanAcknowledge() {
		return entities.ErrInvalidTransition
	}
	at = utc(at)
	occ.AcknowledgedAt = &at
	if !occ.IsArchived() {
		occ.ArchivedAt = ptrTime(at)
	}
	occ.UpdatedAt = at
	return nil
}

func (r occurrenceRepo) ListForSync(ctx context.Context, filter ports.SyncFilter) ([]*entities.Occurrence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entities.Occurrence
	for _, occ := range r.s.occurrences {
		if needsSync(occ, filter) {
			out = append(out, cloneOccurrence(occ))
		}
	}
	sortByScheduled(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func needsSync(occ *entities.Occurrence, filter ports.SyncFilter) bool {
	// Permanent failures wait for an explicit resync.
	if occ.SyncError != nil {
		return false
	}
	if occ.DeliveryStatus == entities.DeliveryCancelled {
		return occ.NeedsRemoteDelete()
	}
	if occ.ScheduledAt.Before(filter.Now) {
		return false
	}
	switch occ.SyncStatus {
	case entities.SyncUnsynced:
		return true
	case entities.SyncSynced, entities.SyncConflict:
		return occ.CheckedAt == nil || occ.CheckedAt.Before(filter.RecheckBefore)
	default:
		return false
	}
}

func (r occurrenceRepo) UpdateSyncState(ctx context.Context, id uuid.UUID, state ports.SyncState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if !state.Status.IsValid() {
		return fmt.Errorf("update sync state: unknown status %q", state.Status)
	}
	occ, ok := r.s.occurrences[id]
	if !ok {
		return entities.ErrOccurrenceNotFound
	}
	applySyncState(occ, state)
	return nil
}

func applySyncState(occ *entities.Occurrence, state ports.SyncState) {
	checked := utc(state.CheckedAt)
	occ.SyncStatus = state.Status
	occ.ShadowTitle = state.ShadowTitle
	occ.ShadowTime = state.ShadowTime
	occ.SyncError = state.SyncError
	occ.CheckedAt = &checked
	occ.UpdatedAt = checked
}

func sortByScheduled(occs []*entities.Occurrence) {
	sort.Slice(occs, func(i, j int) bool {
		if occs[i].ScheduledAt.Equal(occs[j].ScheduledAt) {
			return occs[i].ID.String() < occs[j].ID.String()
		}
		return occs[i].ScheduledAt.Before(occs[j].ScheduledAt)
	})
}

// Sync links

type syncRepo struct{ s *Store }

func (r syncRepo) GetLink(ctx context.Context, occurrenceID uuid.UUID) (*entities.SyncLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	link, ok := r.s.links[occurrenceID]
	if !ok {
		return nil, entities.ErrSyncLinkNotFound
	}
	c := *link
	return &c, nil
}

func (r syncRepo) SaveLink(ctx context.Context, link *entities.SyncLink, state ports.SyncState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	occ, ok := r.s.occurrences[link.OccurrenceID]
	if !ok {
		return entities.ErrOccurrenceNotFound
	}
	c := *link
	c.PushedTime = utc(c.PushedTime)
	c.LinkedAt = utc(c.LinkedAt)
	r.s.links[link.OccurrenceID] = &c

	remoteID := link.RemoteEventID
	occ.RemoteEventID = &remoteID
	applySyncState(occ, state)
	return nil
}

func (r syncRepo) RemoveLink(ctx context.Context, occurrenceID uuid.UUID, state ports.SyncState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	occ, ok := r.s.occurrences[occurrenceID]
	if !ok {
		return entities.ErrOccurrenceNotFound
	}
	delete(r.s.links, occurrenceID)
	occ.RemoteEventID = nil
	applySyncState(occ, state)
	return nil
}

// Records

type recordRepo struct{ s *Store }

func (r recordRepo) Create(ctx context.Context, record *entities.ReminderRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	c := *record
	r.s.records = append(r.s.records, &c)
	return nil
}

func (r recordRepo) ListByReminder(ctx context.Context, reminderID uuid.UUID) ([]*entities.ReminderRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entities.ReminderRecord
	for _, rec := range r.s.records {
		if rec.ReminderID == reminderID {
			c := *rec
			out = append(out, &c)
		}
	}
	return out, nil
}
