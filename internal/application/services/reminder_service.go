package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/domain/recurrence"
	"github.com/remindly/core/internal/infrastructure/logger"
	"github.com/remindly/core/internal/ports"
)

// MaxListWindow caps how far apart the bounds of an upcoming listing may be
const MaxListWindow = 90 * 24 * time.Hour

// ReminderService handles reminder definitions and the occurrences they own
type ReminderService struct {
	reminders    ports.ReminderRepository
	occurrences  ports.OccurrenceRepository
	records      ports.RecordRepository
	materializer *Materializer
	feed         ports.FeedEncoder
	calendar     ports.CalendarAdapter
	links        ports.SyncRepository
	validate     *validator.Validate
	clock        Clock
	logger       *logger.Logger
}

// NewReminderService creates a new reminder service
func NewReminderService(
	reminders ports.ReminderRepository,
	occurrences ports.OccurrenceRepository,
	records ports.RecordRepository,
	materializer *Materializer,
	feed ports.FeedEncoder,
	clock Clock,
	logger *logger.Logger,
) *ReminderService {
	return &ReminderService{
		reminders:    reminders,
		occurrences:  occurrences,
		records:      records,
		materializer: materializer,
		feed:         feed,
		validate:     validator.New(),
		clock:        clock,
		logger:       logger.WithComponent("reminders"),
	}
}

// EnableCalendarImport lets ImportCalendarEvents read from calendar and
// link what it imports through links.
func (s *ReminderService) EnableCalendarImport(calendar ports.CalendarAdapter, links ports.SyncRepository) {
	s.calendar = calendar
	s.links = links
}

// CreateReminder stores a new reminder definition and materializes its
// first window of occurrences
func (s *ReminderService) CreateReminder(ctx context.Context, req ports.CreateReminderRequest) (*entities.Reminder, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	rec, err := toRecurrence(req.Recurrence)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	reminder := &entities.Reminder{
		ID:         uuid.New(),
		OwnerID:    req.OwnerID,
		Message:    req.Message,
		StartAt:    req.StartAt.UTC().Truncate(time.Second),
		Timezone:   req.Timezone,
		Recurrence: rec,
		End:        toEndCondition(req.End),
		Active:     true,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := recurrence.Validate(reminder); err != nil {
		return nil, err
	}
	if err := checkOneOffStart(reminder, now); err != nil {
		return nil, err
	}

	// A recurring reminder that started in the past only fires from now on.
	if reminder.IsRecurring() && reminder.StartAt.Before(now) {
		reminder.MaterializedThrough = &now
	}

	if err := s.reminders.Create(ctx, reminder); err != nil {
		return nil, fmt.Errorf("failed to create reminder: %w", err)
	}
	s.record(ctx, reminder, entities.RecordActionCreate)

	s.logger.WithOwnerID(reminder.OwnerID).Infow("Reminder created",
		"reminder_id", reminder.ID,
		"kind", reminder.Recurrence.Kind,
	)

	return s.materializeFresh(ctx, reminder)
}

// GetReminder retrieves a reminder definition by ID
func (s *ReminderService) GetReminder(ctx context.Context, id uuid.UUID) (*entities.Reminder, error) {
	reminder, err := s.reminders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if reminder.IsDeleted() {
		return nil, entities.ErrReminderNotFound
	}
	return reminder, nil
}

// EditReminder applies changes as a new definition version. Pending
// occurrences of older versions from now on are cancelled and the new
// version is materialized in their place; nothing in the past changes.
func (s *ReminderService) EditReminder(ctx context.Context, id uuid.UUID, req ports.UpdateReminderRequest) (*entities.Reminder, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	current, err := s.GetReminder(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != current.Version {
		return nil, entities.ErrVersionConflict
	}

	updated := *current
	if req.Message != nil {
		updated.Message = *req.Message
	}
	if req.StartAt != nil {
		updated.StartAt = req.StartAt.UTC().Truncate(time.Second)
	}
	if req.Timezone != nil {
		updated.Timezone = *req.Timezone
	}
	if req.Recurrence != nil {
		rec, err := toRecurrence(*req.Recurrence)
		if err != nil {
			return nil, err
		}
		updated.Recurrence = rec
	}
	switch {
	case req.End != nil:
		updated.End = toEndCondition(req.End)
	case req.ClearEnd:
		updated.End = entities.EndCondition{}
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	if err := recurrence.Validate(&updated); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if req.StartAt != nil || req.Recurrence != nil {
		if err := checkOneOffStart(&updated, now); err != nil {
			return nil, err
		}
	}
	updated.Version = current.Version + 1
	updated.UpdatedAt = now
	updated.MaterializedThrough = &now

	if err := s.reminders.Update(ctx, &updated, current.Version); err != nil {
		return nil, err
	}
	s.record(ctx, &updated, entities.RecordActionUpdate)

	var cancelled int64
	if updated.Active {
		cancelled, err = s.occurrences.CancelSuperseded(ctx, updated.ID, updated.Version, now)
	} else {
		cancelled, err = s.occurrences.CancelFuture(ctx, updated.ID, now)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel outdated occurrences: %w", err)
	}

	s.logger.WithOwnerID(updated.OwnerID).Infow("Reminder updated",
		"reminder_id", updated.ID,
		"version", updated.Version,
		"active", updated.Active,
		"cancelled", cancelled,
	)

	if !updated.Active {
		return &updated, nil
	}
	return s.materializeFresh(ctx, &updated)
}

// DeleteReminder soft-deletes a reminder and cancels its pending occurrences.
// Deliveries already in flight are left to finish.
func (s *ReminderService) DeleteReminder(ctx context.Context, id uuid.UUID) error {
	current, err := s.GetReminder(ctx, id)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	deleted := *current
	deleted.Active = false
	deleted.DeletedAt = &now
	deleted.UpdatedAt = now
	deleted.Version = current.Version + 1

	if err := s.reminders.Update(ctx, &deleted, current.Version); err != nil {
		return err
	}
	s.record(ctx, &deleted, entities.RecordActionDelete)

	cancelled, err := s.occurrences.CancelFuture(ctx, id, now)
	if err != nil {
		return fmt.Errorf("failed to cancel occurrences: %w", err)
	}

	s.logger.WithOwnerID(deleted.OwnerID).Infow("Reminder deleted",
		"reminder_id", id,
		"cancelled", cancelled,
	)
	return nil
}

// ReminderHistory returns the audit trail of a reminder, deleted ones included
func (s *ReminderService) ReminderHistory(ctx context.Context, id uuid.UUID) ([]*entities.ReminderRecord, error) {
	if _, err := s.reminders.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.records.ListByReminder(ctx, id)
}

// ListUpcoming returns the owner's non-cancelled occurrences inside window
func (s *ReminderService) ListUpcoming(ctx context.Context, ownerID string, window ports.UpcomingWindow) ([]*entities.Occurrence, error) {
	if ownerID == "" {
		return nil, entities.NewValidationError("owner_id", "is required")
	}
	if err := checkWindow(window); err != nil {
		return nil, err
	}

	return s.occurrences.ListUpcoming(ctx, ports.OccurrenceFilter{
		OwnerID: ownerID,
		From:    window.From.UTC(),
		To:      window.To.UTC(),
	})
}

// UpcomingCalendar renders ListUpcoming as an iCalendar feed
func (s *ReminderService) UpcomingCalendar(ctx context.Context, ownerID string, window ports.UpcomingWindow) ([]byte, error) {
	occs, err := s.ListUpcoming(ctx, ownerID, window)
	if err != nil {
		return nil, err
	}
	return s.feed.Encode(ownerID, occs)
}

// ListReminders returns the owner's live reminders, each with its next fire
// time when it is active and has one left.
func (s *ReminderService) ListReminders(ctx context.Context, ownerID string) ([]*ports.ReminderSummary, error) {
	if ownerID == "" {
		return nil, entities.NewValidationError("owner_id", "is required")
	}

	reminders, err := s.reminders.List(ctx, ports.ReminderFilter{OwnerID: &ownerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}

	now := s.clock.Now()
	out := make([]*ports.ReminderSummary, 0, len(reminders))
	for _, r := range reminders {
		if r.IsDeleted() {
			continue
		}
		summary := &ports.ReminderSummary{Reminder: r}
		if r.Active {
			next, ok, err := recurrence.Next(r, now)
			switch {
			case err != nil:
				s.logger.WithError(err).Warnw("Cannot compute next occurrence", "reminder_id", r.ID)
			case ok:
				summary.NextOccurrence = &next
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

// ImportCalendarEvents creates a one-off reminder for every event in the
// owner's calendar inside window. Events already imported or already past
// are skipped, so importing the same window twice adds nothing. The new
// occurrences come linked to their source event and are never pushed back.
func (s *ReminderService) ImportCalendarEvents(ctx context.Context, ownerID string, window ports.UpcomingWindow) (*ports.ImportResult, error) {
	if s.calendar == nil || s.links == nil {
		return nil, entities.ErrCalendarUnavailable
	}
	if ownerID == "" {
		return nil, entities.NewValidationError("owner_id", "is required")
	}
	if err := checkWindow(window); err != nil {
		return nil, err
	}

	events, err := s.calendar.ListEvents(ctx, window.From.UTC(), window.To.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar events: %w", err)
	}

	existing, err := s.reminders.List(ctx, ports.ReminderFilter{OwnerID: &ownerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		if r.IsImported() {
			seen[*r.SourceEventID] = true
		}
	}

	now := s.clock.Now()
	result := &ports.ImportResult{Imported: []*entities.Reminder{}}
	for _, ev := range events {
		if seen[ev.ID] || ev.Time.Before(now) {
			result.Skipped++
			continue
		}
		seen[ev.ID] = true

		reminder, err := s.importEvent(ctx, ownerID, ev, now)
		if err != nil {
			return result, err
		}
		result.Imported = append(result.Imported, reminder)
	}

	s.logger.WithOwnerID(ownerID).Infow("Calendar events imported",
		"events", len(events),
		"imported", len(result.Imported),
		"skipped", result.Skipped,
	)
	return result, nil
}

func (s *ReminderService) importEvent(ctx context.Context, ownerID string, ev ports.RemoteEvent, now time.Time) (*entities.Reminder, error) {
	title := ev.Title
	if title == "" {
		title = "Untitled event"
	}
	eventID := ev.ID
	start := ev.Time.UTC().Truncate(time.Second)

	reminder := &entities.Reminder{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		Message:       title,
		StartAt:       start,
		Timezone:      "UTC",
		Recurrence:    entities.Recurrence{Kind: entities.RecurrenceNone},
		Active:        true,
		Version:       1,
		SourceEventID: &eventID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.reminders.Create(ctx, reminder); err != nil {
		return nil, fmt.Errorf("failed to create imported reminder: %w", err)
	}
	s.record(ctx, reminder, entities.RecordActionCreate)

	occ := reminder.NewOccurrence(start, now)
	if _, err := s.occurrences.Upsert(ctx, []*entities.Occurrence{occ}); err != nil {
		return nil, fmt.Errorf("failed to store imported occurrence: %w", err)
	}
	if err := s.reminders.SetWatermark(ctx, reminder.ID, reminder.Version, start); err != nil {
		return nil, fmt.Errorf("failed to advance watermark: %w", err)
	}
	through := start
	reminder.MaterializedThrough = &through

	link := &entities.SyncLink{
		OccurrenceID:  occ.ID,
		RemoteEventID: ev.ID,
		PushedTitle:   ev.Title,
		PushedTime:    ev.Time.UTC(),
		LinkedAt:      now,
		Imported:      true,
	}
	if err := s.links.SaveLink(ctx, link, ports.SyncState{Status: entities.SyncSynced, CheckedAt: now}); err != nil {
		return nil, fmt.Errorf("failed to link imported occurrence: %w", err)
	}
	return reminder, nil
}

// AcknowledgeDelivery marks a delivered or failed occurrence as seen by its owner
func (s *ReminderService) AcknowledgeDelivery(ctx context.Context, occurrenceID uuid.UUID) (*entities.Occurrence, error) {
	if err := s.occurrences.Acknowledge(ctx, occurrenceID, s.clock.Now()); err != nil {
		return nil, err
	}
	return s.occurrences.Get(ctx, occurrenceID)
}

// ResyncOccurrence queues an occurrence for another push to the calendar.
// It applies to events the user deleted remotely and to occurrences whose
// last sync hit a permanent error, including a failed removal of a cancelled
// occurrence's event. Content conflicts are resolved by editing the reminder
// instead.
func (s *ReminderService) ResyncOccurrence(ctx context.Context, occurrenceID uuid.UUID) (*entities.Occurrence, error) {
	occ, err := s.occurrences.Get(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	if occ.DeliveryStatus == entities.DeliveryCancelled && !occ.NeedsRemoteDelete() {
		return nil, entities.ErrInvalidTransition
	}
	if occ.SyncStatus != entities.SyncRemoteDeleted && occ.SyncError == nil {
		return nil, entities.ErrInvalidTransition
	}

	state := ports.SyncState{Status: entities.SyncUnsynced, CheckedAt: s.clock.Now()}
	if err := s.occurrences.UpdateSyncState(ctx, occurrenceID, state); err != nil {
		return nil, err
	}

	s.logger.WithOwnerID(occ.OwnerID).Infow("Occurrence queued for resync", "occurrence_id", occurrenceID)
	return s.occurrences.Get(ctx, occurrenceID)
}

// materializeFresh expands the first window of a just-written reminder and
// returns it with its advanced watermark. A failure here is logged only:
// the next sweep picks the reminder up.
func (s *ReminderService) materializeFresh(ctx context.Context, reminder *entities.Reminder) (*entities.Reminder, error) {
	if s.materializer == nil {
		return reminder, nil
	}

	target := s.clock.Now().Add(s.materializer.Horizon())
	if _, err := s.materializer.Materialize(ctx, reminder, target); err != nil {
		s.logger.WithError(err).Warnw("Deferred materialization to next sweep", "reminder_id", reminder.ID)
		return reminder, nil
	}

	fresh, err := s.reminders.GetByID(ctx, reminder.ID)
	if err != nil {
		return reminder, nil
	}
	return fresh, nil
}

func (s *ReminderService) record(ctx context.Context, reminder *entities.Reminder, action entities.RecordAction) {
	rec := &entities.ReminderRecord{
		ID:         uuid.New(),
		ReminderID: reminder.ID,
		OwnerID:    reminder.OwnerID,
		Action:     action,
		Version:    reminder.Version,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.records.Create(ctx, rec); err != nil {
		s.logger.WithError(err).Errorw("Failed to write reminder record",
			"reminder_id", reminder.ID,
			"action", action,
		)
	}
}

// validateStruct runs the request's validate tags, reporting the first
// failing field as a ValidationError
func (s *ReminderService) validateStruct(req interface{}) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return entities.NewValidationError(fe.Namespace(), fmt.Sprintf("failed on %q", fe.Tag()))
	}
	return entities.NewValidationError("", err.Error())
}

// checkOneOffStart rejects a one-off reminder that could never fire
func checkOneOffStart(r *entities.Reminder, now time.Time) error {
	if !r.IsRecurring() && r.StartAt.Before(now.Truncate(time.Second)) {
		return entities.NewValidationError("start_at", "must not be in the past for a one-off reminder")
	}
	return nil
}

func checkWindow(window ports.UpcomingWindow) error {
	if window.From.IsZero() || window.To.IsZero() {
		return entities.NewValidationError("window", "from and to are required")
	}
	if window.To.Before(window.From) {
		return entities.NewValidationError("window", "end is before start")
	}
	if window.To.Sub(window.From) > MaxListWindow {
		return entities.NewValidationError("window", fmt.Sprintf("must not exceed %s", MaxListWindow))
	}
	return nil
}

func toRecurrence(in ports.RecurrenceInput) (entities.Recurrence, error) {
	rec := entities.Recurrence{
		Kind:       in.Kind,
		DayOfMonth: in.DayOfMonth,
	}
	if rec.Kind == "" {
		rec.Kind = entities.RecurrenceNone
	}

	seen := make(map[time.Weekday]bool, len(in.Weekdays))
	for _, s := range in.Weekdays {
		d, ok := entities.ParseWeekday(s)
		if !ok {
			return entities.Recurrence{}, entities.NewValidationError("recurrence.weekdays", fmt.Sprintf("unknown weekday %q", s))
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		rec.Weekdays = append(rec.Weekdays, d)
	}
	return rec, nil
}

func toEndCondition(in *ports.EndInput) entities.EndCondition {
	if in == nil {
		return entities.EndCondition{}
	}
	end := entities.EndCondition{Count: in.Count}
	if in.Until != nil {
		until := in.Until.UTC().Truncate(time.Second)
		end.Until = &until
	}
	return end
}

var _ ports.ReminderService = (*ReminderService)(nil)
