package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/ports"
)

func TestCreateReminder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r := env.createDaily(t, t0.Add(time.Hour))
	if r.Version != 1 || !r.Active {
		t.Errorf("created reminder = %+v", r)
	}
	if r.MaterializedThrough == nil || !r.MaterializedThrough.Equal(t0.Add(72*time.Hour)) {
		t.Errorf("watermark = %v, want horizon end", r.MaterializedThrough)
	}

	upcoming, err := env.service.ListUpcoming(ctx, "alice", ports.UpcomingWindow{From: t0, To: t0.Add(72 * time.Hour)})
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if len(upcoming) != 3 {
		t.Fatalf("got %d upcoming, want 3", len(upcoming))
	}
	for _, occ := range upcoming {
		if occ.Title != "Stretch" || occ.DeliveryStatus != entities.DeliveryPending || occ.SyncStatus != entities.SyncUnsynced {
			t.Errorf("occurrence = %+v", occ)
		}
	}

	history, err := env.service.ReminderHistory(ctx, r.ID)
	if err != nil {
		t.Fatalf("ReminderHistory: %v", err)
	}
	if len(history) != 1 || history[0].Action != entities.RecordActionCreate {
		t.Errorf("history = %+v", history)
	}
}

func TestCreateReminderValidation(t *testing.T) {
	env := newTestEnv(t)
	count := 3
	until := t0.Add(48 * time.Hour)

	tests := []struct {
		name string
		req  ports.CreateReminderRequest
	}{
		{"missing owner", ports.CreateReminderRequest{Message: "x", StartAt: t0}},
		{"missing message", ports.CreateReminderRequest{OwnerID: "alice", StartAt: t0}},
		{"missing start", ports.CreateReminderRequest{OwnerID: "alice", Message: "x"}},
		{"unknown timezone", ports.CreateReminderRequest{OwnerID: "alice", Message: "x", StartAt: t0, Timezone: "Mars/Olympus"}},
		{"unknown kind", ports.CreateReminderRequest{OwnerID: "alice", Message: "x", StartAt: t0,
			Recurrence: ports.RecurrenceInput{Kind: "hourly"}}},
		{"bad weekday", ports.CreateReminderRequest{OwnerID: "alice", Message: "x", StartAt: t0,
			Recurrence: ports.RecurrenceInput{Kind: entities.RecurrenceWeekly, Weekdays: []string{"funday"}}}},
		{"weekdays on daily", ports.CreateReminderRequest{OwnerID: "alice", Message: "x", StartAt: t0,
			Recurrence: ports.RecurrenceInput{Kind: entities.RecurrenceDaily, Weekdays: []string{"MO"}}}},
		{"day of month out of range", ports.CreateReminderRequest{OwnerID: "alice", Message: "x", StartAt: t0,
			Recurrence: ports.RecurrenceInput{Kind: entities.RecurrenceMonthly, DayOfMonth: 32}}},
		{"until and count", ports.CreateReminderRequest{OwnerID: "alice", Message: "x", StartAt: t0,
			Recurrence: ports.RecurrenceInput{Kind: entities.RecurrenceDaily},
			End:        &ports.EndInput{Until: &until, Count: &count}}},
		{"end on one-off", ports.CreateReminderRequest{OwnerID: "alice", Message: "x", StartAt: t0,
			End: &ports.EndInput{Count: &count}}},
		{"one-off in the past", ports.CreateReminderRequest{OwnerID: "alice", Message: "x", StartAt: t0.Add(-48 * time.Hour)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.CreateReminder(context.Background(), tt.req)
			if !entities.IsValidation(err) {
				t.Errorf("err = %v, want a validation error", err)
			}
		})
	}
}

func TestEditOneOffIntoThePast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r := env.createOnce(t, "alice", t0.Add(time.Hour))
	past := t0.Add(-time.Hour)
	_, err := env.service.EditReminder(ctx, r.ID, ports.UpdateReminderRequest{StartAt: &past})
	if !entities.IsValidation(err) {
		t.Fatalf("err = %v, want a validation error", err)
	}

	got, err := env.service.GetReminder(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReminder: %v", err)
	}
	if got.Version != 1 || !got.StartAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("rejected edit changed the reminder: %+v", got)
	}

	// Once its time has passed, a one-off can still be renamed.
	env.clock.Advance(2 * time.Hour)
	msg := "Call back later"
	if _, err := env.service.EditReminder(ctx, r.ID, ports.UpdateReminderRequest{Message: &msg}); err != nil {
		t.Errorf("rename after start: %v", err)
	}
}

func TestCreateRecurringInThePast(t *testing.T) {
	env := newTestEnv(t)

	r := env.createDaily(t, t0.Add(-10*24*time.Hour))
	occs := env.occurrencesOf(t, "alice", r.ID)
	if len(occs) == 0 {
		t.Fatal("no occurrences materialized")
	}
	for _, occ := range occs {
		if occ.ScheduledAt.Before(t0) {
			t.Errorf("occurrence materialized in the past at %s", occ.ScheduledAt)
		}
	}
}

func TestCreateWeekly(t *testing.T) {
	env := newTestEnv(t)

	// 2024-03-01 is a Friday; the horizon covers Fri..Mon.
	r, err := env.service.CreateReminder(context.Background(), ports.CreateReminderRequest{
		OwnerID:  "alice",
		Message:  "Gym",
		StartAt:  t0,
		Timezone: "Europe/Berlin",
		Recurrence: ports.RecurrenceInput{
			Kind:     entities.RecurrenceWeekly,
			Weekdays: []string{"SA", "monday", "SA"},
		},
	})
	if err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	if len(r.Recurrence.Weekdays) != 2 {
		t.Errorf("weekdays = %v, want duplicates dropped", r.Recurrence.Weekdays)
	}

	occs := env.occurrencesOf(t, "alice", r.ID)
	if len(occs) != 2 {
		t.Fatalf("got %d occurrences, want 2", len(occs))
	}
	if occs[0].ScheduledAt.Weekday() != time.Saturday || occs[1].ScheduledAt.Weekday() != time.Monday {
		t.Errorf("occurrences on %s and %s", occs[0].ScheduledAt.Weekday(), occs[1].ScheduledAt.Weekday())
	}
}

func TestDeleteReminderCancelsFromNow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	occRepo := env.store.Occurrences()

	r := env.createDaily(t, t0.Add(time.Hour))
	occs := env.occurrencesOf(t, "alice", r.ID)
	if len(occs) != 3 {
		t.Fatalf("got %d occurrences, want 3", len(occs))
	}

	// First one delivered, second one mid-delivery.
	env.clock.Set(occs[0].ScheduledAt)
	if _, err := occRepo.Claim(ctx, occs[0].ID, env.clock.Now()); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := occRepo.MarkDelivered(ctx, occs[0].ID, env.clock.Now()); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	env.clock.Set(occs[1].ScheduledAt)
	if _, err := occRepo.Claim(ctx, occs[1].ID, env.clock.Now()); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	env.clock.Advance(time.Minute)
	if err := env.service.DeleteReminder(ctx, r.ID); err != nil {
		t.Fatalf("DeleteReminder: %v", err)
	}

	want := []entities.DeliveryStatus{entities.DeliveryDelivered, entities.DeliveryDelivering, entities.DeliveryCancelled}
	for i, occ := range env.occurrencesOf(t, "alice", r.ID) {
		if occ.DeliveryStatus != want[i] {
			t.Errorf("occurrence %d status = %s, want %s", i, occ.DeliveryStatus, want[i])
		}
	}

	if _, err := env.service.GetReminder(ctx, r.ID); !errors.Is(err, entities.ErrReminderNotFound) {
		t.Errorf("GetReminder after delete = %v", err)
	}
	if err := env.service.DeleteReminder(ctx, r.ID); !errors.Is(err, entities.ErrReminderNotFound) {
		t.Errorf("second delete = %v", err)
	}

	history, err := env.service.ReminderHistory(ctx, r.ID)
	if err != nil {
		t.Fatalf("ReminderHistory: %v", err)
	}
	if len(history) != 2 || history[1].Action != entities.RecordActionDelete || history[1].Version != 2 {
		t.Errorf("history = %+v", history)
	}

	// Nothing is materialized for a deleted reminder.
	n, err := env.materializer.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("sweep inserted %d occurrences for a deleted reminder", n)
	}
}

func TestEditReminderStartsNewVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r := env.createDaily(t, t0.Add(time.Hour))
	env.clock.Advance(30 * time.Minute)

	msg := "Stretch and breathe"
	expected := 1
	edited, err := env.service.EditReminder(ctx, r.ID, ports.UpdateReminderRequest{
		Message:         &msg,
		ExpectedVersion: &expected,
	})
	if err != nil {
		t.Fatalf("EditReminder: %v", err)
	}
	if edited.Version != 2 || edited.Message != msg {
		t.Errorf("edited = %+v", edited)
	}

	upcoming, err := env.service.ListUpcoming(ctx, "alice", ports.UpcomingWindow{From: t0, To: t0.Add(80 * time.Hour)})
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if len(upcoming) != 3 {
		t.Fatalf("got %d upcoming, want 3", len(upcoming))
	}
	for _, occ := range upcoming {
		if occ.DefinitionVersion != 2 || occ.Title != msg {
			t.Errorf("upcoming occurrence from version %d titled %q", occ.DefinitionVersion, occ.Title)
		}
	}

	cancelled := 0
	for _, occ := range env.occurrencesOf(t, "alice", r.ID) {
		if occ.DefinitionVersion == 1 {
			if occ.DeliveryStatus != entities.DeliveryCancelled {
				t.Errorf("version 1 occurrence at %s is %s", occ.ScheduledAt, occ.DeliveryStatus)
			}
			cancelled++
		}
	}
	if cancelled != 3 {
		t.Errorf("cancelled %d version 1 occurrences, want 3", cancelled)
	}

	// A writer holding version 1 loses.
	_, err = env.service.EditReminder(ctx, r.ID, ports.UpdateReminderRequest{
		Message:         &msg,
		ExpectedVersion: &expected,
	})
	if !errors.Is(err, entities.ErrVersionConflict) {
		t.Errorf("stale edit = %v, want ErrVersionConflict", err)
	}
}

func TestEditReminderPastOccurrencesUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r := env.createDaily(t, t0)
	first := env.occurrencesOf(t, "alice", r.ID)[0]

	env.clock.Advance(2 * time.Hour)
	newStart := t0.Add(3 * time.Hour)
	if _, err := env.service.EditReminder(ctx, r.ID, ports.UpdateReminderRequest{StartAt: &newStart}); err != nil {
		t.Fatalf("EditReminder: %v", err)
	}

	got := env.occurrence(t, first.ID)
	if got.DeliveryStatus != entities.DeliveryPending || got.DefinitionVersion != 1 {
		t.Errorf("past occurrence changed: %+v", got)
	}
}

func TestEditReminderDeactivate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r := env.createDaily(t, t0.Add(time.Hour))
	inactive := false
	if _, err := env.service.EditReminder(ctx, r.ID, ports.UpdateReminderRequest{Active: &inactive}); err != nil {
		t.Fatalf("EditReminder: %v", err)
	}

	upcoming, err := env.service.ListUpcoming(ctx, "alice", ports.UpcomingWindow{From: t0, To: t0.Add(80 * time.Hour)})
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if len(upcoming) != 0 {
		t.Errorf("deactivated reminder still has %d upcoming occurrences", len(upcoming))
	}

	active := true
	reactivated, err := env.service.EditReminder(ctx, r.ID, ports.UpdateReminderRequest{Active: &active})
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if reactivated.Version != 3 {
		t.Errorf("version = %d, want 3", reactivated.Version)
	}
	upcoming, err = env.service.ListUpcoming(ctx, "alice", ports.UpcomingWindow{From: t0, To: t0.Add(80 * time.Hour)})
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if len(upcoming) != 3 {
		t.Errorf("reactivated reminder has %d upcoming, want 3", len(upcoming))
	}
}

func TestEditReminderClearEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	count := 1
	r, err := env.service.CreateReminder(ctx, ports.CreateReminderRequest{
		OwnerID:    "alice",
		Message:    "Once a day, once",
		StartAt:    t0.Add(time.Hour),
		Recurrence: ports.RecurrenceInput{Kind: entities.RecurrenceDaily},
		End:        &ports.EndInput{Count: &count},
	})
	if err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	if got := len(env.occurrencesOf(t, "alice", r.ID)); got != 1 {
		t.Fatalf("got %d occurrences with count=1", got)
	}

	edited, err := env.service.EditReminder(ctx, r.ID, ports.UpdateReminderRequest{ClearEnd: true})
	if err != nil {
		t.Fatalf("EditReminder: %v", err)
	}
	if !edited.End.IsZero() {
		t.Errorf("end = %+v, want cleared", edited.End)
	}
}

func TestEditUnknownReminder(t *testing.T) {
	env := newTestEnv(t)
	msg := "x"
	_, err := env.service.EditReminder(context.Background(), uuid.New(), ports.UpdateReminderRequest{Message: &msg})
	if !errors.Is(err, entities.ErrReminderNotFound) {
		t.Errorf("err = %v, want ErrReminderNotFound", err)
	}
}

func TestListUpcomingWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		owner  string
		window ports.UpcomingWindow
	}{
		{"no owner", "", ports.UpcomingWindow{From: t0, To: t0.Add(time.Hour)}},
		{"inverted", "alice", ports.UpcomingWindow{From: t0, To: t0.Add(-time.Hour)}},
		{"missing bound", "alice", ports.UpcomingWindow{From: t0}},
		{"too wide", "alice", ports.UpcomingWindow{From: t0, To: t0.Add(MaxListWindow + time.Second)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.service.ListUpcoming(ctx, tt.owner, tt.window); !entities.IsValidation(err) {
				t.Errorf("err = %v, want a validation error", err)
			}
		})
	}

	env.createOnce(t, "bob", t0.Add(time.Hour))
	got, err := env.service.ListUpcoming(ctx, "alice", ports.UpcomingWindow{From: t0, To: t0.Add(MaxListWindow)})
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("alice sees %d of bob's occurrences", len(got))
	}
}

func TestUpcomingCalendar(t *testing.T) {
	env := newTestEnv(t)
	env.createDaily(t, t0.Add(time.Hour))

	feed, err := env.service.UpcomingCalendar(context.Background(), "alice", ports.UpcomingWindow{From: t0, To: t0.Add(72 * time.Hour)})
	if err != nil {
		t.Fatalf("UpcomingCalendar: %v", err)
	}
	if got := strings.Count(string(feed), "BEGIN:VEVENT"); got != 3 {
		t.Errorf("feed has %d events, want 3", got)
	}
}

func TestAcknowledgeDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r := env.createOnce(t, "alice", t0.Add(time.Minute))
	occ := env.occurrencesOf(t, "alice", r.ID)[0]

	if _, err := env.service.AcknowledgeDelivery(ctx, occ.ID); !errors.Is(err, entities.ErrInvalidTransition) {
		t.Errorf("acknowledging a pending occurrence = %v", err)
	}

	env.clock.Advance(2 * time.Minute)
	if _, err := env.scheduler.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	acked, err := env.service.AcknowledgeDelivery(ctx, occ.ID)
	if err != nil {
		t.Fatalf("AcknowledgeDelivery: %v", err)
	}
	if acked.AcknowledgedAt == nil || acked.ArchivedAt == nil {
		t.Errorf("acknowledged occurrence = %+v", acked)
	}

	if _, err := env.service.AcknowledgeDelivery(ctx, occ.ID); !errors.Is(err, entities.ErrInvalidTransition) {
		t.Errorf("second acknowledgement = %v", err)
	}
	if _, err := env.service.AcknowledgeDelivery(ctx, uuid.New()); !errors.Is(err, entities.ErrOccurrenceNotFound) {
		t.Errorf("unknown occurrence = %v", err)
	}
}
