// Package repotest holds behavioural tests shared by every implementation
// of the repository ports.
package repotest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/ports"
)

// Stores bundles one implementation of each repository port
type Stores struct {
	Reminders   ports.ReminderRepository
	Occurrences ports.OccurrenceRepository
	SyncLinks   ports.SyncRepository
	Records     ports.RecordRepository
}

// Factory returns fresh, empty stores for a single test
type Factory func(t *testing.T) Stores

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// Run exercises the repository contract against the stores built by newStores
func Run(t *testing.T, newStores Factory) {
	t.Run("reminder versioning", func(t *testing.T) { testReminderVersioning(t, newStores(t)) })
	t.Run("reminder list filters", func(t *testing.T) { testReminderList(t, newStores(t)) })
	t.Run("upsert is idempotent", func(t *testing.T) { testUpsertIdempotent(t, newStores(t)) })
	t.Run("concurrent claims have one winner", func(t *testing.T) { testConcurrentClaim(t, newStores(t)) })
	t.Run("delivery transitions", func(t *testing.T) { testDeliveryTransitions(t, newStores(t)) })
	t.Run("cancel future", func(t *testing.T) { testCancelFuture(t, newStores(t)) })
	t.Run("cancel superseded", func(t *testing.T) { testCancelSuperseded(t, newStores(t)) })
	t.Run("due and expire", func(t *testing.T) { testDueAndExpire(t, newStores(t)) })
	t.Run("release stale claims", func(t *testing.T) { testReleaseStale(t, newStores(t)) })
	t.Run("acknowledge", func(t *testing.T) { testAcknowledge(t, newStores(t)) })
	t.Run("sync links", func(t *testing.T) { testSyncLinks(t, newStores(t)) })
	t.Run("imported reminders and links", func(t *testing.T) { testImported(t, newStores(t)) })
	t.Run("list for sync", func(t *testing.T) { testListForSync(t, newStores(t)) })
	t.Run("records", func(t *testing.T) { testRecords(t, newStores(t)) })
}

func newReminder(t *testing.T, s Stores, owner string) *entities.Reminder {
	t.Helper()

	r := &entities.Reminder{
		ID:         uuid.New(),
		OwnerID:    owner,
		Message:    "Water plants",
		StartAt:    base,
		Timezone:   "UTC",
		Recurrence: entities.Recurrence{Kind: entities.RecurrenceDaily},
		Active:     true,
		Version:    1,
		CreatedAt:  base,
		UpdatedAt:  base,
	}
	if err := s.Reminders.Create(context.Background(), r); err != nil {
		t.Fatalf("Create reminder: %v", err)
	}
	return r
}

func seed(t *testing.T, s Stores, r *entities.Reminder, times ...time.Time) []*entities.Occurrence {
	t.Helper()

	occs := make([]*entities.Occurrence, 0, len(times))
	for _, ts := range times {
		occs = append(occs, r.NewOccurrence(ts, base))
	}
	if _, err := s.Occurrences.Upsert(context.Background(), occs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return occs
}

func mustGet(t *testing.T, s Stores, id uuid.UUID) *entities.Occurrence {
	t.Helper()

	occ, err := s.Occurrences.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return occ
}

func testReminderVersioning(t *testing.T, s Stores) {
	ctx := context.Background()
	r := newReminder(t, s, "owner-1")

	got, err := s.Reminders.GetByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Message != r.Message || !got.StartAt.Equal(r.StartAt) || got.Recurrence.Kind != entities.RecurrenceDaily {
		t.Errorf("GetByID = %+v, want %+v", got, r)
	}

	got.Message = "Water the ferns"
	got.Version = 2
	if err := s.Reminders.Update(ctx, got, 1); err != nil {
		t.Fatalf("Update: %v", err)
	}

	stale := *got
	stale.Version = 3
	if err := s.Reminders.Update(ctx, &stale, 1); !errors.Is(err, entities.ErrVersionConflict) {
		t.Errorf("stale Update error = %v, want ErrVersionConflict", err)
	}

	through := base.Add(48 * time.Hour)
	if err := s.Reminders.SetWatermark(ctx, r.ID, 1, through); !errors.Is(err, entities.ErrVersionConflict) {
		t.Errorf("SetWatermark with old version error = %v, want ErrVersionConflict", err)
	}
	if err := s.Reminders.SetWatermark(ctx, r.ID, 2, through); err != nil {
		t.Fatalf("SetWatermark: %v", err)
	}
	// The watermark never moves backwards.
	if err := s.Reminders.SetWatermark(ctx, r.ID, 2, base); err != nil {
		t.Fatalf("SetWatermark backwards: %v", err)
	}

	got, err = s.Reminders.GetByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.MaterializedThrough == nil || !got.MaterializedThrough.Equal(through) {
		t.Errorf("MaterializedThrough = %v, want %v", got.MaterializedThrough, through)
	}

	if _, err := s.Reminders.GetByID(ctx, uuid.New()); !errors.Is(err, entities.ErrReminderNotFound) {
		t.Errorf("GetByID(unknown) error = %v, want ErrReminderNotFound", err)
	}
}

func testReminderList(t *testing.T, s Stores) {
	ctx := context.Background()
	active := newReminder(t, s, "owner-1")
	inactive := newReminder(t, s, "owner-1")
	other := newReminder(t, s, "owner-2")

	inactive.Active = false
	inactive.Version = 2
	if err := s.Reminders.Update(ctx, inactive, 1); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Reminders.SetWatermark(ctx, other.ID, 1, base.Add(30*24*time.Hour)); err != nil {
		t.Fatalf("SetWatermark: %v", err)
	}

	owner := "owner-1"
	mine, err := s.Reminders.List(ctx, ports.ReminderFilter{OwnerID: &owner})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("List(owner-1) returned %d reminders, want 2", len(mine))
	}

	before := base.Add(7 * 24 * time.Hour)
	behind, err := s.Reminders.List(ctx, ports.ReminderFilter{ActiveOnly: true, WatermarkBefore: &before})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(behind) != 1 || behind[0].ID != active.ID {
		t.Errorf("List(active, behind watermark) = %v, want only %s", ids(behind), active.ID)
	}
}

func testUpsertIdempotent(t *testing.T, s Stores) {
	ctx := context.Background()
	r := newReminder(t, s, "owner-1")

	times := []time.Time{base, base.Add(24 * time.Hour), base.Add(48 * time.Hour)}
	build := func() []*entities.Occurrence {
		var occs []*entities.Occurrence
		for _, ts := range times {
			occs = append(occs, r.NewOccurrence(ts, base))
		}
		return occs
	}

	n, err := s.Occurrences.Upsert(ctx, build())
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if n != 3 {
		t.Errorf("first Upsert inserted %d, want 3", n)
	}

	n, err = s.Occurrences.Upsert(ctx, build())
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if n != 0 {
		t.Errorf("second Upsert inserted %d, want 0", n)
	}

	listed, err := s.Occurrences.ListUpcoming(ctx, ports.OccurrenceFilter{
		OwnerID: "owner-1", From: base, To: base.Add(72 * time.Hour),
	})
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("ListUpcoming returned %d occurrences, want 3", len(listed))
	}
	for i, occ := range listed {
		if !occ.ScheduledAt.Equal(times[i]) {
			t.Errorf("occurrence[%d] at %v, want %v", i, occ.ScheduledAt, times[i])
		}
		if occ.DeliveryStatus != entities.DeliveryPending || occ.SyncStatus != entities.SyncUnsynced {
			t.Errorf("occurrence[%d] status = %s/%s", i, occ.DeliveryStatus, occ.SyncStatus)
		}
	}
}

func testConcurrentClaim(t *testing.T, s Stores) {
	ctx := context.Background()
	r := newReminder(t, s, "owner-1")
	occ := seed(t, s, r, base)[0]

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Occurrences.Claim(ctx, occ.ID, base)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, entities.ErrConcurrencyConflict):
				conflicts++
			default:
				t.Errorf("Claim: unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
	if conflicts != workers-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, workers-1)
	}

	got := mustGet(t, s, occ.ID)
	if got.DeliveryStatus != entities.DeliveryDelivering || got.Attempts != 1 {
		t.Errorf("after claim: status %s attempts %d", got.DeliveryStatus, got.Attempts)
	}
}

func testDeliveryTransitions(t *testing.T, s Stores) {
	ctx := context.Background()
	r := newReminder(t, s, "owner-1")
	occ := seed(t, s, r, base)[0]

	if err := s.Occurrences.MarkDelivered(ctx, occ.ID, base); !errors.Is(err, entities.ErrInvalidTransition) {
		t.Errorf("MarkDelivered without claim error = %v, want ErrInvalidTransition", err)
	}

	if _, err := s.Occurrences.Claim(ctx, occ.ID, base); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	retryAt := base.Add(time.Minute)
	if err := s.Occurrences.MarkFailed(ctx, occ.ID, "push rejected", &retryAt, base); err != nil {
		t.Fatalf("MarkFailed(retry): %v", err)
	}
	got := mustGet(t, s, occ.ID)
	if got.DeliveryStatus != entities.DeliveryPending || got.NextAttemptAt == nil || !got.NextAttemptAt.Equal(retryAt) {
		t.Errorf("after retryable failure: %s next %v", got.DeliveryStatus, got.NextAttemptAt)
	}
	if got.LastError == nil || *got.LastError != "push rejected" {
		t.Errorf("LastError = %v, want push rejected", got.LastError)
	}

	if _, err := s.Occurrences.Claim(ctx, occ.ID, retryAt); err != nil {
		t.Fatalf("second Claim: %v", err)
	}
	if err := s.Occurrences.MarkDelivered(ctx, occ.ID, retryAt); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	got = mustGet(t, s, occ.ID)
	if got.DeliveryStatus != entities.DeliveryDelivered || got.Attempts != 2 {
		t.Errorf("after delivery: %s attempts %d", got.DeliveryStatus, got.Attempts)
	}
	if got.ArchivedAt == nil || got.DeliveredAt == nil || got.ClaimedAt != nil {
		t.Errorf("delivered occurrence not archived: %+v", got)
	}

	if _, err := s.Occurrences.Claim(ctx, occ.ID, retryAt); !errors.Is(err, entities.ErrConcurrencyConflict) {
		t.Errorf("Claim of delivered occurrence error = %v, want ErrConcurrencyConflict", err)
	}

	terminal := seed(t, s, r, base.Add(time.Hour))[0]
	if _, err := s.Occurrences.Claim(ctx, terminal.ID, base); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := s.Occurrences.MarkFailed(ctx, terminal.ID, "gave up", nil, base); err != nil {
		t.Fatalf("MarkFailed(terminal): %v", err)
	}
	if got := mustGet(t, s, terminal.ID); got.DeliveryStatus != entities.DeliveryFailed {
		t.Errorf("terminal failure status = %s, want failed", got.DeliveryStatus)
	}

	if _, err := s.Occurrences.Claim(ctx, uuid.New(), base); !errors.Is(err, entities.ErrOccurrenceNotFound) {
		t.Errorf("Claim(unknown) error = %v, want ErrOccurrenceNotFound", err)
	}
}

func testCancelFuture(t *testing.T, s Stores) {
	ctx := context.Background()
	r := newReminder(t, s, "owner-1")
	cutoff := base.Add(48 * time.Hour)

	occs := seed(t, s, r,
		base,                      // delivered before the cutoff
		base.Add(24*time.Hour),    // pending before the cutoff
		cutoff,                    // pending at the cutoff
		base.Add(72*time.Hour),    // pending after the cutoff
		base.Add(96*time.Hour),    // delivering after the cutoff
	)
	if _, err := s.Occurrences.Claim(ctx, occs[0].ID, base); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := s.Occurrences.MarkDelivered(ctx, occs[0].ID, base); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if _, err := s.Occurrences.Claim(ctx, occs[4].ID, base); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	n, err := s.Occurrences.CancelFuture(ctx, r.ID, cutoff)
	if err != nil {
		t.Fatalf("CancelFuture: %v", err)
	}
	if n != 2 {
		t.Errorf("CancelFuture cancelled %d, want 2", n)
	}

	want := []entities.DeliveryStatus{
		entities.DeliveryDelivered,
		entities.DeliveryPending,
		entities.DeliveryCancelled,
		entities.DeliveryCancelled,
		entities.DeliveryDelivering,
	}
	for i, occ := range occs {
		if got := mustGet(t, s, occ.ID); got.DeliveryStatus != want[i] {
			t.Errorf("occurrence[%d] status = %s, want %s", i, got.DeliveryStatus, want[i])
		}
	}

	upcoming, err := s.Occurrences.ListUpcoming(ctx, ports.OccurrenceFilter{
		OwnerID: "owner-1", From: base, To: base.Add(100 * time.Hour),
	})
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if len(upcoming) != 3 {
		t.Errorf("ListUpcoming returned %d, want 3 non-cancelled", len(upcoming))
	}
}

func testCancelSuperseded(t *testing.T, s Stores) {
	ctx := context.Background()
	r := newReminder(t, s, "owner-1")
	old := seed(t, s, r, base.Add(24*time.Hour))[0]

	r.Version = 2
	current := seed(t, s, r, base.Add(24*time.Hour))[0]

	n, err := s.Occurrences.CancelSuperseded(ctx, r.ID, 2, base)
	if err != nil {
		t.Fatalf("CancelSuperseded: %v", err)
	}
	if n != 1 {
		t.Errorf("CancelSuperseded cancelled %d, want 1", n)
	}
	if got := mustGet(t, s, old.ID); got.DeliveryStatus != entities.DeliveryCancelled {
		t.Errorf("old version status = %s, want cancelled", got.DeliveryStatus)
	}
	if got := mustGet(t, s, current.ID); got.DeliveryStatus != entities.DeliveryPending {
		t.Errorf("current version status = %s, want pending", got.DeliveryStatus)
	}
}

func testDueAndExpire(t *testing.T, s Stores) {
	ctx := context.Background()
	r := newReminder(t, s, "owner-1")
	now := base.Add(time.Hour)
	grace := 10 * time.Minute

	occs := seed(t, s, r,
		now.Add(-20*time.Minute), // missed, outside grace
		now.Add(-5*time.Minute),  // due
		now,                      // due, boundary
		now.Add(5*time.Minute),   // future
	)

	due, err := s.Occurrences.Due(ctx, now, grace, 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if got := ids(due); len(got) != 2 || got[0] != occs[1].ID || got[1] != occs[2].ID {
		t.Errorf("Due = %v, want [%s %s]", got, occs[1].ID, occs[2].ID)
	}

	n, err := s.Occurrences.ExpireMissed(ctx, now.Add(-grace), "missed delivery window")
	if err != nil {
		t.Fatalf("ExpireMissed: %v", err)
	}
	if n != 1 {
		t.Errorf("ExpireMissed = %d, want 1", n)
	}
	missed := mustGet(t, s, occs[0].ID)
	if missed.DeliveryStatus != entities.DeliveryFailed || missed.LastError == nil {
		t.Errorf("missed occurrence = %s %v, want failed with reason", missed.DeliveryStatus, missed.LastError)
	}

	// A retry is due once its next attempt time arrives, wherever it is
	// relative to the grace window.
	if _, err := s.Occurrences.Claim(ctx, occs[1].ID, now); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	retryAt := now.Add(time.Hour)
	if err := s.Occurrences.MarkFailed(ctx, occs[1].ID, "timeout", &retryAt, now); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	later := retryAt.Add(time.Minute)
	due, err = s.Occurrences.Due(ctx, later, grace, 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if got := ids(due); len(got) != 1 || got[0] != occs[1].ID {
		t.Errorf("Due(later) = %v, want only the retry %s", got, occs[1].ID)
	}

	limited, err := s.Occurrences.Due(ctx, now, grace, 1)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Due with limit 1 returned %d", len(limited))
	}
}

func testReleaseStale(t *testing.T, s Stores) {
	ctx := context.Background()
	r := newReminder(t, s, "owner-1")
	occs := seed(t, s, r, base, base.Add(time.Minute))

	if _, err := s.Occurrences.Claim(ctx, occs[0].ID, base); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := s.Occurrences.Claim(ctx, occs[1].ID, base.Add(10*time.Minute)); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	n, err := s.Occurrences.ReleaseStale(ctx, base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("ReleaseStale: %v", err)
	}
	if n != 1 {
		t.Errorf("ReleaseStale = %d, want 1", n)
	}

	released := mustGet(t, s, occs[0].ID)
	if released.DeliveryStatus != entities.DeliveryPending || released.ClaimedAt != nil {
		t.Errorf("released occurrence = %s claimed %v", released.DeliveryStatus, released.ClaimedAt)
	}
	if released.NextAttemptAt == nil || !released.NextAttemptAt.Equal(base) {
		t.Errorf("released NextAttemptAt = %v, want %v", released.NextAttemptAt, base)
	}

	due, err := s.Occurrences.Due(ctx, base.Add(6*time.Minute), time.Minute, 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if got := ids(due); len(got) != 1 || got[0] != occs[0].ID {
		t.Errorf("Due = %v, want the released occurrence", got)
	}
}

func testAcknowledge(t *testing.T, s Stores) {
	ctx := context.Background()
	r := newReminder(t, s, "owner-1")
	occ := seed(t, s, r, base)[0]

	if err := s.Occurrences.Acknowledge(ctx, occ.ID, base); !errors.Is(err, entities.ErrInvalidTransition) {
		t.Errorf("Acknowledge(pending) error = %v, want ErrInvalidTransition", err)
	}

	if _, err := s.Occurrences.Claim(ctx, occ.ID, base); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := s.Occurrences.MarkDelivered(ctx, occ.ID, base); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	ackAt := base.Add(time.Minute)
	if err := s.Occurrences.Acknowledge(ctx, occ.ID, ackAt); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if got := mustGet(t, s, occ.ID); got.AcknowledgedAt == nil || !got.AcknowledgedAt.Equal(ackAt) {
		t.Errorf("AcknowledgedAt = %v, want %v", got.AcknowledgedAt, ackAt)
	}
	if err := s.Occurrences.Acknowledge(ctx, occ.ID, ackAt); !errors.Is(err, entities.ErrInvalidTransition) {
		t.Errorf("second Acknowledge error = %v, want ErrInvalidTransition", err)
	}
}

func testSyncLinks(t *testing.T, s Stores) {
	ctx := context.Background()
	r := newReminder(t, s, "owner-1")
	occ := seed(t, s, r, base.Add(time.Hour))[0]

	if _, err := s.SyncLinks.GetLink(ctx, occ.ID); !errors.Is(err, entities.ErrSyncLinkNotFound) {
		t.Errorf("GetLink before save error = %v, want ErrSyncLinkNotFound", err)
	}

	link := &entities.SyncLink{
		OccurrenceID:  occ.ID,
		RemoteEventID: "evt-1",
		PushedTitle:   occ.Title,
		PushedTime:    occ.ScheduledAt,
		LinkedAt:      base,
	}
	if err := s.SyncLinks.SaveLink(ctx, link, ports.SyncState{Status: entities.SyncSynced, CheckedAt: base}); err != nil {
		t.Fatalf("SaveLink: %v", err)
	}

	got, err := s.SyncLinks.GetLink(ctx, occ.ID)
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if got.RemoteEventID != "evt-1" || got.PushedTitle != occ.Title || !got.PushedTime.Equal(occ.ScheduledAt) {
		t.Errorf("GetLink = %+v", got)
	}
	synced := mustGet(t, s, occ.ID)
	if synced.SyncStatus != entities.SyncSynced || synced.RemoteEventID == nil || *synced.RemoteEventID != "evt-1" {
		t.Errorf("occurrence after SaveLink = %s %v", synced.SyncStatus, synced.RemoteEventID)
	}

	shadowTitle := "Water the garden"
	if err := s.Occurrences.UpdateSyncState(ctx, occ.ID, ports.SyncState{
		Status: entities.SyncConflict, ShadowTitle: &shadowTitle, CheckedAt: base,
	}); err != nil {
		t.Fatalf("UpdateSyncState: %v", err)
	}
	conflict := mustGet(t, s, occ.ID)
	if conflict.SyncStatus != entities.SyncConflict || conflict.ShadowTitle == nil || *conflict.ShadowTitle != shadowTitle {
		t.Errorf("occurrence after conflict = %s %v", conflict.SyncStatus, conflict.ShadowTitle)
	}

	if err := s.SyncLinks.RemoveLink(ctx, occ.ID, ports.SyncState{Status: entities.SyncRemoteDeleted, CheckedAt: base}); err != nil {
		t.Fatalf("RemoveLink: %v", err)
	}
	if _, err := s.SyncLinks.GetLink(ctx, occ.ID); !errors.Is(err, entities.ErrSyncLinkNotFound) {
		t.Errorf("GetLink after remove error = %v, want ErrSyncLinkNotFound", err)
	}
	removed := mustGet(t, s, occ.ID)
	if removed.SyncStatus != entities.SyncRemoteDeleted || removed.RemoteEventID != nil || removed.ShadowTitle != nil {
		t.Errorf("occurrence after RemoveLink = %+v", removed)
	}
}

func testImported(t *testing.T, s Stores) {
	ctx := context.Background()

	source := "evt-imported"
	r := &entities.Reminder{
		ID:            uuid.New(),
		OwnerID:       "owner-1",
		Message:       "Dentist",
		StartAt:       base.Add(time.Hour),
		Timezone:      "UTC",
		Recurrence:    entities.Recurrence{Kind: entities.RecurrenceNone},
		Active:        true,
		Version:       1,
		SourceEventID: &source,
		CreatedAt:     base,
		UpdatedAt:     base,
	}
	if err := s.Reminders.Create(ctx, r); err != nil {
		t.Fatalf("Create reminder: %v", err)
	}
	got, err := s.Reminders.GetByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.IsImported() || *got.SourceEventID != source {
		t.Errorf("source event = %v, want %q", got.SourceEventID, source)
	}

	occ := seed(t, s, r, r.StartAt)[0]
	link := &entities.SyncLink{
		OccurrenceID:  occ.ID,
		RemoteEventID: source,
		PushedTitle:   occ.Title,
		PushedTime:    occ.ScheduledAt,
		LinkedAt:      base,
		Imported:      true,
	}
	if err := s.SyncLinks.SaveLink(ctx, link, ports.SyncState{Status: entities.SyncSynced, CheckedAt: base}); err != nil {
		t.Fatalf("SaveLink: %v", err)
	}
	stored, err := s.SyncLinks.GetLink(ctx, occ.ID)
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if !stored.Imported || stored.RemoteEventID != source {
		t.Errorf("GetLink = %+v", stored)
	}

	plain := newReminder(t, s, "owner-1")
	if plain.IsImported() {
		t.Errorf("reminder %s reports an import source", plain.ID)
	}
}

func testListForSync(t *testing.T, s Stores) {
	ctx := context.Background()
	r := newReminder(t, s, "owner-1")
	now := base
	recheckBefore := now.Add(-15 * time.Minute)

	occs := seed(t, s, r,
		now.Add(time.Hour),       // 0 unsynced future: candidate
		now.Add(-time.Hour),      // 1 unsynced past: skipped
		now.Add(2*time.Hour),     // 2 synced, checked recently: skipped
		now.Add(3*time.Hour),     // 3 synced, checked long ago: candidate
		now.Add(4*time.Hour),     // 4 cancelled with link: candidate
		now.Add(5*time.Hour),     // 5 remote-deleted: skipped
		now.Add(6*time.Hour),     // 6 cancelled without link: skipped
		now.Add(150*time.Minute), // 7 sync error, checked long ago: skipped
		now.Add(7*time.Hour),     // 8 cancelled with link and sync error: skipped
	)

	link := func(i int, checked time.Time) {
		t.Helper()
		err := s.SyncLinks.SaveLink(ctx, &entities.SyncLink{
			OccurrenceID:  occs[i].ID,
			RemoteEventID: "evt-" + occs[i].ID.String(),
			PushedTitle:   occs[i].Title,
			PushedTime:    occs[i].ScheduledAt,
			LinkedAt:      checked,
		}, ports.SyncState{Status: entities.SyncSynced, CheckedAt: checked})
		if err != nil {
			t.Fatalf("SaveLink: %v", err)
		}
	}
	link(2, now.Add(-time.Minute))
	link(3, now.Add(-time.Hour))
	link(4, now.Add(-time.Minute))
	link(7, now.Add(-time.Hour))
	link(8, now.Add(-time.Minute))
	syncErr := "permission denied"
	for _, i := range []int{7, 8} {
		err := s.Occurrences.UpdateSyncState(ctx, occs[i].ID, ports.SyncState{
			Status:    entities.SyncConflict,
			SyncError: &syncErr,
			CheckedAt: now.Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("UpdateSyncState: %v", err)
		}
	}
	if err := s.Occurrences.UpdateSyncState(ctx, occs[5].ID, ports.SyncState{Status: entities.SyncRemoteDeleted, CheckedAt: now}); err != nil {
		t.Fatalf("UpdateSyncState: %v", err)
	}
	if _, err := s.Occurrences.CancelFuture(ctx, r.ID, now.Add(4*time.Hour)); err != nil {
		t.Fatalf("CancelFuture: %v", err)
	}

	got, err := s.Occurrences.ListForSync(ctx, ports.SyncFilter{Now: now, RecheckBefore: recheckBefore, Limit: 50})
	if err != nil {
		t.Fatalf("ListForSync: %v", err)
	}

	want := []uuid.UUID{occs[0].ID, occs[3].ID, occs[4].ID}
	if gotIDs := ids(got); len(gotIDs) != len(want) {
		t.Fatalf("ListForSync = %v, want %v", gotIDs, want)
	} else {
		for i := range want {
			if gotIDs[i] != want[i] {
				t.Errorf("ListForSync[%d] = %s, want %s", i, gotIDs[i], want[i])
			}
		}
	}
}

func testRecords(t *testing.T, s Stores) {
	ctx := context.Background()
	r := newReminder(t, s, "owner-1")

	for i, action := range []entities.RecordAction{entities.RecordActionCreate, entities.RecordActionUpdate} {
		rec := &entities.ReminderRecord{
			ReminderID: r.ID,
			OwnerID:    r.OwnerID,
			Action:     action,
			Version:    i + 1,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Records.Create(ctx, rec); err != nil {
			t.Fatalf("Create record: %v", err)
		}
	}

	records, err := s.Records.ListByReminder(ctx, r.ID)
	if err != nil {
		t.Fatalf("ListByReminder: %v", err)
	}
	if len(records) != 2 || records[0].Action != entities.RecordActionCreate || records[1].Version != 2 {
		t.Errorf("ListByReminder = %+v", records)
	}
}

func ids(items interface{}) []uuid.UUID {
	var out []uuid.UUID
	switch v := items.(type) {
	case []*entities.Occurrence:
		for _, o := range v {
			out = append(out, o.ID)
		}
	case []*entities.Reminder:
		for _, r := range v {
			out = append(out, r.ID)
		}
	}
	return out
}
