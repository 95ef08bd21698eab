package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/ports"
)

func newStoredDaily(t *testing.T, env *testEnv, start time.Time) *entities.Reminder {
	t.Helper()
	r := &entities.Reminder{
		ID:         uuid.New(),
		OwnerID:    "alice",
		Message:    "Stretch",
		StartAt:    start,
		Timezone:   "UTC",
		Recurrence: entities.Recurrence{Kind: entities.RecurrenceDaily},
		Active:     true,
		Version:    1,
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}
	if err := env.store.Reminders().Create(context.Background(), r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return r
}

func TestMaterializeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := newStoredDaily(t, env, t0)
	end := t0.Add(7 * 24 * time.Hour)

	n, err := env.materializer.Materialize(ctx, r, end)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if n != 8 {
		t.Fatalf("inserted %d, want 8", n)
	}

	// The same definition over the same and overlapping windows adds nothing.
	n, err = env.materializer.Materialize(ctx, r, end)
	if err != nil {
		t.Fatalf("second Materialize: %v", err)
	}
	if n != 0 {
		t.Errorf("second pass inserted %d, want 0", n)
	}

	stored, err := env.store.Reminders().GetByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.MaterializedThrough == nil || !stored.MaterializedThrough.Equal(end) {
		t.Errorf("watermark = %v, want %s", stored.MaterializedThrough, end)
	}

	n, err = env.materializer.Materialize(ctx, stored, end.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("extended Materialize: %v", err)
	}
	if n != 2 {
		t.Errorf("extended pass inserted %d, want 2", n)
	}

	occs := env.occurrencesOf(t, "alice", r.ID)
	if len(occs) != 10 {
		t.Fatalf("stored %d occurrences, want 10", len(occs))
	}
	for i := 1; i < len(occs); i++ {
		if !occs[i].ScheduledAt.After(occs[i-1].ScheduledAt) {
			t.Errorf("occurrences not strictly ascending at %d", i)
		}
	}

	if got := promtest.ToFloat64(env.metrics.Materialized); got != 10 {
		t.Errorf("materialized metric = %v, want 10", got)
	}
}

func TestMaterializeInactive(t *testing.T) {
	env := newTestEnv(t)
	r := newStoredDaily(t, env, t0)
	r.Active = false

	_, err := env.materializer.Materialize(context.Background(), r, t0.Add(24*time.Hour))
	if !errors.Is(err, entities.ErrReminderInactive) {
		t.Errorf("err = %v, want ErrReminderInactive", err)
	}
}

func TestMaterializeLosingEditRace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stale := newStoredDaily(t, env, t0)

	// An edit lands before the stale expansion finishes.
	edited := *stale
	edited.Message = "Stretch more"
	edited.Version = 2
	edited.MaterializedThrough = &t0
	if err := env.store.Reminders().Update(ctx, &edited, 1); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, err := env.materializer.Materialize(ctx, stale, t0.Add(72*time.Hour)); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	for _, occ := range env.occurrencesOf(t, "alice", stale.ID) {
		if occ.DefinitionVersion == 1 && occ.DeliveryStatus != entities.DeliveryCancelled {
			t.Errorf("stale occurrence at %s left %s", occ.ScheduledAt, occ.DeliveryStatus)
		}
	}

	stored, err := env.store.Reminders().GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !stored.MaterializedThrough.Equal(t0) {
		t.Errorf("stale pass moved the watermark to %s", stored.MaterializedThrough)
	}
}

func TestSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	active := newStoredDaily(t, env, t0)
	inactive := newStoredDaily(t, env, t0)
	inactive.Active = false
	if err := env.store.Reminders().Update(ctx, inactive, 1); err != nil {
		t.Fatalf("Update: %v", err)
	}
	// More reminders than one page.
	for i := 0; i < 3; i++ {
		newStoredDaily(t, env, t0.Add(time.Duration(i+1)*time.Minute))
	}

	n, err := env.materializer.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	// Horizon is 72h: four occurrences for the reminder starting at t0,
	// three for each starting a few minutes later.
	if n != 4+3*3 {
		t.Errorf("first sweep inserted %d, want 13", n)
	}
	if got := len(env.occurrencesOf(t, "alice", inactive.ID)); got != 0 {
		t.Errorf("inactive reminder has %d occurrences", got)
	}

	n, err = env.materializer.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep inserted %d, want 0", n)
	}

	env.clock.Advance(24 * time.Hour)
	n, err = env.materializer.Sweep(ctx)
	if err != nil {
		t.Fatalf("third Sweep: %v", err)
	}
	if n != 4 {
		t.Errorf("sweep after a day inserted %d, want 4", n)
	}
	if got := len(env.occurrencesOf(t, "alice", active.ID)); got != 5 {
		t.Errorf("active reminder has %d occurrences, want 5", got)
	}
}

func TestSweepSkipsUpToDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	r := newStoredDaily(t, env, t0)

	through := t0.Add(100 * time.Hour)
	if err := env.store.Reminders().SetWatermark(ctx, r.ID, 1, through); err != nil {
		t.Fatalf("SetWatermark: %v", err)
	}

	n, err := env.materializer.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("inserted %d for a reminder already past the horizon", n)
	}

	list, err := env.store.Reminders().List(ctx, ports.ReminderFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || !list[0].MaterializedThrough.Equal(through) {
		t.Errorf("watermark moved backwards: %+v", list)
	}
}
