package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/infrastructure/logger"
	"github.com/remindly/core/internal/infrastructure/metrics"
	"github.com/remindly/core/internal/ports"
)

func TestScanDelivers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r := env.createOnce(t, "alice", t0.Add(time.Minute))
	occ := env.occurrencesOf(t, "alice", r.ID)[0]

	report, err := env.scheduler.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Due != 0 {
		t.Errorf("delivered %d before due time", report.Due)
	}

	env.clock.Advance(2 * time.Minute)
	report, err = env.scheduler.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Delivered != 1 {
		t.Fatalf("report = %+v, want one delivery", report)
	}

	got := env.occurrence(t, occ.ID)
	if got.DeliveryStatus != entities.DeliveryDelivered || got.DeliveredAt == nil || got.Attempts != 1 {
		t.Errorf("occurrence = %+v", got)
	}
	if env.notifier.count(occ.ID) != 1 {
		t.Errorf("notifier called %d times", env.notifier.count(occ.ID))
	}
	if v := promtest.ToFloat64(env.metrics.Deliveries.WithLabelValues(metrics.ResultDelivered)); v != 1 {
		t.Errorf("delivered metric = %v", v)
	}

	// Delivered occurrences are never picked up again.
	report, err = env.scheduler.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Due != 0 {
		t.Errorf("second scan found %d due", report.Due)
	}
}

func TestScanRetriesThenFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r := env.createOnce(t, "alice", t0.Add(time.Minute))
	occ := env.occurrencesOf(t, "alice", r.ID)[0]
	env.notifier.setFail(func(*entities.Occurrence) error {
		return entities.Transient("deliver", errors.New("push service unavailable"))
	})

	env.clock.Advance(2 * time.Minute)
	steps := []struct {
		advance time.Duration
		want    entities.DeliveryStatus
		retry   bool
	}{
		{0, entities.DeliveryPending, true},
		{time.Minute, entities.DeliveryPending, true},
		{2 * time.Minute, entities.DeliveryFailed, false},
	}

	for i, step := range steps {
		env.clock.Advance(step.advance)
		report, err := env.scheduler.Scan(ctx)
		if err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
		if report.Due != 1 {
			t.Fatalf("scan %d: due = %d, want 1", i, report.Due)
		}

		got := env.occurrence(t, occ.ID)
		if got.DeliveryStatus != step.want {
			t.Errorf("scan %d: status = %s, want %s", i, got.DeliveryStatus, step.want)
		}
		if got.Attempts != i+1 {
			t.Errorf("scan %d: attempts = %d", i, got.Attempts)
		}
		if step.retry && got.NextAttemptAt == nil {
			t.Errorf("scan %d: no retry scheduled", i)
		}
		if got.LastError == nil {
			t.Errorf("scan %d: failure reason not recorded", i)
		}

		// Nothing is due again before the backoff elapses.
		report, err = env.scheduler.Scan(ctx)
		if err != nil {
			t.Fatalf("rescan %d: %v", i, err)
		}
		if report.Due != 0 {
			t.Errorf("rescan %d: due = %d, want 0", i, report.Due)
		}
	}

	if v := promtest.ToFloat64(env.metrics.Deliveries.WithLabelValues(metrics.ResultRetry)); v != 2 {
		t.Errorf("retry metric = %v, want 2", v)
	}
	if v := promtest.ToFloat64(env.metrics.Deliveries.WithLabelValues(metrics.ResultFailed)); v != 1 {
		t.Errorf("failed metric = %v, want 1", v)
	}
}

func TestScanPermanentFailureIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r := env.createOnce(t, "alice", t0.Add(time.Minute))
	occ := env.occurrencesOf(t, "alice", r.ID)[0]
	env.notifier.setFail(func(*entities.Occurrence) error {
		return entities.Permanent("deliver", errors.New("device unregistered"))
	})

	env.clock.Advance(2 * time.Minute)
	report, err := env.scheduler.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	if got := env.occurrence(t, occ.ID); got.DeliveryStatus != entities.DeliveryFailed || got.Attempts != 1 {
		t.Errorf("occurrence = %+v", got)
	}
}

func TestScanDeliveryTimeoutIsRetried(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cfg := testSchedulerConfig()
	cfg.DeliveryTimeout = 20 * time.Millisecond
	scheduler := NewScheduler(env.store.Occurrences(), blockingNotifier{}, env.clock, env.metrics, logger.NewNop(), cfg)

	r := env.createOnce(t, "alice", t0.Add(time.Minute))
	occ := env.occurrencesOf(t, "alice", r.ID)[0]
	env.clock.Advance(2 * time.Minute)

	report, err := scheduler.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Retrying != 1 {
		t.Errorf("report = %+v, want a retry", report)
	}
	if got := env.occurrence(t, occ.ID); got.DeliveryStatus != entities.DeliveryPending || got.NextAttemptAt == nil {
		t.Errorf("occurrence = %+v", got)
	}
}

type blockingNotifier struct{}

func (blockingNotifier) Deliver(ctx context.Context, occ *entities.Occurrence) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestScanExpiresMissed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r := env.createOnce(t, "alice", t0.Add(time.Minute))
	occ := env.occurrencesOf(t, "alice", r.ID)[0]

	// Down for an hour; the grace window is ten minutes.
	env.clock.Advance(time.Hour)
	report, err := env.scheduler.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Expired != 1 || report.Due != 0 {
		t.Errorf("report = %+v", report)
	}

	got := env.occurrence(t, occ.ID)
	if got.DeliveryStatus != entities.DeliveryFailed || got.LastError == nil || *got.LastError != missedReason {
		t.Errorf("occurrence = %+v", got)
	}
	if env.notifier.total() != 0 {
		t.Error("missed occurrence was delivered")
	}
}

func TestScanWithinGraceStillFires(t *testing.T) {
	env := newTestEnv(t)

	r := env.createOnce(t, "alice", t0.Add(time.Minute))
	occ := env.occurrencesOf(t, "alice", r.ID)[0]

	env.clock.Advance(9 * time.Minute)
	if _, err := env.scheduler.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if env.notifier.count(occ.ID) != 1 {
		t.Error("late occurrence inside the grace window was not delivered")
	}
}

func TestScanReleasesStaleClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r := env.createOnce(t, "alice", t0.Add(time.Minute))
	occ := env.occurrencesOf(t, "alice", r.ID)[0]

	// A worker claimed it and died.
	env.clock.Advance(2 * time.Minute)
	if _, err := env.store.Occurrences().Claim(ctx, occ.ID, env.clock.Now()); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	report, err := env.scheduler.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Released != 0 || report.Due != 0 {
		t.Errorf("fresh claim disturbed: %+v", report)
	}

	env.clock.Advance(6 * time.Minute)
	report, err = env.scheduler.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Released != 1 || report.Delivered != 1 {
		t.Errorf("report = %+v", report)
	}
	if got := env.occurrence(t, occ.ID); got.DeliveryStatus != entities.DeliveryDelivered || got.Attempts != 2 {
		t.Errorf("occurrence = %+v", got)
	}
}

func TestConcurrentScansDeliverOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const reminders = 25
	for i := 0; i < reminders; i++ {
		env.createOnce(t, fmt.Sprintf("owner-%d", i), t0.Add(time.Minute))
	}
	env.clock.Advance(2 * time.Minute)

	schedulers := make([]*Scheduler, 4)
	for i := range schedulers {
		schedulers[i] = NewScheduler(env.store.Occurrences(), env.notifier, env.clock, nil, logger.NewNop(), testSchedulerConfig())
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		skipped   int
	)
	for _, s := range schedulers {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			report, err := s.Scan(ctx)
			if err != nil {
				t.Errorf("Scan: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			delivered += report.Delivered
			skipped += report.Skipped
		}(s)
	}
	wg.Wait()

	if delivered != reminders {
		t.Errorf("delivered %d across scanners, want %d", delivered, reminders)
	}
	if env.notifier.total() != reminders {
		t.Errorf("notifier saw %d deliveries, want %d", env.notifier.total(), reminders)
	}
	for id, n := range env.notifier.delivered {
		if n != 1 {
			t.Errorf("occurrence %s delivered %d times", id, n)
		}
	}
}

// brokenClaims fails every claim the way a lost database connection would
type brokenClaims struct {
	ports.OccurrenceRepository
}

func (brokenClaims) Claim(ctx context.Context, id uuid.UUID, now time.Time) (*entities.Occurrence, error) {
	return nil, errors.New("connection reset by peer")
}

func TestScanClaimErrorIsNotAConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r := env.createOnce(t, "alice", t0.Add(time.Minute))
	occ := env.occurrencesOf(t, "alice", r.ID)[0]
	env.clock.Advance(2 * time.Minute)

	store := env.scheduler.occurrences
	env.scheduler.occurrences = brokenClaims{store}
	report, err := env.scheduler.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Errors != 1 || report.Skipped != 0 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
	if v := promtest.ToFloat64(env.metrics.Deliveries.WithLabelValues(metrics.ResultError)); v != 1 {
		t.Errorf("error metric = %v", v)
	}
	if v := promtest.ToFloat64(env.metrics.Deliveries.WithLabelValues(metrics.ResultConflict)); v != 0 {
		t.Errorf("conflict metric = %v", v)
	}
	if got := env.occurrence(t, occ.ID); got.DeliveryStatus != entities.DeliveryPending {
		t.Errorf("occurrence = %+v", got)
	}

	env.scheduler.occurrences = store
	if report, err := env.scheduler.Scan(ctx); err != nil || report.Delivered != 1 {
		t.Errorf("scan after recovery = %+v, %v", report, err)
	}
}
