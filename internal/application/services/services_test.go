package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/remindly/core/internal/adapters/calendar"
	"github.com/remindly/core/internal/adapters/ical"
	"github.com/remindly/core/internal/adapters/repository/memory"
	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/infrastructure/config"
	"github.com/remindly/core/internal/infrastructure/logger"
	"github.com/remindly/core/internal/infrastructure/metrics"
	"github.com/remindly/core/internal/ports"
	"github.com/remindly/core/internal/testutil"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// recordingNotifier counts deliveries per occurrence and fails on demand
type recordingNotifier struct {
	mu        sync.Mutex
	delivered map[uuid.UUID]int
	fail      func(*entities.Occurrence) error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{delivered: make(map[uuid.UUID]int)}
}

func (n *recordingNotifier) Deliver(ctx context.Context, occ *entities.Occurrence) error {
	n.mu.Lock()
	fail := n.fail
	n.mu.Unlock()

	if fail != nil {
		if err := fail(occ); err != nil {
			return err
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered[occ.ID]++
	return nil
}

func (n *recordingNotifier) setFail(fn func(*entities.Occurrence) error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = fn
}

func (n *recordingNotifier) count(id uuid.UUID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.delivered[id]
}

func (n *recordingNotifier) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	sum := 0
	for _, c := range n.delivered {
		sum += c
	}
	return sum
}

type testEnv struct {
	store        *memory.Store
	clock        *testutil.StubClock
	metrics      *metrics.Metrics
	calendar     *calendar.Memory
	notifier     *recordingNotifier
	materializer *Materializer
	service      *ReminderService
	scheduler    *Scheduler
	reconciler   *Reconciler
}

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled:         true,
		ScanInterval:    time.Second,
		GracePeriod:     10 * time.Minute,
		MaxAttempts:     3,
		RetryBackoff:    time.Minute,
		BatchSize:       100,
		Workers:         4,
		DeliveryTimeout: time.Second,
		ClaimTimeout:    5 * time.Minute,
	}
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		Enabled:         true,
		Provider:        config.ProviderMemory,
		Interval:        time.Second,
		BatchSize:       100,
		CallTimeout:     time.Second,
		MaxCallAttempts: 3,
		RecheckInterval: 15 * time.Minute,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := logger.NewNop()
	store := memory.NewStore()
	clock := testutil.NewStubClock(t0)
	m := metrics.New()
	cal := calendar.NewMemory()
	notifier := newRecordingNotifier()

	materializer := NewMaterializer(store.Reminders(), store.Occurrences(), clock, m, log,
		config.MaterializerConfig{Horizon: 72 * time.Hour, BatchSize: 2})
	service := NewReminderService(store.Reminders(), store.Occurrences(), store.Records(),
		materializer, ical.NewEncoder("remindly-test", 0), clock, log)
	scheduler := NewScheduler(store.Occurrences(), notifier, clock, m, log, testSchedulerConfig())
	reconciler := NewReconciler(store.Occurrences(), store.SyncLinks(), cal, clock, m, log, testSyncConfig())
	reconciler.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	service.EnableCalendarImport(cal, store.SyncLinks())

	return &testEnv{
		store:        store,
		clock:        clock,
		metrics:      m,
		calendar:     cal,
		notifier:     notifier,
		materializer: materializer,
		service:      service,
		scheduler:    scheduler,
		reconciler:   reconciler,
	}
}

func (e *testEnv) createDaily(t *testing.T, start time.Time) *entities.Reminder {
	t.Helper()
	r, err := e.service.CreateReminder(context.Background(), ports.CreateReminderRequest{
		OwnerID:    "alice",
		Message:    "Stretch",
		StartAt:    start,
		Recurrence: ports.RecurrenceInput{Kind: entities.RecurrenceDaily},
	})
	if err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	return r
}

func (e *testEnv) createOnce(t *testing.T, owner string, at time.Time) *entities.Reminder {
	t.Helper()
	r, err := e.service.CreateReminder(context.Background(), ports.CreateReminderRequest{
		OwnerID: owner,
		Message: "Call back",
		StartAt: at,
	})
	if err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	return r
}

// occurrencesOf lists every stored occurrence of a reminder, cancelled ones included
func (e *testEnv) occurrencesOf(t *testing.T, owner string, reminderID uuid.UUID) []*entities.Occurrence {
	t.Helper()
	all, err := e.store.Occurrences().ListUpcoming(context.Background(), ports.OccurrenceFilter{
		OwnerID:          owner,
		From:             t0.Add(-365 * 24 * time.Hour),
		To:               t0.Add(365 * 24 * time.Hour),
		IncludeCancelled: true,
	})
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	var out []*entities.Occurrence
	for _, occ := range all {
		if occ.ReminderID == reminderID {
			out = append(out, occ)
		}
	}
	return out
}

func (e *testEnv) occurrence(t *testing.T, id uuid.UUID) *entities.Occurrence {
	t.Helper()
	occ, err := e.store.Occurrences().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get occurrence: %v", err)
	}
	return occ
}
