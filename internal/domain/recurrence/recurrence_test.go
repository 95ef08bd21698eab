package recurrence

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/remindly/core/internal/domain/entities"
)

func newReminder(start time.Time, rec entities.Recurrence) *entities.Reminder {
	return &entities.Reminder{
		ID:         uuid.New(),
		OwnerID:    "owner-1",
		Message:    "Pay rent",
		StartAt:    start,
		Timezone:   "UTC",
		Recurrence: rec,
		Active:     true,
		Version:    1,
	}
}

// collect expands r into a slice
func collect(r *entities.Reminder, windowStart, windowEnd time.Time) ([]time.Time, error) {
	seq, err := Occurrences(r, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	var out []time.Time
	for t := range seq {
		out = append(out, t)
	}
	return out, nil
}

func date(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestOccurrences_MonthlyClampsToLastDay(t *testing.T) {
	t.Parallel()

	r := newReminder(date(2024, 1, 31, 0, 0), entities.Recurrence{Kind: entities.RecurrenceMonthly})

	got, err := collect(r, date(2024, 1, 1, 0, 0), date(2024, 4, 1, 0, 0))
	if err != nil {
		t.Fatalf("collect() error = %v", err)
	}

	want := []time.Time{
		date(2024, 1, 31, 0, 0),
		date(2024, 2, 29, 0, 0),
		date(2024, 3, 31, 0, 0),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d occurrences (%v), want %d", len(got), got, len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOccurrences_MonthlyClampInCommonYearAndShortMonths(t *testing.T) {
	t.Parallel()

	r := newReminder(date(2023, 1, 31, 9, 0), entities.Recurrence{Kind: entities.RecurrenceMonthly})

	got, err := collect(r, date(2023, 2, 1, 0, 0), date(2023, 5, 1, 0, 0))
	if err != nil {
		t.Fatalf("collect() error = %v", err)
	}

	want := []time.Time{
		date(2023, 2, 28, 9, 0),
		date(2023, 3, 31, 9, 0),
		date(2023, 4, 30, 9, 0),
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOccurrences_AscendingAndInsideWindow(t *testing.T) {
	t.Parallel()

	start := date(2024, 1, 3, 7, 30)
	rules := map[string]entities.Recurrence{
		"daily":   {Kind: entities.RecurrenceDaily},
		"weekly":  {Kind: entities.RecurrenceWeekly, Weekdays: []time.Weekday{time.Monday, time.Friday}},
		"monthly": {Kind: entities.RecurrenceMonthly, DayOfMonth: 30},
	}

	windowStart := date(2024, 2, 10, 0, 0)
	windowEnd := date(2024, 8, 10, 0, 0)

	for name, rec := range rules {
		rec := rec
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := collect(newReminder(start, rec), windowStart, windowEnd)
			if err != nil {
				t.Fatalf("collect() error = %v", err)
			}
			if len(got) == 0 {
				t.Fatal("expected occurrences in window")
			}
			for i, ts := range got {
				if ts.Before(windowStart) || ts.After(windowEnd) {
					t.Errorf("occurrence %v outside window", ts)
				}
				if i > 0 && !ts.After(got[i-1]) {
					t.Errorf("occurrence %v not after %v", ts, got[i-1])
				}
			}
		})
	}
}

func TestOccurrences_WeeklyUsesDesignatedDays(t *testing.T) {
	t.Parallel()

	// 2024-01-01 is a Monday.
	r := newReminder(date(2024, 1, 1, 18, 0), entities.Recurrence{
		Kind:     entities.RecurrenceWeekly,
		Weekdays: []time.Weekday{time.Monday, time.Wednesday},
	})

	got, err := collect(r, date(2024, 1, 1, 0, 0), date(2024, 1, 14, 23, 59))
	if err != nil {
		t.Fatalf("collect() error = %v", err)
	}

	want := []time.Time{
		date(2024, 1, 1, 18, 0),
		date(2024, 1, 3, 18, 0),
		date(2024, 1, 8, 18, 0),
		date(2024, 1, 10, 18, 0),
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOccurrences_WeeklyDefaultsToStartWeekday(t *testing.T) {
	t.Parallel()

	r := newReminder(date(2024, 1, 4, 8, 0), entities.Recurrence{Kind: entities.RecurrenceWeekly})

	got, err := collect(r, date(2024, 1, 1, 0, 0), date(2024, 1, 31, 0, 0))
	if err != nil {
		t.Fatalf("collect() error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 Thursdays, got %v", got)
	}
	for _, ts := range got {
		if ts.Weekday() != time.Thursday {
			t.Errorf("occurrence %v is not a Thursday", ts)
		}
	}
}

func TestOccurrences_DailyKeepsLocalTimeAcrossDST(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	r := newReminder(time.Date(2024, 3, 9, 9, 0, 0, 0, loc), entities.Recurrence{Kind: entities.RecurrenceDaily})
	r.Timezone = "America/New_York"

	got, err := collect(r, date(2024, 3, 9, 0, 0), date(2024, 3, 12, 0, 0))
	if err != nil {
		t.Fatalf("collect() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 occurrences, got %v", got)
	}
	for _, ts := range got {
		local := ts.In(loc)
		if local.Hour() != 9 || local.Minute() != 0 {
			t.Errorf("occurrence %v is %v local, want 09:00", ts, local)
		}
	}
	// 09:00 EST is 14:00 UTC, 09:00 EDT is 13:00 UTC.
	if got[0].Hour() != 14 || got[2].Hour() != 13 {
		t.Errorf("unexpected UTC hours: %v", got)
	}
}

func TestOccurrences_EndConditions(t *testing.T) {
	t.Parallel()

	t.Run("count is counted from start", func(t *testing.T) {
		count := 5
		r := newReminder(date(2024, 1, 1, 9, 0), entities.Recurrence{Kind: entities.RecurrenceDaily})
		r.End = entities.EndCondition{Count: &count}

		got, err := collect(r, date(2024, 1, 3, 0, 0), date(2024, 12, 31, 0, 0))
		if err != nil {
			t.Fatalf("collect() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 remaining occurrences, got %v", got)
		}
		if !got[2].Equal(date(2024, 1, 5, 9, 0)) {
			t.Errorf("last occurrence = %v, want 2024-01-05 09:00", got[2])
		}
	})

	t.Run("until is inclusive", func(t *testing.T) {
		until := date(2024, 1, 10, 9, 0)
		r := newReminder(date(2024, 1, 1, 9, 0), entities.Recurrence{Kind: entities.RecurrenceDaily})
		r.End = entities.EndCondition{Until: &until}

		got, err := collect(r, date(2024, 1, 1, 0, 0), date(2024, 12, 31, 0, 0))
		if err != nil {
			t.Fatalf("collect() error = %v", err)
		}
		if len(got) != 10 {
			t.Fatalf("expected 10 occurrences, got %d", len(got))
		}
		if !got[len(got)-1].Equal(until) {
			t.Errorf("last occurrence = %v, want %v", got[len(got)-1], until)
		}
	})
}

func TestOccurrences_OneOff(t *testing.T) {
	t.Parallel()

	r := newReminder(date(2024, 5, 1, 12, 0), entities.Recurrence{Kind: entities.RecurrenceNone})

	inside, err := collect(r, date(2024, 5, 1, 0, 0), date(2024, 5, 2, 0, 0))
	if err != nil {
		t.Fatalf("collect() error = %v", err)
	}
	if len(inside) != 1 {
		t.Fatalf("expected 1 occurrence, got %v", inside)
	}

	outside, err := collect(r, date(2024, 5, 2, 0, 0), date(2024, 5, 3, 0, 0))
	if err != nil {
		t.Fatalf("collect() error = %v", err)
	}
	if len(outside) != 0 {
		t.Errorf("expected no occurrences, got %v", outside)
	}
}

func TestOccurrences_StopsEarly(t *testing.T) {
	t.Parallel()

	r := newReminder(date(2024, 1, 1, 9, 0), entities.Recurrence{Kind: entities.RecurrenceDaily})
	seq, err := Occurrences(r, date(2024, 1, 1, 0, 0), date(2030, 1, 1, 0, 0))
	if err != nil {
		t.Fatalf("Occurrences() error = %v", err)
	}

	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("consumed %d values, want 3", n)
	}
}

func TestOccurrences_Deterministic(t *testing.T) {
	t.Parallel()

	r := newReminder(date(2024, 1, 31, 9, 0), entities.Recurrence{Kind: entities.RecurrenceMonthly})
	first, err := collect(r, date(2024, 1, 1, 0, 0), date(2025, 1, 1, 0, 0))
	if err != nil {
		t.Fatalf("collect() error = %v", err)
	}
	second, err := collect(r, date(2024, 1, 1, 0, 0), date(2025, 1, 1, 0, 0))
	if err != nil {
		t.Fatalf("collect() error = %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Equal(second[i]) {
			t.Errorf("occurrence[%d] differs: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestOccurrences_InvalidInput(t *testing.T) {
	t.Parallel()

	count := 3
	until := date(2023, 1, 1, 0, 0)
	tests := []struct {
		name   string
		mutate func(r *entities.Reminder)
	}{
		{"unknown kind", func(r *entities.Reminder) { r.Recurrence.Kind = "yearly" }},
		{"weekdays on daily", func(r *entities.Reminder) {
			r.Recurrence = entities.Recurrence{Kind: entities.RecurrenceDaily, Weekdays: []time.Weekday{time.Monday}}
		}},
		{"day of month out of range", func(r *entities.Reminder) {
			r.Recurrence = entities.Recurrence{Kind: entities.RecurrenceMonthly, DayOfMonth: 32}
		}},
		{"end on one-off", func(r *entities.Reminder) {
			r.Recurrence = entities.Recurrence{Kind: entities.RecurrenceNone}
			r.End = entities.EndCondition{Count: &count}
		}},
		{"until before start", func(r *entities.Reminder) { r.End = entities.EndCondition{Until: &until} }},
		{"unknown timezone", func(r *entities.Reminder) { r.Timezone = "Mars/Olympus" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := newReminder(date(2024, 1, 1, 9, 0), entities.Recurrence{Kind: entities.RecurrenceDaily})
			tt.mutate(r)

			_, err := Occurrences(r, date(2024, 1, 1, 0, 0), date(2024, 2, 1, 0, 0))
			if !entities.IsValidation(err) {
				t.Errorf("Occurrences() error = %v, want ValidationError", err)
			}
		})
	}

	t.Run("inverted window", func(t *testing.T) {
		r := newReminder(date(2024, 1, 1, 9, 0), entities.Recurrence{Kind: entities.RecurrenceDaily})
		_, err := Occurrences(r, date(2024, 2, 1, 0, 0), date(2024, 1, 1, 0, 0))
		if !entities.IsValidation(err) {
			t.Errorf("Occurrences() error = %v, want ValidationError", err)
		}
	})
}

func TestNext(t *testing.T) {
	t.Parallel()

	r := newReminder(date(2024, 1, 31, 9, 0), entities.Recurrence{Kind: entities.RecurrenceMonthly})

	got, ok, err := Next(r, date(2024, 2, 1, 0, 0))
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !ok {
		t.Fatal("Next() found nothing")
	}
	if !got.Equal(date(2024, 2, 29, 9, 0)) {
		t.Errorf("Next() = %v, want 2024-02-29 09:00", got)
	}

	oneOff := newReminder(date(2024, 1, 1, 9, 0), entities.Recurrence{Kind: entities.RecurrenceNone})
	if _, ok, _ := Next(oneOff, date(2024, 1, 2, 0, 0)); ok {
		t.Error("Next() on a past one-off reminder should find nothing")
	}

	count := 2
	ended := newReminder(date(2024, 1, 1, 9, 0), entities.Recurrence{Kind: entities.RecurrenceDaily})
	ended.End = entities.EndCondition{Count: &count}
	if got, ok, _ := Next(ended, date(2024, 1, 2, 9, 0)); ok {
		t.Errorf("Next() after the last counted occurrence = %v, want nothing", got)
	}
}
