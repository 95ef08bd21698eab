// Package recurrence expands reminder definitions into occurrence timestamps.
//
// Expansion happens in the reminder's own timezone so that a reminder set for
// 09:00 stays at 09:00 local time across daylight-saving transitions. Results
// are returned as UTC instants truncated to the second, which keeps them
// stable as store keys.
package recurrence

import (
	"fmt"
	"iter"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/remindly/core/internal/domain/entities"
)

// clampFloor is the shortest month length; monthly rules for later days
// clamp to the last day of shorter months.
const clampFloor = 28

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Validate checks that r describes a well-formed recurrence.
func Validate(r *entities.Reminder) error {
	if r.StartAt.IsZero() {
		return entities.NewValidationError("start_at", "is required")
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return entities.NewValidationError("timezone", fmt.Sprintf("unknown timezone %q", r.Timezone))
		}
	}

	rec := r.Recurrence
	if !rec.Kind.IsValid() {
		return entities.NewValidationError("recurrence.kind", fmt.Sprintf("unsupported kind %q", rec.Kind))
	}
	if rec.Kind != entities.RecurrenceWeekly && len(rec.Weekdays) > 0 {
		return entities.NewValidationError("recurrence.weekdays", "only allowed for weekly reminders")
	}
	if rec.Kind != entities.RecurrenceMonthly && rec.DayOfMonth != 0 {
		return entities.NewValidationError("recurrence.day_of_month", "only allowed for monthly reminders")
	}
	for _, d := range rec.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return entities.NewValidationError("recurrence.weekdays", fmt.Sprintf("invalid weekday %d", d))
		}
	}
	if rec.DayOfMonth < 0 || rec.DayOfMonth > 31 {
		return entities.NewValidationError("recurrence.day_of_month", "must be between 1 and 31")
	}

	end := r.End
	if end.Until != nil && end.Count != nil {
		return entities.NewValidationError("end", "until and count are mutually exclusive")
	}
	if !end.IsZero() && rec.Kind == entities.RecurrenceNone {
		return entities.NewValidationError("end", "only allowed for recurring reminders")
	}
	if end.Count != nil && *end.Count <= 0 {
		return entities.NewValidationError("end.count", "must be positive")
	}
	if end.Until != nil && end.Until.Before(r.StartAt) {
		return entities.NewValidationError("end.until", "must not be before start_at")
	}

	return nil
}

// Occurrences returns the occurrence timestamps of r inside
// [windowStart, windowEnd] in ascending order. Values are computed on demand
// and the sequence may be ranged over more than once.
func Occurrences(r *entities.Reminder, windowStart, windowEnd time.Time) (iter.Seq[time.Time], error) {
	if windowEnd.Before(windowStart) {
		return nil, entities.NewValidationError("window", "end is before start")
	}
	if err := Validate(r); err != nil {
		return nil, err
	}

	start := normalize(r.StartAt)

	if r.Recurrence.Kind == entities.RecurrenceNone {
		return func(yield func(time.Time) bool) {
			if inWindow(start, windowStart, windowEnd) {
				yield(start)
			}
		}, nil
	}

	rule, err := buildRule(r)
	if err != nil {
		return nil, err
	}

	return func(yield func(time.Time) bool) {
		next := rule.Iterator()
		for {
			t, ok := next()
			if !ok {
				return
			}
			t = normalize(t)
			if t.After(windowEnd) {
				return
			}
			if t.Before(windowStart) {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}, nil
}

// Next returns the first occurrence of r strictly after the given instant.
func Next(r *entities.Reminder, after time.Time) (time.Time, bool, error) {
	if err := Validate(r); err != nil {
		return time.Time{}, false, err
	}

	if r.Recurrence.Kind == entities.RecurrenceNone {
		start := normalize(r.StartAt)
		if start.After(after) {
			return start, true, nil
		}
		return time.Time{}, false, nil
	}

	rule, err := buildRule(r)
	if err != nil {
		return time.Time{}, false, err
	}
	t := rule.After(after, false)
	if t.IsZero() {
		return time.Time{}, false, nil
	}
	return normalize(t), true, nil
}

func buildRule(r *entities.Reminder) (*rrule.RRule, error) {
	loc := r.Location()
	dtstart := r.StartAt.In(loc).Truncate(time.Second)

	opt := rrule.ROption{
		Dtstart: dtstart,
		Wkst:    rrule.MO,
	}

	switch r.Recurrence.Kind {
	case entities.RecurrenceDaily:
		opt.Freq = rrule.DAILY
	case entities.RecurrenceWeekly:
		opt.Freq = rrule.WEEKLY
		days := r.Recurrence.Weekdays
		if len(days) == 0 {
			days = []time.Weekday{dtstart.Weekday()}
		}
		for _, d := range days {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
		}
	case entities.RecurrenceMonthly:
		opt.Freq = rrule.MONTHLY
		day := r.Recurrence.DayOfMonth
		if day == 0 {
			day = dtstart.Day()
		}
		if day <= clampFloor {
			opt.Bymonthday = []int{day}
		} else {
			// The last existing day out of 28..day: the day itself in long
			// months, the month's last day in shorter ones.
			for d := clampFloor; d <= day; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		}
	default:
		return nil, entities.NewValidationError("recurrence.kind", fmt.Sprintf("unsupported kind %q", r.Recurrence.Kind))
	}

	if r.End.Count != nil {
		opt.Count = *r.End.Count
	}
	if r.End.Until != nil {
		opt.Until = r.End.Until.In(loc)
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build recurrence rule: %w", err)
	}
	return rule, nil
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
