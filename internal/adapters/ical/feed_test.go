package ical

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"github.com/remindly/core/internal/domain/entities"
)

func TestEncode(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	reminderID := uuid.New()

	occs := []*entities.Occurrence{
		{
			ID:                uuid.New(),
			ReminderID:        reminderID,
			DefinitionVersion: 2,
			Title:             "Water the plants",
			ScheduledAt:       base,
			DeliveryStatus:    entities.DeliveryPending,
			CreatedAt:         base.Add(-time.Hour),
			UpdatedAt:         base.Add(-time.Hour),
		},
		{
			ID:                uuid.New(),
			ReminderID:        reminderID,
			DefinitionVersion: 2,
			Title:             "Water the plants",
			ScheduledAt:       base.Add(24 * time.Hour),
			DeliveryStatus:    entities.DeliveryPending,
			CreatedAt:         base.Add(-time.Hour),
			UpdatedAt:         base.Add(-time.Hour),
		},
	}

	out, err := NewEncoder("remindly", 15*time.Minute).Encode("alice", occs)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(out), "BEGIN:VCALENDAR") {
		t.Fatalf("output is not a calendar:\n%s", out)
	}

	cal, err := ics.ParseCalendar(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}

	events := cal.Events()
	if len(events) != len(occs) {
		t.Fatalf("got %d events, want %d", len(events), len(occs))
	}
	for i, ev := range events {
		if ev.Id() != occs[i].ID.String() {
			t.Errorf("event %d uid = %q, want %q", i, ev.Id(), occs[i].ID)
		}
		if p := ev.GetProperty(ics.ComponentPropertySummary); p == nil || p.Value != "Water the plants" {
			t.Errorf("event %d summary = %v", i, p)
		}
		start, err := ev.GetStartAt()
		if err != nil {
			t.Fatalf("event %d start: %v", i, err)
		}
		if !start.Equal(occs[i].ScheduledAt) {
			t.Errorf("event %d start = %s, want %s", i, start, occs[i].ScheduledAt)
		}
		end, err := ev.GetEndAt()
		if err != nil {
			t.Fatalf("event %d end: %v", i, err)
		}
		if got := end.Sub(start); got != 15*time.Minute {
			t.Errorf("event %d duration = %s", i, got)
		}
	}
}

func TestEncodeEmpty(t *testing.T) {
	out, err := NewEncoder("remindly", 0).Encode("bob", nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Contains(string(out), "BEGIN:VEVENT") {
		t.Errorf("empty feed contains events:\n%s", out)
	}
}
