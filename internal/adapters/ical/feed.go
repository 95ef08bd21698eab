// Package ical renders occurrences as an iCalendar (RFC 5545) feed so that
// upcoming reminders can be subscribed to from any calendar client.
package ical

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/ports"
)

const defaultEventDuration = 30 * time.Minute

// Encoder builds VCALENDAR documents from occurrences
type Encoder struct {
	ProductID     string
	EventDuration time.Duration
}

// NewEncoder creates a feed encoder. Events last eventDuration.
func NewEncoder(productID string, eventDuration time.Duration) *Encoder {
	if eventDuration <= 0 {
		eventDuration = defaultEventDuration
	}
	return &Encoder{ProductID: productID, EventDuration: eventDuration}
}

// Encode serializes occurrences, one VEVENT each, keyed by occurrence id
func (e *Encoder) Encode(ownerID string, occurrences []*entities.Occurrence) ([]byte, error) {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(fmt.Sprintf("-//%s//Reminders//EN", e.ProductID))
	cal.SetXWRCalName("Reminders for " + ownerID)

	for _, occ := range occurrences {
		start := occ.ScheduledAt.UTC()

		event := cal.AddEvent(occ.ID.String())
		event.SetSummary(occ.Title)
		event.SetStartAt(start)
		event.SetEndAt(start.Add(e.EventDuration))
		event.SetDtStampTime(occ.UpdatedAt.UTC())
		event.SetCreatedTime(occ.CreatedAt.UTC())
		event.SetProperty(ics.ComponentPropertySequence, fmt.Sprint(occ.DefinitionVersion))
		event.SetStatus(eventStatus(occ.DeliveryStatus))
		event.SetProperty(ics.ComponentProperty("X-REMINDER-ID"), occ.ReminderID.String())
	}

	return []byte(cal.Serialize()), nil
}

func eventStatus(s entities.DeliveryStatus) ics.ObjectStatus {
	if s == entities.DeliveryCancelled {
		return ics.ObjectStatusCancelled
	}
	return ics.ObjectStatusConfirmed
}

var _ ports.FeedEncoder = (*Encoder)(nil)
