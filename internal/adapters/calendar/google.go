// Package calendar holds the external calendar adapters used by the
// reconciler.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/infrastructure/config"
	"github.com/remindly/core/internal/infrastructure/logger"
	"github.com/remindly/core/internal/ports"
)

const (
	statusCancelled = "cancelled"
	listPageSize    = 250
)

// Google is a CalendarAdapter backed by the Google Calendar API
type Google struct {
	service       *gcal.Service
	calendarID    string
	eventDuration time.Duration
	logger        *logger.Logger
}

// NewGoogle connects to Google Calendar with either a service account
// credentials file or an OAuth refresh token.
func NewGoogle(ctx context.Context, cfg config.SyncConfig, logger *logger.Logger) (*Google, error) {
	var opts []option.ClientOption

	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.RefreshToken != "":
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gcal.CalendarEventsScope},
		}
		ts := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		opts = append(opts, option.WithTokenSource(ts))
	default:
		return nil, fmt.Errorf("google calendar: no credentials configured")
	}

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google calendar: %w", err)
	}
	return NewGoogleWithService(svc, cfg.CalendarID, cfg.EventDuration, logger), nil
}

// NewGoogleWithService wraps an existing calendar service
func NewGoogleWithService(svc *gcal.Service, calendarID string, eventDuration time.Duration, logger *logger.Logger) *Google {
	if calendarID == "" {
		calendarID = "primary"
	}
	if eventDuration <= 0 {
		eventDuration = 30 * time.Minute
	}
	return &Google{
		service:       svc,
		calendarID:    calendarID,
		eventDuration: eventDuration,
		logger:        logger.WithComponent("google-calendar"),
	}
}

// CreateEvent inserts an event whose id is derived from draft.Key, so a
// repeated create after a lost response finds the event made the first time.
func (g *Google) CreateEvent(ctx context.Context, draft ports.EventDraft) (string, error) {
	id := EventID(draft.Key)
	start := draft.Time.UTC()

	event := &gcal.Event{
		Id:      id,
		Summary: draft.Title,
		Start:   &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: "UTC"},
		End:     &gcal.EventDateTime{DateTime: start.Add(g.eventDuration).Format(time.RFC3339), TimeZone: "UTC"},
		Reminders: &gcal.EventReminders{
			UseDefault:      false,
			ForceSendFields: []string{"UseDefault"},
		},
	}

	created, err := g.service.Events.Insert(g.calendarID, event).Context(ctx).Do()
	if err == nil {
		return created.Id, nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
		existing, getErr := g.service.Events.Get(g.calendarID, id).Context(ctx).Do()
		if getErr != nil {
			return "", classify("get event", getErr)
		}
		if existing.Status == statusCancelled {
			// Google keeps deleted ids reserved; bring the event back.
			existing.Status = "confirmed"
			existing.Summary = event.Summary
			existing.Start = event.Start
			existing.End = event.End
			if _, err := g.service.Events.Update(g.calendarID, id, existing).Context(ctx).Do(); err != nil {
				return "", classify("restore event", err)
			}
		}
		g.logger.Debugw("Event already existed", "event_id", id)
		return existing.Id, nil
	}

	return "", classify("create event", err)
}

// GetEvent fetches the event. Deleted events come back with Exists false.
func (g *Google) GetEvent(ctx context.Context, remoteID string) (ports.RemoteEvent, error) {
	ev, err := g.service.Events.Get(g.calendarID, remoteID).Context(ctx).Do()
	if err != nil {
		err = classify("get event", err)
		if errors.Is(err, entities.ErrRemoteEventNotFound) {
			return ports.RemoteEvent{ID: remoteID, Exists: false}, nil
		}
		return ports.RemoteEvent{}, err
	}
	if ev.Status == statusCancelled {
		return ports.RemoteEvent{ID: remoteID, Exists: false}, nil
	}

	at, err := eventStart(ev)
	if err != nil {
		return ports.RemoteEvent{}, entities.Permanent("get event", err)
	}
	return ports.RemoteEvent{
		ID:     ev.Id,
		Title:  ev.Summary,
		Time:   at,
		Exists: true,
	}, nil
}

// DeleteEvent removes the event. An event that is already gone reports
// entities.ErrRemoteEventNotFound.
func (g *Google) DeleteEvent(ctx context.Context, remoteID string) error {
	err := g.service.Events.Delete(g.calendarID, remoteID).Context(ctx).Do()
	if err != nil {
		return classify("delete event", err)
	}
	return nil
}

// ListEvents returns the live timed and all-day events starting inside
// [from, to], recurring events expanded into their instances.
func (g *Google) ListEvents(ctx context.Context, from, to time.Time) ([]ports.RemoteEvent, error) {
	call := g.service.Events.List(g.calendarID).
		TimeMin(from.UTC().Format(time.RFC3339)).
		TimeMax(to.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(listPageSize)

	var events []ports.RemoteEvent
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, ev := range page.Items {
			if ev.Status == statusCancelled {
				continue
			}
			at, err := eventStart(ev)
			if err != nil {
				g.logger.WithError(err).Warnw("Skipping event without a usable start", "event_id", ev.Id)
				continue
			}
			events = append(events, ports.RemoteEvent{
				ID:     ev.Id,
				Title:  ev.Summary,
				Time:   at,
				Exists: true,
			})
		}
		return nil
	})
	if err != nil {
		return nil, classify("list events", err)
	}
	return events, nil
}

// EventID maps an occurrence key onto Google's event id alphabet
// (base32hex, lowercase). A UUID without dashes already fits it.
func EventID(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "-", ""))
}

func eventStart(ev *gcal.Event) (time.Time, error) {
	if ev.Start == nil {
		return time.Time{}, fmt.Errorf("event %s has no start", ev.Id)
	}
	if ev.Start.DateTime != "" {
		t, err := time.Parse(time.RFC3339, ev.Start.DateTime)
		if err != nil {
			return time.Time{}, fmt.Errorf("event %s: %w", ev.Id, err)
		}
		return t.UTC(), nil
	}
	// Turned into an all-day event by the user.
	t, err := time.Parse("2006-01-02", ev.Start.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("event %s: %w", ev.Id, err)
	}
	return t.UTC(), nil
}

// classify sorts API failures into not-found, transient and permanent
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return entities.Transient(op, err)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		// Refresh token revoked or client disabled.
		return entities.Permanent(op, err)
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		// Network-level failure.
		return entities.Transient(op, err)
	}

	switch {
	case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone:
		return fmt.Errorf("%s: %w", op, entities.ErrRemoteEventNotFound)
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
		return entities.Transient(op, err)
	case apiErr.Code == http.StatusForbidden && isRateLimited(apiErr):
		return entities.Transient(op, err)
	default:
		return entities.Permanent(op, err)
	}
}

func isRateLimited(err *googleapi.Error) bool {
	for _, item := range err.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

var _ ports.CalendarAdapter = (*Google)(nil)
