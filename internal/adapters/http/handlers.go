package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/remindly/core/internal/domain/entities"
	"github.com/remindly/core/internal/infrastructure/logger"
	"github.com/remindly/core/internal/ports"
)

// DefaultListWindow is used when a listing request names no upper bound
const DefaultListWindow = 30 * 24 * time.Hour

// ReminderHandler handles reminder-related requests
type ReminderHandler struct {
	reminderService ports.ReminderService
	logger          *logger.Logger
}

// NewReminderHandler creates a new reminder handler
func NewReminderHandler(reminderService ports.ReminderService, logger *logger.Logger) *ReminderHandler {
	return &ReminderHandler{
		reminderService: reminderService,
		logger:          logger,
	}
}

// CreateReminder godoc
// @Summary Create a reminder
// @Description Create a one-off or recurring reminder and schedule its first occurrences
// @Tags reminders
// @Accept json
// @Produce json
// @Param request body ports.CreateReminderRequest true "Reminder definition"
// @Success 201 {object} entities.Reminder
// @Failure 400 {object} ErrorResponse
// @Router /reminders [post]
func (h *ReminderHandler) CreateReminder(c echo.Context) error {
	var req ports.CreateReminderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	reminder, err := h.reminderService.CreateReminder(c.Request().Context(), req)
	if err != nil {
		h.logger.Errorw("Create reminder failed", "error", err, "owner_id", req.OwnerID)
		return MapError(err)
	}

	return c.JSON(http.StatusCreated, reminder)
}

// GetReminder godoc
// @Summary Get reminder by ID
// @Tags reminders
// @Produce json
// @Param id path string true "Reminder ID"
// @Success 200 {object} entities.Reminder
// @Failure 404 {object} ErrorResponse
// @Router /reminders/{id} [get]
func (h *ReminderHandler) GetReminder(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	reminder, err := h.reminderService.GetReminder(c.Request().Context(), id)
	if err != nil {
		return MapError(err)
	}

	return c.JSON(http.StatusOK, reminder)
}

// UpdateReminder godoc
// @Summary Edit a reminder
// @Description Changes start a new definition version; pending occurrences from now on are replaced
// @Tags reminders
// @Accept json
// @Produce json
// @Param id path string true "Reminder ID"
// @Param request body ports.UpdateReminderRequest true "Changes"
// @Success 200 {object} entities.Reminder
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /reminders/{id} [patch]
func (h *ReminderHandler) UpdateReminder(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req ports.UpdateReminderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	reminder, err := h.reminderService.EditReminder(c.Request().Context(), id, req)
	if err != nil {
		h.logger.Errorw("Edit reminder failed", "error", err, "reminder_id", id)
		return MapError(err)
	}

	return c.JSON(http.StatusOK, reminder)
}

// DeleteReminder godoc
// @Summary Delete a reminder
// @Description Cancels every pending occurrence; deliveries in flight still complete
// @Tags reminders
// @Param id path string true "Reminder ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /reminders/{id} [delete]
func (h *ReminderHandler) DeleteReminder(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	if err := h.reminderService.DeleteReminder(c.Request().Context(), id); err != nil {
		h.logger.Errorw("Delete reminder failed", "error", err, "reminder_id", id)
		return MapError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// ListReminders godoc
// @Summary List an owner's reminders
// @Description Live reminders of the owner, each with its next fire time
// @Tags reminders
// @Produce json
// @Param owner_id query string true "Owner ID"
// @Success 200 {object} ListResponse[ports.ReminderSummary]
// @Failure 400 {object} ErrorResponse
// @Router /reminders [get]
func (h *ReminderHandler) ListReminders(c echo.Context) error {
	reminders, err := h.reminderService.ListReminders(c.Request().Context(), c.QueryParam("owner_id"))
	if err != nil {
		return MapError(err)
	}

	return c.JSON(http.StatusOK, newListResponse(reminders))
}

// ImportCalendarEvents godoc
// @Summary Import calendar events as reminders
// @Description Creates a one-off reminder for each future calendar event between from and to that was not imported before
// @Tags reminders
// @Produce json
// @Param owner_id query string true "Owner ID"
// @Param from query string false "Window start, defaults to now"
// @Param to query string false "Window end, defaults to 30 days after from"
// @Success 201 {object} ports.ImportResult
// @Success 200 {object} ports.ImportResult "Nothing new to import"
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /reminders/import [post]
func (h *ReminderHandler) ImportCalendarEvents(c echo.Context) error {
	window, err := parseWindow(c)
	if err != nil {
		return err
	}

	ownerID := c.QueryParam("owner_id")
	result, err := h.reminderService.ImportCalendarEvents(c.Request().Context(), ownerID, window)
	if err != nil {
		h.logger.Warnw("Calendar import failed", "error", err, "owner_id", ownerID)
		return MapError(err)
	}

	status := http.StatusOK
	if len(result.Imported) > 0 {
		status = http.StatusCreated
	}
	return c.JSON(status, result)
}

// GetHistory godoc
// @Summary Reminder change history
// @Tags reminders
// @Produce json
// @Param id path string true "Reminder ID"
// @Success 200 {object} ListResponse[entities.ReminderRecord]
// @Failure 404 {object} ErrorResponse
// @Router /reminders/{id}/history [get]
func (h *ReminderHandler) GetHistory(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	records, err := h.reminderService.ReminderHistory(c.Request().Context(), id)
	if err != nil {
		return MapError(err)
	}

	return c.JSON(http.StatusOK, newListResponse(records))
}

// ListUpcoming godoc
// @Summary Upcoming occurrences
// @Description Occurrences of the owner's reminders between from and to (RFC 3339, at most 90 days apart)
// @Tags occurrences
// @Produce json
// @Param owner_id query string true "Owner ID"
// @Param from query string false "Window start, defaults to now"
// @Param to query string false "Window end, defaults to 30 days after from"
// @Success 200 {object} ListResponse[entities.Occurrence]
// @Failure 400 {object} ErrorResponse
// @Router /upcoming [get]
func (h *ReminderHandler) ListUpcoming(c echo.Context) error {
	window, err := parseWindow(c)
	if err != nil {
		return err
	}

	occurrences, err := h.reminderService.ListUpcoming(c.Request().Context(), c.QueryParam("owner_id"), window)
	if err != nil {
		return MapError(err)
	}

	return c.JSON(http.StatusOK, newListResponse(occurrences))
}

// UpcomingCalendar godoc
// @Summary Upcoming occurrences as iCalendar
// @Tags occurrences
// @Produce text/calendar
// @Param owner_id query string true "Owner ID"
// @Param from query string false "Window start, defaults to now"
// @Param to query string false "Window end, defaults to 30 days after from"
// @Success 200 {string} string "VCALENDAR document"
// @Failure 400 {object} ErrorResponse
// @Router /upcoming.ics [get]
func (h *ReminderHandler) UpcomingCalendar(c echo.Context) error {
	window, err := parseWindow(c)
	if err != nil {
		return err
	}

	feed, err := h.reminderService.UpcomingCalendar(c.Request().Context(), c.QueryParam("owner_id"), window)
	if err != nil {
		return MapError(err)
	}

	return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", feed)
}

// Utility functions and helper types

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid "+name)
	}
	return id, nil
}

func parseWindow(c echo.Context) (ports.UpcomingWindow, error) {
	from := time.Now().UTC()
	if s := c.QueryParam("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return ports.UpcomingWindow{}, echo.NewHTTPError(http.StatusBadRequest, "Invalid from: expected RFC 3339")
		}
		from = t
	}

	to := from.Add(DefaultListWindow)
	if s := c.QueryParam("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return ports.UpcomingWindow{}, echo.NewHTTPError(http.StatusBadRequest, "Invalid to: expected RFC 3339")
		}
		to = t
	}

	return ports.UpcomingWindow{From: from, To: to}, nil
}

// MapError maps domain errors onto HTTP errors. Anything it does not
// recognise is returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var ve *entities.ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.Is(err, entities.ErrReminderNotFound),
		errors.Is(err, entities.ErrOccurrenceNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, entities.ErrVersionConflict),
		errors.Is(err, entities.ErrInvalidTransition),
		errors.Is(err, entities.ErrConcurrencyConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, entities.ErrCalendarUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case entities.IsTransient(err), entities.IsPermanent(err):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return err
	}
}

// Request/Response types

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
}

func newListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Data: items, Count: len(items)}
}
