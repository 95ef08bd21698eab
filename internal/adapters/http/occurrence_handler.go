package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// AcknowledgeOccurrence godoc
// @Summary Acknowledge a delivered reminder
// @Tags occurrences
// @Produce json
// @Param id path string true "Occurrence ID"
// @Success 200 {object} entities.Occurrence
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /occurrences/{id}/ack [post]
func (h *ReminderHandler) AcknowledgeOccurrence(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	occ, err := h.reminderService.AcknowledgeDelivery(c.Request().Context(), id)
	if err != nil {
		return MapError(err)
	}

	return c.JSON(http.StatusOK, occ)
}

// ResyncOccurrence godoc
// @Summary Push an occurrence to the calendar again
// @Description Applies to events deleted in the calendar and to occurrences whose last sync failed permanently
// @Tags occurrences
// @Produce json
// @Param id path string true "Occurrence ID"
// @Success 202 {object} entities.Occurrence
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /occurrences/{id}/resync [post]
func (h *ReminderHandler) ResyncOccurrence(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	occ, err := h.reminderService.ResyncOccurrence(c.Request().Context(), id)
	if err != nil {
		h.logger.Warnw("Resync rejected", "error", err, "occurrence_id", id)
		return MapError(err)
	}

	return c.JSON(http.StatusAccepted, occ)
}
