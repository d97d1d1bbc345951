package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"wifi_provisioner/internal/repository"
	"wifi_provisioner/internal/service"

	"github.com/gin-gonic/gin"
)

// Accepted layouts for the from/to query parameters, most specific first.
var queryTimeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

const dateOnlyLayout = "2006-01-02"

// @Summary      List attempts
// @Description  Filter by start time (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD') and status. A date-only 'to' covers the whole day.
// @Tags         attempts
// @Produce      json
// @Param        from    query   string  false  "Start of range"  example(2025-08-01)
// @Param        to      query   string  false  "End of range. Date-only treated as end of day."  example(2025-08-31)
// @Param        status  query   string  false  "Attempt status"  Enums(RUNNING,CONFIRMED,REJECTED)
// @Success      200   {object}  map[string]interface{}  "count, attempts"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/attempts [get]
// @Security     BearerAuth
func (h *Handler) listAttempts(c *gin.Context) {
	status := c.Query("status")
	from, err := parseQueryTime(c.Query("from"), false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'from': " + err.Error()})
		return
	}
	to, err := parseQueryTime(c.Query("to"), true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'to': " + err.Error()})
		return
	}

	attempts, err := h.services.Journal.List(c.Request.Context(), service.AttemptFilter{
		From:   from,
		To:     to,
		Status: status,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidTimeRange) || errors.Is(err, service.ErrInvalidStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load attempts", "attempts_list_failed", err,
			"from", from, "to", to, "status", status)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(attempts),
		"attempts": attempts,
	})
}

// @Summary      Attempt steps
// @Tags         attempts
// @Produce      json
// @Param        id   path  string  true  "Attempt id"
// @Success      200  {object}  map[string]interface{}  "count, events"
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/attempts/{id}/events [get]
// @Security     BearerAuth
func (h *Handler) attemptEvents(c *gin.Context) {
	id := c.Param("id")
	events, err := h.services.Journal.Events(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrAttemptNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load attempt events", "attempt_events_failed", err, "attempt_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

// parseQueryTime parses a from/to bound into UTC. An empty value is the zero
// time. With endOfDay, a date without a clock moves to the last nanosecond of
// that day so the bound stays inclusive.
func parseQueryTime(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range queryTimeLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if endOfDay && layout == dateOnlyLayout {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%q is not RFC3339, 'YYYY-MM-DD HH:MM:SS' or 'YYYY-MM-DD'", s)
}
