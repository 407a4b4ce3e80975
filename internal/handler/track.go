package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/abdusco/linkpage/internal/tracking"
	"github.com/labstack/echo/v4"
)

type TrackHandler struct {
	tracker *tracking.Tracker
	now     func() time.Time
}

func NewTrackHandler(tracker *tracking.Tracker) *TrackHandler {
	return &TrackHandler{tracker: tracker, now: time.Now}
}

// View records a profile view. Tracking problems never reach the visitor.
func (h *TrackHandler) View(c echo.Context) error {
	subject := strings.TrimSpace(c.Param("subjectID"))
	if subject == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subject id is required")
	}

	h.tracker.RecordView(c.Request().Context(), requestEvent(c.Request(), subject, h.now()))
	return c.NoContent(http.StatusNoContent)
}
