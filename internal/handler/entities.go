package handler

import (
	"net/http"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/auth"
	"github.com/abdusco/linkpage/internal/intake"
	"github.com/abdusco/linkpage/internal/repo"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type EntityHandler struct {
	queue    *intake.Queue
	entities *repo.EntitiesRepo
}

func NewEntityHandler(queue *intake.Queue, entities *repo.EntitiesRepo) *EntityHandler {
	return &EntityHandler{queue: queue, entities: entities}
}

type CreateEntityResponse struct {
	Status string        `json:"status"`
	Ticket intake.Ticket `json:"ticket"`
}

// Create queues a new entity of the kind in the path. The row is written
// later by the intake worker, so the response is 202.
func (h *EntityHandler) Create(c echo.Context) error {
	kind, err := internal.ParseEntityKind(c.Param("kind"))
	if err != nil {
		return httpError(err)
	}

	var p internal.IntakePayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	p.Kind = kind
	p.UserID = auth.UserID(c)

	ticket, err := h.queue.Enqueue(c.Request().Context(), p)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Str("user_id", p.UserID).Msg("failed to enqueue entity")
		return httpError(err)
	}

	return c.JSON(http.StatusAccepted, CreateEntityResponse{Status: "queued", Ticket: ticket})
}

type ListOrderResponse struct {
	Entities []repo.EntityRef `json:"entities"`
}

// ListOrder returns every entity of the caller in page order.
func (h *EntityHandler) ListOrder(c echo.Context) error {
	refs, err := h.entities.ListOrder(c.Request().Context(), auth.UserID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ListOrderResponse{Entities: refs})
}
