package handler

import (
	"math"
	"net/http"
	"strconv"

	"github.com/abdusco/linkpage/internal/aggregate"
	"github.com/abdusco/linkpage/internal/flush"
	"github.com/abdusco/linkpage/internal/intake"
	"github.com/abdusco/linkpage/internal/partition"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// TriggerHandler exposes the background jobs to an external scheduler.
type TriggerHandler struct {
	flusher    *flush.Worker
	consumer   *aggregate.Consumer
	partitions *partition.Manager
	intake     *intake.Worker
}

func NewTriggerHandler(flusher *flush.Worker, consumer *aggregate.Consumer, partitions *partition.Manager, intakeWorker *intake.Worker) *TriggerHandler {
	return &TriggerHandler{
		flusher:    flusher,
		consumer:   consumer,
		partitions: partitions,
		intake:     intakeWorker,
	}
}

func (h *TriggerHandler) Flush(c echo.Context) error {
	res, err := h.flusher.Flush(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("triggered flush failed")
		return httpError(err)
	}

	if res.Idle && res.RetryAfter > 0 {
		seconds := int(math.Ceil(res.RetryAfter.Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	return c.JSON(http.StatusOK, res)
}

func (h *TriggerHandler) ConsumeLogs(c echo.Context) error {
	res, err := h.consumer.Consume(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("triggered log consumption failed")
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *TriggerHandler) EnsurePartitions(c echo.Context) error {
	res, err := h.partitions.EnsureMonthly(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("triggered partition check failed")
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *TriggerHandler) DrainIntake(c echo.Context) error {
	res, err := h.intake.Drain(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("triggered intake drain failed")
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}
