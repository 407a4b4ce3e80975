package handler

import (
	"errors"
	"net/http"

	"github.com/abdusco/linkpage/internal"
	"github.com/labstack/echo/v4"
)

var badRequestErrors = []error{
	internal.ErrInvalidURL,
	internal.ErrInvalidFormat,
	internal.ErrInvalidSize,
	internal.ErrInvalidPayload,
	internal.ErrUnknownKind,
	internal.ErrInvalidEvent,
}

// httpError maps domain errors to HTTP errors. Anything unknown is a 500.
func httpError(err error) *echo.HTTPError {
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
		}
	}
	switch {
	case errors.Is(err, internal.ErrLinkNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "link not found").SetInternal(err)
	case errors.Is(err, internal.ErrSlugExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error()).SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
