package handler

import (
	"cmp"
	"net/http"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/auth"
	"github.com/abdusco/linkpage/internal/qr"
	"github.com/labstack/echo/v4"
)

type QRHandler struct {
	cache *qr.Cache
}

func NewQRHandler(cache *qr.Cache) *QRHandler {
	return &QRHandler{cache: cache}
}

type ResolveQRRequest struct {
	URL    string `json:"url"`
	Format string `json:"format"`
	Size   int    `json:"size"`
}

func (h *QRHandler) Resolve(c echo.Context) error {
	var req ResolveQRRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	format, err := internal.ParseQRFormat(req.Format)
	if err != nil {
		return httpError(err)
	}

	res, err := h.cache.Resolve(c.Request().Context(), auth.UserID(c), req.URL, format, cmp.Or(req.Size, qr.DefaultSize))
	if err != nil {
		return httpError(err)
	}

	status := http.StatusCreated
	if res.Cached {
		status = http.StatusOK
	}
	return c.JSON(status, res)
}

type ExportQRResponse struct {
	Codes []internal.QRRecord `json:"codes"`
}

func (h *QRHandler) Export(c echo.Context) error {
	records, err := h.cache.Export(c.Request().Context(), auth.UserID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ExportQRResponse{Codes: records})
}

func (h *QRHandler) ClearAll(c echo.Context) error {
	removed, err := h.cache.ClearAll(c.Request().Context(), auth.UserID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}
