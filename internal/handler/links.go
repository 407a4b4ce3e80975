package handler

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/abdusco/linkpage/internal"
	"github.com/abdusco/linkpage/internal/auth"
	"github.com/abdusco/linkpage/internal/repo"
	"github.com/abdusco/linkpage/internal/tracking"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type LinkHandler struct {
	linksRepo *repo.LinksRepo
	tracker   *tracking.Tracker
	now       func() time.Time
}

func NewLinkHandler(linksRepo *repo.LinksRepo, tracker *tracking.Tracker) *LinkHandler {
	return &LinkHandler{
		linksRepo: linksRepo,
		tracker:   tracker,
		now:       time.Now,
	}
}

type LinkResponse struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	OrderKey  int64     `json:"order_key"`
	CreatedAt repo.Date `json:"created_at"`
	Clicks    int64     `json:"clicks"`
}

type ListLinksResponse struct {
	Links []LinkResponse `json:"links"`
}

// ListLinks returns the caller's links in page order with their click counters.
func (h *LinkHandler) ListLinks(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserID(c)

	links, err := h.linksRepo.ListByOwner(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to list links")
		return httpError(err)
	}

	linksResponses := lo.Map(links, func(link *repo.Link, _ int) LinkResponse {
		clicks, err := h.tracker.Count(ctx, internal.EventClick, subjectID(link.ID))
		if err != nil {
			log.Warn().Err(err).Int64("link_id", link.ID).Msg("failed to read click count")
		}
		return LinkResponse{
			ID:        link.ID,
			Slug:      link.Slug,
			Title:     link.Title,
			URL:       link.URL,
			OrderKey:  link.OrderKey,
			CreatedAt: link.CreatedAt,
			Clicks:    clicks,
		}
	})

	return c.JSON(http.StatusOK, ListLinksResponse{Links: linksResponses})
}

func (h *LinkHandler) Redirect(c echo.Context) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")

	log.Debug().Str("slug", slug).Msg("redirect request")

	link, err := h.linksRepo.GetBySlug(ctx, slug)
	if err != nil {
		log.Warn().Err(err).Str("slug", slug).Msg("link not found")
		return httpError(err)
	}

	log.Info().Str("slug", slug).Str("ip", getClientIP(c.Request())).Msg("redirecting link")

	h.tracker.RecordClick(ctx, requestEvent(c.Request(), subjectID(link.ID), h.now()))

	// 302 so repeat visits are not served from a cached 301.
	return c.Redirect(http.StatusFound, link.URL)
}

func subjectID(linkID int64) string {
	return strconv.FormatInt(linkID, 10)
}

// requestEvent describes the visitor behind r.
func requestEvent(r *http.Request, subject string, now time.Time) internal.Event {
	return internal.Event{
		SubjectID:  subject,
		Device:     classifyDevice(r.UserAgent()),
		UserAgent:  r.UserAgent(),
		Country:    clientCountry(r),
		Referrer:   r.Referer(),
		OccurredAt: now.UTC(),
	}
}

func clientCountry(r *http.Request) string {
	for _, header := range []string{"CF-IPCountry", "X-Country-Code", "X-Vercel-IP-Country"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return strings.ToUpper(v)
		}
	}
	return ""
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Try X-Forwarded-For header first (for proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		first = strings.TrimSpace(first)
		if ip := net.ParseIP(first); ip != nil {
			return first
		}
	}

	// Try X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return xri
		}
	}

	// Fall back to RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}

	return r.RemoteAddr
}
