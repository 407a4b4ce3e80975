package handler

import (
	"net/http"

	"github.com/abdusco/linkpage/internal/auth"
	"github.com/labstack/echo/v4"
)

type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Me returns the user id the session belongs to.
func (h *AuthHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"user_id": auth.UserID(c)})
}

// Logout handles GET /logout - clears the JWT cookie and redirects to /
func (h *AuthHandler) Logout(c echo.Context) error {
	c.SetCookie(auth.ExpireCookie())
	return c.Redirect(http.StatusFound, "/")
}
