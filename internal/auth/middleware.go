package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	SchedulerHeader = "X-Scheduler-Token"
	userIDKey       = "user_id"
)

type strategy func(c echo.Context) (bool, error)

// chain accepts the request as soon as one strategy succeeds.
func chain(strategies ...strategy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, s := range strategies {
				ok, err := s(c)
				if err != nil {
					log.Debug().Err(err).Str("path", c.Path()).Msg("auth strategy failed")
					continue
				}
				if ok {
					return next(c)
				}
			}
			return echo.ErrUnauthorized
		}
	}
}

// SchedulerConfig holds the secrets a trigger call may present.
type SchedulerConfig struct {
	// JWTSecret verifies bearer tokens whose subject is SchedulerSubject.
	JWTSecret string
	// HeaderSecret is compared with the X-Scheduler-Token header.
	HeaderSecret string
	// QuerySecret is compared with the token query parameter.
	QuerySecret string
}

// NewSchedulerMiddleware guards the trigger endpoints. A caller passes with
// a scheduler JWT, the scheduler header or the shared query token.
func NewSchedulerMiddleware(cfg SchedulerConfig) echo.MiddlewareFunc {
	return chain(
		func(c echo.Context) (bool, error) {
			token := bearerToken(c.Request())
			if token == "" || cfg.JWTSecret == "" {
				return false, nil
			}
			claims, err := ValidateToken(token, cfg.JWTSecret)
			if err != nil {
				return false, fmt.Errorf("scheduler token: %w", err)
			}
			return claims.Subject == SchedulerSubject, nil
		},
		func(c echo.Context) (bool, error) {
			return secretMatches(c.Request().Header.Get(SchedulerHeader), cfg.HeaderSecret), nil
		},
		func(c echo.Context) (bool, error) {
			return secretMatches(c.QueryParam("token"), cfg.QuerySecret), nil
		},
	)
}

func secretMatches(given, want string) bool {
	if given == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(want)) == 1
}

// NewUserMiddleware authenticates page owners by a JWT in the auth cookie
// or the Authorization header and stores the user id on the context.
func NewUserMiddleware(jwtSecret string) echo.MiddlewareFunc {
	return chain(
		func(c echo.Context) (bool, error) {
			cookie, err := c.Cookie(cookieName)
			if err != nil || cookie == nil || cookie.Value == "" {
				return false, nil
			}
			claims, err := ValidateToken(cookie.Value, jwtSecret)
			if err != nil {
				return false, err
			}

			refreshed, err := generateCookie(claims.Subject, jwtSecret, c.IsTLS())
			if err != nil {
				return false, fmt.Errorf("failed to generate cookie: %w", err)
			}
			c.SetCookie(refreshed)
			c.Set(userIDKey, claims.Subject)
			return true, nil
		},
		func(c echo.Context) (bool, error) {
			token := bearerToken(c.Request())
			if token == "" {
				return false, nil
			}
			claims, err := ValidateToken(token, jwtSecret)
			if err != nil {
				return false, err
			}
			if claims.Subject == SchedulerSubject {
				return false, nil
			}
			c.Set(userIDKey, claims.Subject)
			return true, nil
		},
	)
}

// UserID returns the id stored by the user middleware.
func UserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get(echo.HeaderAuthorization), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func generateCookie(userID, secret string, secure bool) (*http.Cookie, error) {
	token, err := SignToken(userID, secret, tokenExpiry)
	if err != nil {
		return nil, err
	}

	return &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(tokenExpiry.Seconds()),
	}, nil
}

func ExpireCookie() *http.Cookie {
	return &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	}
}
