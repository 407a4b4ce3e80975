package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(mw echo.MiddlewareFunc, req *http.Request) *httptest.ResponseRecorder {
	e := echo.New()
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, UserID(c))
	}, mw)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestValidateToken(t *testing.T) {
	token, err := SignToken("alice", "secret", time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)

	_, err = ValidateToken(token, "other")
	assert.Error(t, err)

	_, err = ValidateToken(token, "")
	assert.Error(t, err)

	expired, err := SignToken("alice", "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken(expired, "secret")
	assert.Error(t, err)
}

func TestUserMiddlewareCookieRefreshes(t *testing.T) {
	token, err := SignToken("alice", "secret", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: token})
	rec := serve(NewUserMiddleware("secret"), req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, cookieName, cookies[0].Name)
	assert.Equal(t, int(tokenExpiry.Seconds()), cookies[0].MaxAge)
}

func TestUserMiddlewareBearer(t *testing.T) {
	token, err := SignToken("bob", "secret", time.Minute)
	require.NoError(t, err)
	scheduler, err := SignToken(SchedulerSubject, "secret", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
		{"scheduler is not a user", "Bearer " + scheduler, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"basic", "Basic YWRtaW46YWRtaW4=", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			assert.Equal(t, tt.want, serve(NewUserMiddleware("secret"), req).Code)
		})
	}
}

func TestSchedulerMiddlewareWithoutSecrets(t *testing.T) {
	mw := NewSchedulerMiddleware(SchedulerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/?token=", nil)
	req.Header.Set(SchedulerHeader, "")
	assert.Equal(t, http.StatusUnauthorized, serve(mw, req).Code)
}

func TestSecretMatches(t *testing.T) {
	assert.True(t, secretMatches("s3cret", "s3cret"))
	assert.False(t, secretMatches("s3cret", "s3cre"))
	assert.False(t, secretMatches("", ""))
	assert.False(t, secretMatches("x", ""))
}
