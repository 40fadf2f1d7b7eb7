package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(e *echo.Echo, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func echoWith(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/x", func(c echo.Context) error {
		op, _ := OperatorFromCtx(c)
		return c.String(http.StatusOK, op)
	}, mw...)
	return e
}

func TestAPIKeyMiddleware(t *testing.T) {
	e := echoWith(APIKeyMiddleware([]string{"alpha", " beta "}))

	assert.Equal(t, http.StatusUnauthorized, serve(e, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(e, "gamma").Code)

	rec := serve(e, "beta")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "op-1", rec.Body.String())
}

func TestAPIKeyMiddleware_NoKeysConfigured(t *testing.T) {
	rec := serve(echoWith(APIKeyMiddleware(nil)), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestRateLimitMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	now := time.Date(2025, 1, 1, 0, 0, 0, 250_000_000, time.UTC)
	e := echoWith(
		APIKeyMiddleware([]string{"alpha", "beta"}),
		RateLimitMiddleware(RateLimitConfig{
			Redis: rdb, RPS: 2, RetryAfterHint: true,
			Now: func() time.Time { return now },
		}),
	)

	require.Equal(t, http.StatusOK, serve(e, "alpha").Code)
	require.Equal(t, http.StatusOK, serve(e, "alpha").Code)
	rec := serve(e, "alpha")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, serve(e, "beta").Code, "budgets are per operator")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, serve(e, "alpha").Code, "next window")
}
