package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
)

const operatorKey = "operator"

// OperatorFromCtx returns the label of the operator key that authenticated the request.
func OperatorFromCtx(c echo.Context) (string, bool) {
	v, ok := c.Get(operatorKey).(string)
	return v, ok && v != ""
}

// APIKeyMiddleware authenticates operator requests using the X-API-Key header
// against the configured key list. With no keys configured every request is
// let through as "anonymous" (local development).
func APIKeyMiddleware(keys []string) echo.MiddlewareFunc {
	valid := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			valid = append(valid, k)
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(valid) == 0 {
				c.Set(operatorKey, "anonymous")
				return next(c)
			}
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			for i, k := range valid {
				if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
					c.Set(operatorKey, "op-"+strconv.Itoa(i))
					return next(c)
				}
			}
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
		}
	}
}
