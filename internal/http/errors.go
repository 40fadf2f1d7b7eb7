package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jmehdipour/drip/internal/funnel"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i any) error {
	return rv.v.Struct(i)
}

// bind decodes and validates req; the returned error text is safe to show the caller.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return errors.New("bad request")
	}
	if err := c.Validate(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid %s: failed %s", verrs[0].Field(), verrs[0].Tag())
		}
		return err
	}
	return nil
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
}

// writeError maps domain sentinels to status codes.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	switch {
	case errors.Is(err, funnel.ErrFunnelNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "funnel not found"})
	case errors.Is(err, funnel.ErrStepNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "step not found"})
	case errors.Is(err, funnel.ErrInvalid):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, funnel.ErrLocked):
		return c.JSON(http.StatusConflict, map[string]string{"error": "funnel is being processed elsewhere"})
	case errors.Is(err, funnel.ErrAnalyticsDisabled):
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": err.Error()})
	default:
		log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
