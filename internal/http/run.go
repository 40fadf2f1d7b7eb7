package http

import (
	"net/http"

	"github.com/jmehdipour/drip/internal/funnel"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func runFunnelHandler(o *funnel.Orchestrator, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := o.Run(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func runAllHandler(o *funnel.Orchestrator, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		sum, err := o.RunAll(c.Request().Context())
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, sum)
	}
}
