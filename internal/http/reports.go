package http

import (
	"net/http"
	"strconv"

	"github.com/jmehdipour/drip/internal/funnel"
	"github.com/jmehdipour/drip/internal/model"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func statsHandler(a *funnel.Analytics, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		st, err := a.Stats(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, st)
	}
}

// listAttemptsHandler serves the ClickHouse send log with outcome filter and paging.
func listAttemptsHandler(a *funnel.Analytics, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		offset, _ := strconv.Atoi(c.QueryParam("offset"))
		outcome := model.AttemptOutcome(c.QueryParam("outcome"))

		rows, err := a.Attempts(c.Request().Context(), c.Param("id"), outcome, limit, offset)
		if err != nil {
			return writeError(c, log, err)
		}
		if rows == nil {
			rows = []model.SendAttempt{}
		}
		return c.JSON(http.StatusOK, map[string]any{
			"items":  rows,
			"count":  len(rows),
			"limit":  limit,
			"offset": offset,
		})
	}
}
