package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/drip/internal/funnel"
	"github.com/jmehdipour/drip/internal/model"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type filterReq struct {
	Kind     string `json:"kind" validate:"required,oneof=all opted_in recent source offering"`
	Days     int    `json:"days" validate:"gte=0,lte=3650"`
	Source   string `json:"source" validate:"max=100"`
	Offering string `json:"offering" validate:"max=100"`
}

type recipientReq struct {
	Email string `json:"email" validate:"required,max=320"`
	Name  string `json:"name" validate:"max=200"`
}

// enrollReq takes either a filter over recorded contacts or an explicit list.
type enrollReq struct {
	Filter     *filterReq     `json:"filter"`
	Recipients []recipientReq `json:"recipients" validate:"max=10000,dive"`
}

type unsubscribeReq struct {
	Email string `json:"email" validate:"required,email"`
}

func enrollHandler(m *funnel.Manager, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req enrollReq
		if err := bind(c, &req); err != nil {
			return badRequest(c, err)
		}
		ctx := c.Request().Context()
		funnelID := c.Param("id")

		var (
			res funnel.EnrollResult
			err error
		)
		switch {
		case req.Filter != nil && len(req.Recipients) > 0:
			return badRequest(c, errors.New("give either filter or recipients, not both"))
		case req.Filter != nil:
			kind, _ := model.ParseFilterKind(req.Filter.Kind)
			res, err = m.EnrollFilter(ctx, funnelID, model.RecipientFilter{
				Kind:     kind,
				Days:     req.Filter.Days,
				Source:   req.Filter.Source,
				Offering: req.Filter.Offering,
			})
		case len(req.Recipients) > 0:
			recips := make([]model.Recipient, 0, len(req.Recipients))
			for _, r := range req.Recipients {
				recips = append(recips, model.Recipient{Email: r.Email, Name: r.Name})
			}
			res, err = m.Enroll(ctx, funnelID, recips)
		default:
			return badRequest(c, errors.New("filter or recipients required"))
		}
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func unsubscribeHandler(m *funnel.Manager, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req unsubscribeReq
		if err := bind(c, &req); err != nil {
			return badRequest(c, err)
		}
		changed, err := m.Unsubscribe(c.Request().Context(), c.Param("id"), req.Email)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, map[string]bool{"unsubscribed": changed})
	}
}
