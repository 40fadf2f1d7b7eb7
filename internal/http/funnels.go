package http

import (
	"net/http"
	"strconv"

	"github.com/jmehdipour/drip/internal/funnel"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type funnelReq struct {
	Name          *string `json:"name" validate:"omitempty,max=200"`
	Description   *string `json:"description" validate:"omitempty,max=2000"`
	Trigger       *string `json:"trigger" validate:"omitempty,max=120"`
	ChainFunnelID *string `json:"chain_funnel_id" validate:"omitempty,max=64"`
}

func (r funnelReq) input() funnel.FunnelInput {
	return funnel.FunnelInput{Name: r.Name, Description: r.Description, Trigger: r.Trigger, ChainFunnelID: r.ChainFunnelID}
}

type activeReq struct {
	Active *bool `json:"active" validate:"required"`
}

type stepReq struct {
	Index       int     `json:"index" validate:"gte=0"`
	Subject     *string `json:"subject" validate:"omitempty,max=300"`
	Body        *string `json:"body" validate:"omitempty,max=100000"`
	DelayDays   *int    `json:"delay_days" validate:"omitempty,gte=0,lte=3650"`
	DelayHours  *int    `json:"delay_hours" validate:"omitempty,gte=0,lte=87600"`
	CTAURL      *string `json:"cta_url" validate:"omitempty,max=2000"`
	CTALabel    *string `json:"cta_label" validate:"omitempty,max=200"`
	SenderName  *string `json:"sender_name" validate:"omitempty,max=200"`
	SenderEmail *string `json:"sender_email" validate:"omitempty,max=320"`
	Active      *bool   `json:"active"`
}

func (r stepReq) input() funnel.StepInput {
	return funnel.StepInput{
		Index:       r.Index,
		Subject:     r.Subject,
		Body:        r.Body,
		DelayDays:   r.DelayDays,
		DelayHours:  r.DelayHours,
		CTAURL:      r.CTAURL,
		CTALabel:    r.CTALabel,
		SenderName:  r.SenderName,
		SenderEmail: r.SenderEmail,
		Active:      r.Active,
	}
}

func stepIndex(c echo.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	return i, err == nil && i > 0
}

func createFunnelHandler(svc *funnel.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req funnelReq
		if err := bind(c, &req); err != nil {
			return badRequest(c, err)
		}
		f, err := svc.CreateFunnel(c.Request().Context(), req.input())
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusCreated, f)
	}
}

func listFunnelsHandler(svc *funnel.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		list, err := svc.ListFunnels(c.Request().Context())
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"items": list, "count": len(list)})
	}
}

func getFunnelHandler(svc *funnel.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		f, err := svc.GetFunnel(ctx, c.Param("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		steps, err := svc.ListSteps(ctx, f.ID)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"funnel": f, "steps": steps})
	}
}

func updateFunnelHandler(svc *funnel.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req funnelReq
		if err := bind(c, &req); err != nil {
			return badRequest(c, err)
		}
		f, err := svc.UpdateFunnel(c.Request().Context(), c.Param("id"), req.input())
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, f)
	}
}

func deleteFunnelHandler(svc *funnel.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.DeleteFunnel(c.Request().Context(), c.Param("id")); err != nil {
			return writeError(c, log, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func setActiveHandler(svc *funnel.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req activeReq
		if err := bind(c, &req); err != nil {
			return badRequest(c, err)
		}
		f, err := svc.SetActive(c.Request().Context(), c.Param("id"), *req.Active)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, f)
	}
}

func addStepHandler(svc *funnel.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req stepReq
		if err := bind(c, &req); err != nil {
			return badRequest(c, err)
		}
		st, err := svc.AddStep(c.Request().Context(), c.Param("id"), req.input())
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusCreated, st)
	}
}

func updateStepHandler(svc *funnel.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		idx, ok := stepIndex(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid step index"})
		}
		var req stepReq
		if err := bind(c, &req); err != nil {
			return badRequest(c, err)
		}
		st, err := svc.UpdateStep(c.Request().Context(), c.Param("id"), idx, req.input())
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, st)
	}
}

func deleteStepHandler(svc *funnel.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		idx, ok := stepIndex(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid step index"})
		}
		if err := svc.DeleteStep(c.Request().Context(), c.Param("id"), idx); err != nil {
			return writeError(c, log, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
