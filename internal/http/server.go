package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmehdipour/drip/internal/config"
	"github.com/jmehdipour/drip/internal/funnel"
	"github.com/jmehdipour/drip/internal/http/middleware"
	"github.com/jmehdipour/drip/internal/metrics"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the services the operator API fronts.
type Deps struct {
	Service      *funnel.Service
	Manager      *funnel.Manager
	Orchestrator *funnel.Orchestrator
	Analytics    *funnel.Analytics
	Redis        *redis.Client // nil disables rate limiting
	Log          *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, d Deps) *Server {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: validator.New()}
	e.Use(echoMid.Recover(), requestLogger(log))

	metrics.MustRegister(prometheus.DefaultRegisterer)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	authMW := middleware.APIKeyMiddleware(cfg.Operator.APIKeys)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            cfg.RateLimit.RPS,
		Window:         time.Second,
		RetryAfterHint: true,
	})

	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/funnels", createFunnelHandler(d.Service, log))
	v1.GET("/funnels", listFunnelsHandler(d.Service, log))
	v1.GET("/funnels/:id", getFunnelHandler(d.Service, log))
	v1.PATCH("/funnels/:id", updateFunnelHandler(d.Service, log))
	v1.DELETE("/funnels/:id", deleteFunnelHandler(d.Service, log))
	v1.POST("/funnels/:id/active", setActiveHandler(d.Service, log))

	v1.POST("/funnels/:id/steps", addStepHandler(d.Service, log))
	v1.PUT("/funnels/:id/steps/:index", updateStepHandler(d.Service, log))
	v1.DELETE("/funnels/:id/steps/:index", deleteStepHandler(d.Service, log))

	v1.POST("/funnels/:id/enroll", enrollHandler(d.Manager, log))
	v1.POST("/funnels/:id/unsubscribe", unsubscribeHandler(d.Manager, log))

	v1.POST("/funnels/:id/run", runFunnelHandler(d.Orchestrator, log))
	v1.POST("/run", runAllHandler(d.Orchestrator, log))

	v1.GET("/funnels/:id/stats", statsHandler(d.Analytics, log))
	v1.GET("/funnels/:id/attempts", listAttemptsHandler(d.Analytics, log))

	return &Server{e: e, log: log}
}

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v echoMid.RequestLoggerValues) error {
			log.Info("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
