package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gate-checkin/models"
	"gate-checkin/security"
	"gate-checkin/services"
)

type RouterConfig struct {
	Ledger   Ledger
	Issuer   *security.TokenIssuer
	Limiter  *security.RateLimiter
	Notifier services.Notifier
	Metrics  Recorder
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	Health   func(ctx context.Context) error
}

// NewRouter builds the reference backend's HTTP API.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	checkIn := NewCheckInHandler(cfg.Ledger, cfg.Notifier, cfg.Metrics)
	admin := NewAdminHandler(cfg.Ledger, cfg.Notifier, cfg.Metrics)
	auth := NewAuthHandler(cfg.Ledger, cfg.Issuer)

	e.GET("/health", func(c echo.Context) error {
		if cfg.Health != nil {
			if err := cfg.Health(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	if cfg.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	loginMiddleware := []echo.MiddlewareFunc{}
	if cfg.Limiter != nil {
		loginMiddleware = append(loginMiddleware, cfg.Limiter.LoginGuard())
	}
	e.POST("/auth/login", auth.Login, loginMiddleware...)

	gate := []echo.MiddlewareFunc{cfg.Issuer.AuthRequired()}
	if cfg.Limiter != nil {
		gate = append(gate, cfg.Limiter.GateRateLimit())
	}
	gate = append(gate, security.RequireRoles(models.RoleAgent, models.RoleAdmin))

	g := e.Group("", gate...)
	g.PATCH("/tickets/:id/checkin", checkIn.CheckIn)
	g.GET("/admin/stats", admin.GetStats)
	g.GET("/admin/tickets/lookup", admin.LookupTickets)
	g.POST("/admin/tickets/bulk-checkin", admin.BulkCheckIn)

	return e
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			slog.Debug("request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration", time.Since(start),
				"request_id", c.Request().Header.Get("X-Request-ID"),
			)
			return err
		}
	}
}
