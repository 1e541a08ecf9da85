package server

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	audithandler "builder-claims/backend/internal/audit/handler"
	claimhandler "builder-claims/backend/internal/claim/handler"
	"builder-claims/backend/internal/health"
	invalidationhandler "builder-claims/backend/internal/invalidation/handler"
	otphandler "builder-claims/backend/internal/otp/handler"
	"builder-claims/backend/internal/platform/httpx"
	"builder-claims/backend/internal/platform/logging"
	sessionhandler "builder-claims/backend/internal/session/handler"
)

// Deps holds the handlers mounted by NewHTTPServer. Nil handlers are not mounted.
type Deps struct {
	Logger        *zap.Logger
	Health        *health.Checker
	Claims        *claimhandler.Handler
	Sessions      *sessionhandler.Handler
	Audit         *audithandler.Handler
	Invalidations *invalidationhandler.Handler
	// DevOTP exposes issued codes; set only when dev OTP mode is enabled outside production.
	DevOTP *otphandler.DevHandler
	// RateLimiter throttles requests per client IP. Nil disables throttling.
	RateLimiter *httpx.IPRateLimiter
}

// NewHTTPServer returns the echo instance serving the public, admin, and dev routes.
func NewHTTPServer(d Deps) *echo.Echo {
	logger := logging.OrNop(d.Logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = httpx.NewValidator()
	e.HTTPErrorHandler = httpx.ErrorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(httpx.ClientIPMiddleware())
	e.Use(httpx.RequestLogger(logger))
	if d.RateLimiter != nil {
		e.Use(d.RateLimiter.Middleware(logger))
	}

	if d.Health != nil {
		d.Health.RegisterRoutes(e)
	}

	v1 := e.Group("/v1")
	if d.Sessions != nil {
		v1.Use(d.Sessions.VisitRecorder())
		d.Sessions.RegisterRoutes(v1)
	}
	if d.Claims != nil {
		d.Claims.RegisterRoutes(v1)
	}
	if d.Invalidations != nil {
		d.Invalidations.RegisterRoutes(v1)
	}

	admin := v1.Group("/admin")
	if d.Audit != nil {
		d.Audit.RegisterRoutes(admin)
	}
	if d.Sessions != nil {
		d.Sessions.RegisterAdminRoutes(admin)
	}

	if d.DevOTP != nil {
		d.DevOTP.RegisterRoutes(e.Group("/dev"))
		logger.Warn("dev OTP endpoint enabled; never use in production")
	}
	return e
}
