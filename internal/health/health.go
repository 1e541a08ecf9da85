// Package health reports readiness of the stores and policy engine the service depends on.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"builder-claims/backend/internal/platform/logging"
)

const checkTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is satisfied by the OPA evaluator.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check is one named readiness probe.
type Check func(ctx context.Context) error

// Report is the outcome of running every check.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool { return r.Status == "ok" }

// Checker runs named readiness checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
	logger *zap.Logger
}

// NewChecker returns a Checker with no checks; it reports healthy until checks are added.
func NewChecker(logger *zap.Logger) *Checker {
	return &Checker{checks: make(map[string]Check), logger: logging.OrNop(logger)}
}

// Add registers a check under name. A nil check is ignored.
func (c *Checker) Add(name string, check Check) *Checker {
	if check == nil {
		return c
	}
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
	return c
}

// AddPinger registers p.PingContext under name when p is non-nil.
func (c *Checker) AddPinger(name string, p Pinger) *Checker {
	if p == nil {
		return c
	}
	return c.Add(name, p.PingContext)
}

// AddPolicy registers p.HealthCheck under name when p is non-nil.
func (c *Checker) AddPolicy(name string, p PolicyChecker) *Checker {
	if p == nil {
		return c
	}
	return c.Add(name, p.HealthCheck)
}

// Check runs every check with a short timeout.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for n := range c.checks {
		names = append(names, n)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	rep := Report{Status: "ok", Checks: make(map[string]string, len(names))}
	for _, n := range names {
		c.mu.RLock()
		check := c.checks[n]
		c.mu.RUnlock()
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check(cctx)
		cancel()
		if err != nil {
			rep.Status = "degraded"
			rep.Checks[n] = err.Error()
			continue
		}
		rep.Checks[n] = "ok"
	}
	return rep
}

// Watch updates the gRPC health server every interval until ctx is done.
func (c *Checker) Watch(ctx context.Context, hs *health.Server, interval time.Duration) {
	update := func() {
		rep := c.Check(ctx)
		status := healthpb.HealthCheckResponse_SERVING
		if !rep.Healthy() {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			c.logger.Warn("health: not ready", zap.Any("checks", rep.Checks))
		}
		hs.SetServingStatus("", status)
	}
	update()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			update()
		}
	}
}

// RegisterRoutes mounts /healthz (liveness) and /readyz (readiness) on e.
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, Report{Status: "ok"})
	})
	e.GET("/readyz", func(ctx echo.Context) error {
		rep := c.Check(ctx.Request().Context())
		code := http.StatusOK
		if !rep.Healthy() {
			code = http.StatusServiceUnavailable
		}
		return ctx.JSON(code, rep)
	})
}
