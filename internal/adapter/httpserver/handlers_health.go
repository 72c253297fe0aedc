package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/ssebroadcast/internal/platform/version"
)

const (
	startupCheckTimeout   = 2 * time.Second
	readinessCheckTimeout = 5 * time.Second

	checkOK = "ok"
)

// HealthCheck is a named readiness check, e.g. "hub" or "cpu_sampler".
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type livenessResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Channels      int     `json:"channels"`
	Subscribers   int     `json:"subscribers"`
	Streams       int64   `json:"streams"`
}

// readinessResponse lists every check, "ok" or the error it returned.
type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.healthHandler(startupCheckTimeout))
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.healthHandler(readinessCheckTimeout))
	s.echo.GET("/version", s.handleVersion)
}

// handleLiveness answers as long as the process serves HTTP and reports what the hub is carrying.
func (s *Server) handleLiveness(c echo.Context) error {
	channels, subscribers := s.hub.Stats()
	resp := livenessResponse{
		Status:        "ok",
		UptimeSeconds: s.clock.Since(s.startTime).Seconds(),
		Channels:      channels,
		Subscribers:   subscribers,
		Streams:       s.limits.active(),
	}

	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// healthHandler runs every health check within timeout. Any failing check makes the answer 503.
func (s *Server) healthHandler(timeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		resp, healthy := s.evaluateChecks(ctx)
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}

		if err := c.JSON(status, resp); err != nil {
			return fmt.Errorf("failed to write health response: %w", err)
		}
		return nil
	}
}

func (s *Server) evaluateChecks(ctx context.Context) (readinessResponse, bool) {
	resp := readinessResponse{Status: "ready", Checks: make(map[string]string, len(s.healthChecks))}
	healthy := true

	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			resp.Checks[hc.Name] = err.Error()
			healthy = false
			continue
		}
		resp.Checks[hc.Name] = checkOK
	}

	if !healthy {
		resp.Status = "unhealthy"
	}
	return resp, healthy
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
