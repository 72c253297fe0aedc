package httpserver

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/ssebroadcast/internal/broadcast"
	"github.com/pscheid92/ssebroadcast/internal/platform/config"
	"github.com/pscheid92/ssebroadcast/web"
)

type streamHub interface {
	Subscribe(ctx context.Context, channel string) (*broadcast.Subscriber, error)
	Publish(ctx context.Context, channel, payload string) error
	ClientCount(channel string) int
	Stats() (channels, subscribers int)
}

// producer is a background publisher bound to one channel that only runs while the channel has subscribers.
type producer interface {
	Channel() string
	EnsureRunning(ctx context.Context) bool
}

type usageSampler interface {
	CPUUsage(ctx context.Context) ([]float64, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	hub      streamHub
	producer producer
	sampler  usageSampler

	// background bounds producers started by stream handlers; they must outlive the request.
	background context.Context

	limits       *streamLimits
	upgrader     websocket.Upgrader
	templates    *template.Template
	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer wires the HTTP transport. ctx bounds background work started on behalf of requests.
func NewServer(ctx context.Context, cfg *config.Config, clock clockwork.Clock, hub streamHub, producer producer, sampler usageSampler, healthChecks []HealthCheck) (*Server, error) {
	templates, err := template.ParseFS(web.TemplateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		clock:        clock,
		hub:          hub,
		producer:     producer,
		sampler:      sampler,
		background:   ctx,
		limits:       newStreamLimits(clock, int64(cfg.MaxStreamConnections), cfg.MaxStreamsPerIP, cfg.StreamConnectRate, cfg.StreamConnectBurst),
		upgrader:     newUpgrader(cfg.AppEnv == "development"),
		templates:    templates,
		healthChecks: healthChecks,
		startTime:    clock.Now(),
	}

	srv.registerRoutes()

	return srv, nil
}

func newUpgrader(isDevelopment bool) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     newCheckOrigin(isDevelopment),
	}
}

func (s *Server) Start() error {
	addr := s.config.Addr()
	slog.Info("Starting server", "addr", addr)
	if err := s.echo.Start(addr); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router, mainly for httptest servers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) renderTemplate(c echo.Context, name string, data any) error {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("Template execution failed", "path", c.Request().URL.Path, "error", err)
		if err := c.String(http.StatusInternalServerError, "Failed to render page"); err != nil {
			return fmt.Errorf("failed to send error response: %w", err)
		}
		return nil
	}
	if err := c.HTMLBlob(http.StatusOK, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send HTML response: %w", err)
	}
	return nil
}
