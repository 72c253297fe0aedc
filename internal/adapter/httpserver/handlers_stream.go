package httpserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/ssebroadcast/internal/broadcast"
	"github.com/pscheid92/ssebroadcast/internal/metrics"
	apperrors "github.com/pscheid92/ssebroadcast/internal/platform/errors"
)

const (
	writeWait          = 5 * time.Second
	defaultPongWait    = 30 * time.Second
	pongWaitMultiplier = 3

	transportSSE       = "sse"
	transportWebSocket = "websocket"
)

// handleEvents streams a channel as Server-Sent Events until the client goes away
// or the hub drops the subscriber.
func (s *Server) handleEvents(c echo.Context) error {
	channel := pathParam(c, "channel")
	if channel == "" {
		return apperrors.ValidationError("channel is required")
	}

	release, err := s.acquireStream(c)
	if err != nil {
		return err
	}
	defer release()

	sub, err := s.subscribe(c, channel)
	if err != nil {
		return err
	}
	defer sub.Close()

	s.ensureProducer(channel)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	metrics.SSEConnectionsCurrent.Inc()
	start := s.clock.Now()
	defer func() {
		metrics.SSEConnectionsCurrent.Dec()
		metrics.StreamConnectionDuration.WithLabelValues(transportSSE).Observe(s.clock.Since(start).Seconds())
	}()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return nil
		case msg := <-sub.Messages():
			if _, err := io.WriteString(res, formatEvent(msg)); err != nil {
				slog.DebugContext(ctx, "SSE write failed", "channel", channel, "subscriber_id", sub.ID().String(), "error", err)
				return nil
			}
			res.Flush()
		}
	}
}

// formatEvent renders one queue item as an SSE frame. Multi-line payloads become one
// data field per line; probes become a comment line that EventSource ignores.
func formatEvent(msg broadcast.Message) string {
	if msg.IsPing() {
		return ": " + msg.Data + "\n\n"
	}

	var b strings.Builder
	for _, line := range strings.Split(msg.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

// handleWebSocket streams the same hub subscription over a WebSocket. Data messages are text frames,
// probes are ping control frames. Anything the client sends is discarded.
func (s *Server) handleWebSocket(c echo.Context) error {
	channel := pathParam(c, "channel")
	if channel == "" {
		return apperrors.ValidationError("channel is required")
	}

	release, err := s.acquireStream(c)
	if err != nil {
		return err
	}
	defer release()

	sub, err := s.subscribe(c, channel)
	if err != nil {
		return err
	}
	defer sub.Close()

	ctx := c.Request().Context()
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		slog.DebugContext(ctx, "WebSocket upgrade failed", "channel", channel, "error", err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	s.ensureProducer(channel)

	metrics.WebSocketConnectionsCurrent.Inc()
	start := s.clock.Now()
	defer func() {
		metrics.WebSocketConnectionsCurrent.Dec()
		metrics.StreamConnectionDuration.WithLabelValues(transportWebSocket).Observe(s.clock.Since(start).Seconds())
	}()

	s.streamWebSocket(ctx, conn, sub)
	return nil
}

func (s *Server) streamWebSocket(ctx context.Context, conn *websocket.Conn, sub *broadcast.Subscriber) {
	pongWait := s.pongWait()
	_ = conn.SetReadDeadline(s.clock.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(s.clock.Now().Add(pongWait))
	})

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			_ = conn.SetReadDeadline(s.clock.Now().Add(pongWait))
		}
	}()

	for {
		select {
		case <-readerDone:
			return
		case <-sub.Done():
			closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription ended")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, s.clock.Now().Add(writeWait))
			return
		case msg := <-sub.Messages():
			if err := s.writeWebSocket(conn, msg); err != nil {
				slog.DebugContext(ctx, "WebSocket write failed", "channel", sub.Channel(), "subscriber_id", sub.ID().String(), "error", err)
				return
			}
		}
	}
}

func (s *Server) writeWebSocket(conn *websocket.Conn, msg broadcast.Message) error {
	deadline := s.clock.Now().Add(writeWait)
	if msg.IsPing() {
		if err := conn.WriteControl(websocket.PingMessage, []byte(msg.Data), deadline); err != nil {
			return fmt.Errorf("failed to write ping: %w", err)
		}
		return nil
	}

	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Data)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// pongWait is how long a WebSocket may stay silent; it spans several sweep probes.
func (s *Server) pongWait() time.Duration {
	if s.config.SweepInterval <= 0 {
		return defaultPongWait
	}
	return pongWaitMultiplier * s.config.SweepInterval
}

func (s *Server) acquireStream(c echo.Context) (func(), error) {
	ip := c.RealIP()
	ok, reason := s.limits.acquire(ip)
	if !ok {
		metrics.StreamConnectionsRejected.WithLabelValues(string(reason)).Inc()
		if reason == limitReasonRate {
			return nil, apperrors.RateLimitedError("too many new connections").WithField("reason", string(reason))
		}
		return nil, apperrors.UnavailableError("connection limit reached", nil).WithField("reason", string(reason))
	}
	return func() { s.limits.release(ip) }, nil
}

func (s *Server) subscribe(c echo.Context, channel string) (*broadcast.Subscriber, error) {
	sub, err := s.hub.Subscribe(c.Request().Context(), channel)
	if err != nil {
		return nil, apperrors.UnavailableError("failed to subscribe to channel", err).WithField("channel", channel)
	}
	return sub, nil
}

// ensureProducer starts the channel's background producer once a subscriber is registered.
func (s *Server) ensureProducer(channel string) {
	if s.producer == nil || channel != s.producer.Channel() {
		return
	}
	s.producer.EnsureRunning(s.background)
}
