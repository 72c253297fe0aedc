package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/ssebroadcast/internal/platform/errors"
)

const publishedResponse = "msg sent"

type publishRequest struct {
	Channel string `json:"channel"`
	Msg     string `json:"msg"`
}

func (s *Server) handlePublishPath(c echo.Context) error {
	return s.publish(c, pathParam(c, "channel"), pathParam(c, "msg"))
}

func (s *Server) handlePublishJSON(c echo.Context) error {
	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid JSON body").WithField("cause", err.Error())
	}

	return s.publish(c, req.Channel, req.Msg)
}

func (s *Server) publish(c echo.Context, channel, msg string) error {
	if channel == "" {
		return apperrors.ValidationError("channel is required")
	}

	if err := s.hub.Publish(c.Request().Context(), channel, msg); err != nil {
		return apperrors.InternalError("failed to publish message", err).WithField("channel", channel)
	}

	if err := c.String(http.StatusOK, publishedResponse); err != nil {
		return fmt.Errorf("failed to send publish response: %w", err)
	}
	return nil
}
