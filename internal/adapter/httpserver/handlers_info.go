package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/ssebroadcast/internal/platform/errors"
	"github.com/pscheid92/ssebroadcast/internal/sysinfo"
)

type indexPage struct {
	CPUChannel string
}

type channelInfo struct {
	Channel string `json:"channel"`
	Clients int    `json:"clients"`
}

func (s *Server) handleIndex(c echo.Context) error {
	return s.renderTemplate(c, "index.html", indexPage{CPUChannel: s.config.CPUChannel})
}

func (s *Server) handleSysinfo(c echo.Context) error {
	usage, err := s.sampler.CPUUsage(c.Request().Context())
	if errors.Is(err, sysinfo.ErrSamplerUnavailable) {
		return apperrors.UnavailableError("cpu usage temporarily unavailable", err)
	}
	if err != nil {
		return apperrors.InternalError("failed to read cpu usage", err)
	}

	if err := c.JSON(http.StatusOK, usage); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleChannelInfo(c echo.Context) error {
	channel := pathParam(c, "channel")
	info := channelInfo{Channel: channel, Clients: s.hub.ClientCount(channel)}

	if err := c.JSON(http.StatusOK, info); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
