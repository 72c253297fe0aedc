package httpserver

import (
	"net/url"

	"github.com/labstack/echo/v4"
)

// pathParam returns the decoded value of a path parameter. Echo matches routes against
// URL.RawPath when the request has one, and then the parameter is still escaped; otherwise it
// comes from the already decoded URL.Path and must not be unescaped again.
func pathParam(c echo.Context, name string) string {
	value := c.Param(name)
	if c.Request().URL.RawPath == "" {
		return value
	}
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}
	return value
}
