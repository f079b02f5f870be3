package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"
)

// ifMatchVersion parses the mandatory If-Match concurrency header. ETag-style
// quoting is accepted; a missing or non-integer value is a 400, never a
// silent unconditional write.
func ifMatchVersion(c *echo.Context) (int64, error) {
	raw := strings.TrimSpace(c.Request().Header.Get("If-Match"))
	if raw == "" {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "If-Match header is required")
	}
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "If-Match must be an integer version")
	}
	return v, nil
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(c *echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return v, nil
}

// bindOptional binds the request body into dest when one is present. Used by
// endpoints like approval decisions where the body is allowed to be empty.
func bindOptional(c *echo.Context, dest any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := c.Bind(dest); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
