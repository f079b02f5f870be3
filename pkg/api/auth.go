package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"
)

// defaultActor is the principal recorded for requests that carry no
// X-Agent-ID header.
const defaultActor = "api-client"

// extractActor resolves the acting principal for event provenance and ACL
// checks. The X-Agent-ID header is trusted once the API key has passed;
// agents are collaborators here, not adversaries.
func extractActor(c *echo.Context) string {
	if agent := strings.TrimSpace(c.Request().Header.Get("X-Agent-ID")); agent != "" {
		return agent
	}
	return defaultActor
}

// authExempt reports whether the path is reachable without an API key.
// Discovery documents and health stay open for peers and probes, and the
// federation ingress endpoints authenticate by envelope signature instead.
func authExempt(path string) bool {
	if path == "/health" || strings.HasPrefix(path, "/.well-known/") {
		return true
	}
	switch path {
	case "/api/v1/federation/receive", "/api/v1/federation/callbacks":
		return true
	}
	return false
}

// apiKeyAuth enforces the configured X-API-Key allowlist. An empty allowlist
// disables the check entirely, which is the single-operator development
// setup.
func (s *Server) apiKeyAuth() echo.MiddlewareFunc {
	keys := make(map[string]bool, len(s.cfg.APIKeys))
	for _, k := range s.cfg.APIKeys {
		keys[k] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if len(keys) == 0 || authExempt(c.Request().URL.Path) {
				return next(c)
			}
			if !keys[c.Request().Header.Get("X-API-Key")] {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing or unknown API key")
			}
			return next(c)
		}
	}
}
