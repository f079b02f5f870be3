package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/version"
)

// healthHandler handles GET /health. The database probe decides overall
// status; the SSE hub counts are informational.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	checks := make(map[string]HealthCheck, 2)

	if health, err := s.db.Health(ctx); err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{
			Status:  healthStatusHealthy,
			Message: health.Dialect,
		}
	}
	checks["federation"] = HealthCheck{Status: s.federationHealth()}

	code := http.StatusOK
	if status == healthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
	})
}

func (s *Server) federationHealth() string {
	if s.services.Federation == nil {
		return "disabled"
	}
	return healthStatusHealthy
}
