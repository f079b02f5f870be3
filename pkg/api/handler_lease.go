package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// listLeasesHandler handles GET /api/v1/intents/:id/leases, optionally
// narrowed to one scope.
func (s *Server) listLeasesHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	leases, err := s.services.Leases.List(c.Request().Context(), id, c.QueryParam("scope"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, leases)
}

// acquireLeaseHandler handles POST /api/v1/intents/:id/leases. A live lease
// on the same scope by another agent is a 409.
func (s *Server) acquireLeaseHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	var req models.AcquireLeaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	lease, err := s.services.Leases.Acquire(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, lease)
}

// renewLeaseHandler handles PATCH /api/v1/intents/:id/leases/:lease.
func (s *Server) renewLeaseHandler(c *echo.Context) error {
	id := c.Param("id")
	leaseID := c.Param("lease")
	if id == "" || leaseID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id and lease id are required")
	}

	var req models.RenewLeaseRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}

	lease, err := s.services.Leases.Renew(c.Request().Context(), id, leaseID, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, lease)
}

// releaseLeaseHandler handles DELETE /api/v1/intents/:id/leases/:lease.
func (s *Server) releaseLeaseHandler(c *echo.Context) error {
	id := c.Param("id")
	leaseID := c.Param("lease")
	if id == "" || leaseID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id and lease id are required")
	}

	lease, err := s.services.Leases.Release(c.Request().Context(), id, leaseID, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, lease)
}
