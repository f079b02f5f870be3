package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// getACLHandler handles GET /api/v1/intents/:id/acl.
func (s *Server) getACLHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	acl, err := s.services.ACL.GetACL(c.Request().Context(), id, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, acl)
}

// putACLHandler handles PUT /api/v1/intents/:id/acl: a whole-ACL replace of
// default policy and entries.
func (s *Server) putACLHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	var req models.PutACLRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	acl, err := s.services.ACL.PutACL(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, acl)
}

// grantACLHandler handles POST /api/v1/intents/:id/acl/entries.
func (s *Server) grantACLHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	var req models.GrantACLRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	entry, err := s.services.ACL.Grant(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// revokeACLHandler handles DELETE /api/v1/intents/:id/acl/entries/:entry.
func (s *Server) revokeACLHandler(c *echo.Context) error {
	id := c.Param("id")
	entryID := c.Param("entry")
	if id == "" || entryID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id and entry id are required")
	}

	if err := s.services.ACL.Revoke(c.Request().Context(), id, entryID, extractActor(c)); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// createAccessRequestHandler handles POST /api/v1/intents/:id/access-requests.
// This is the one intent endpoint a principal without read access may call.
func (s *Server) createAccessRequestHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	var req models.CreateAccessRequestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	request, err := s.services.ACL.CreateAccessRequest(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, request)
}

// listAccessRequestsHandler handles GET /api/v1/intents/:id/access-requests.
func (s *Server) listAccessRequestsHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	requests, err := s.services.ACL.ListAccessRequests(c.Request().Context(), id, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, requests)
}

// approveAccessRequestHandler handles POST
// /api/v1/intents/:id/access-requests/:request/approve.
func (s *Server) approveAccessRequestHandler(c *echo.Context) error {
	return s.decideAccessRequest(c, true)
}

// denyAccessRequestHandler handles POST
// /api/v1/intents/:id/access-requests/:request/deny.
func (s *Server) denyAccessRequestHandler(c *echo.Context) error {
	return s.decideAccessRequest(c, false)
}

func (s *Server) decideAccessRequest(c *echo.Context, approve bool) error {
	id := c.Param("id")
	requestID := c.Param("request")
	if id == "" || requestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id and request id are required")
	}

	var req models.DecideRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}

	request, err := s.services.ACL.DecideAccessRequest(c.Request().Context(), id, requestID, approve, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, request)
}
