package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// getPolicyHandler handles GET /api/v1/intents/:id/governance.
func (s *Server) getPolicyHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	policy, err := s.services.Governance.GetPolicy(c.Request().Context(), id, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, policy)
}

// putPolicyHandler handles PUT /api/v1/intents/:id/governance. The body is
// the whole policy map; replacing it bumps the intent version under
// If-Match.
func (s *Server) putPolicyHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}
	ifMatch, err := ifMatchVersion(c)
	if err != nil {
		return err
	}

	var policy models.JSONMap
	if err := c.Bind(&policy); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	intent, err := s.services.Governance.PutPolicy(c.Request().Context(), id, ifMatch, policy, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, intent)
}

// createApprovalHandler handles POST /api/v1/intents/:id/approvals.
func (s *Server) createApprovalHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	var req models.CreateApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	approval, err := s.services.Governance.CreateApproval(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, approval)
}

// listApprovalsHandler handles GET /api/v1/intents/:id/approvals.
func (s *Server) listApprovalsHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	list, err := s.services.Governance.ListApprovals(c.Request().Context(), id, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, list)
}

// approveApprovalHandler handles POST
// /api/v1/intents/:id/approvals/:approval/approve.
func (s *Server) approveApprovalHandler(c *echo.Context) error {
	return s.decideApproval(c, true)
}

// denyApprovalHandler handles POST
// /api/v1/intents/:id/approvals/:approval/deny.
func (s *Server) denyApprovalHandler(c *echo.Context) error {
	return s.decideApproval(c, false)
}

func (s *Server) decideApproval(c *echo.Context, approve bool) error {
	id := c.Param("id")
	approvalID := c.Param("approval")
	if id == "" || approvalID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id and approval id are required")
	}

	var req models.DecideRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}

	approval, err := s.services.Governance.DecideApproval(c.Request().Context(), id, approvalID, approve, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, approval)
}
