package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// addAttachmentHandler handles POST /api/v1/intents/:id/attachments.
func (s *Server) addAttachmentHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	var req models.CreateAttachmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	attachment, err := s.services.Records.AddAttachment(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, attachment)
}

// listAttachmentsHandler handles GET /api/v1/intents/:id/attachments.
func (s *Server) listAttachmentsHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	attachments, err := s.services.Records.ListAttachments(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, attachments)
}

// recordCostHandler handles POST /api/v1/intents/:id/costs. Cost entries
// count against the governance cost cap when one is set.
func (s *Server) recordCostHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	var req models.CreateCostRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	cost, err := s.services.Records.RecordCost(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, cost)
}

// listCostsHandler handles GET /api/v1/intents/:id/costs.
func (s *Server) listCostsHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	costs, err := s.services.Records.ListCosts(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, costs)
}

// recordFailureHandler handles POST /api/v1/intents/:id/failures.
func (s *Server) recordFailureHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	var req models.CreateFailureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	failure, err := s.services.Records.RecordFailure(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, failure)
}

// listFailuresHandler handles GET /api/v1/intents/:id/failures.
func (s *Server) listFailuresHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	failures, err := s.services.Records.ListFailures(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, failures)
}

// putRetryPolicyHandler handles PUT /api/v1/intents/:id/retry-policy.
func (s *Server) putRetryPolicyHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	var req models.PutRetryPolicyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	policy, err := s.services.Records.PutRetryPolicy(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, policy)
}

// getRetryPolicyHandler handles GET /api/v1/intents/:id/retry-policy.
func (s *Server) getRetryPolicyHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	policy, err := s.services.Records.GetRetryPolicy(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, policy)
}
