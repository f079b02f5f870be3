package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// listAgentsHandler handles GET /api/v1/intents/:id/agents.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	assignments, err := s.services.Assignments.List(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, assignments)
}

// assignAgentHandler handles POST /api/v1/intents/:id/agents.
func (s *Server) assignAgentHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	var req models.AssignAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	assignment, err := s.services.Assignments.Assign(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, assignment)
}

// unassignAgentHandler handles DELETE /api/v1/intents/:id/agents/:agent.
func (s *Server) unassignAgentHandler(c *echo.Context) error {
	id := c.Param("id")
	agent := c.Param("agent")
	if id == "" || agent == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id and agent id are required")
	}

	if err := s.services.Assignments.Unassign(c.Request().Context(), id, agent, extractActor(c)); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
