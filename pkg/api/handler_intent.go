package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/models"
	"github.com/openintent-protocol/openintent/pkg/patch"
)

// createIntentHandler handles POST /api/v1/intents.
func (s *Server) createIntentHandler(c *echo.Context) error {
	var req models.CreateIntentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	intent, err := s.services.Intents.Create(c.Request().Context(), req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, intent)
}

// getIntentHandler handles GET /api/v1/intents/:id.
func (s *Server) getIntentHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	intent, err := s.services.Intents.Get(c.Request().Context(), id, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, intent)
}

// listIntentsHandler handles GET /api/v1/intents with status, created_by,
// parent_id and pagination filters.
func (s *Server) listIntentsHandler(c *echo.Context) error {
	filters := models.IntentFilters{
		CreatedBy: c.QueryParam("created_by"),
		ParentID:  c.QueryParam("parent_id"),
	}
	if raw := c.QueryParam("status"); raw != "" {
		status := models.IntentStatus(raw)
		if err := models.IntentStatusValidator(status); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filters.Status = status
	}

	var err error
	if filters.Limit, err = queryInt(c, "limit", 0); err != nil {
		return err
	}
	if filters.Offset, err = queryInt(c, "offset", 0); err != nil {
		return err
	}

	list, err := s.services.Intents.List(c.Request().Context(), filters, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, list)
}

// patchStateHandler handles POST /api/v1/intents/:id/state. The body is an
// ordered list of {op, path, value} operations applied atomically under
// If-Match.
func (s *Server) patchStateHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}
	ifMatch, err := ifMatchVersion(c)
	if err != nil {
		return err
	}

	var ops []patch.Op
	if err := c.Bind(&ops); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	intent, err := s.services.Intents.PatchState(c.Request().Context(), id, ifMatch, ops, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, intent)
}

// setStatusHandler handles POST /api/v1/intents/:id/status.
func (s *Server) setStatusHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}
	ifMatch, err := ifMatchVersion(c)
	if err != nil {
		return err
	}

	var req models.SetStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	intent, err := s.services.Intents.SetStatus(c.Request().Context(), id, ifMatch, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, intent)
}

// createChildHandler handles POST /api/v1/intents/:id/children. The path
// parent wins over any parent_intent_id in the body.
func (s *Server) createChildHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	var req models.CreateIntentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.ParentIntentID = &id

	intent, err := s.services.Intents.Create(c.Request().Context(), req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, intent)
}

// addDependencyHandler handles POST /api/v1/intents/:id/dependencies.
func (s *Server) addDependencyHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}
	ifMatch, err := ifMatchVersion(c)
	if err != nil {
		return err
	}

	var req models.AddDependencyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DependencyID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "dependency_id is required")
	}

	intent, err := s.services.Intents.AddDependency(c.Request().Context(), id, ifMatch, req.DependencyID, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, intent)
}

// removeDependencyHandler handles DELETE /api/v1/intents/:id/dependencies/:dep.
func (s *Server) removeDependencyHandler(c *echo.Context) error {
	id := c.Param("id")
	dep := c.Param("dep")
	if id == "" || dep == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id and dependency id are required")
	}
	ifMatch, err := ifMatchVersion(c)
	if err != nil {
		return err
	}

	intent, err := s.services.Intents.RemoveDependency(c.Request().Context(), id, ifMatch, dep, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, intent)
}
