package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// listEventsHandler handles GET /api/v1/intents/:id/events. Events come back
// newest-first unless order=asc is given; since filters on creation time.
func (s *Server) listEventsHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	filters := models.EventFilters{
		EventType: c.QueryParam("event_type"),
		Ascending: c.QueryParam("order") == "asc",
	}
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be an RFC 3339 timestamp")
		}
		filters.Since = &t
	}

	var err error
	if filters.Limit, err = queryInt(c, "limit", 0); err != nil {
		return err
	}
	if filters.Offset, err = queryInt(c, "offset", 0); err != nil {
		return err
	}

	list, err := s.services.Events.List(c.Request().Context(), id, filters)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, list)
}

// appendEventHandler handles POST /api/v1/intents/:id/events: custom
// observability events appended by agents. Reserved lifecycle types are
// rejected by the service.
func (s *Server) appendEventHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	var req models.AppendEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ev, err := s.services.Events.Append(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, ev)
}
