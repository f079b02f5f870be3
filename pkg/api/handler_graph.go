package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// graphViewHandler adapts one graph traversal into an echo handler. All the
// list-shaped views (children, descendants, ancestors, dependencies,
// dependents, ready, blocked) share this shape.
func (s *Server) graphViewHandler(view func(context.Context, string, string) ([]*models.Intent, error)) echo.HandlerFunc {
	return func(c *echo.Context) error {
		id := c.Param("id")
		if id == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
		}

		intents, err := view(c.Request().Context(), id, extractActor(c))
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(http.StatusOK, intents)
	}
}

// intentGraphHandler handles GET /api/v1/intents/:id/graph: the node/edge
// view of the subtree plus its aggregate status.
func (s *Server) intentGraphHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	graph, err := s.services.Graph.Graph(c.Request().Context(), id, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, graph)
}
