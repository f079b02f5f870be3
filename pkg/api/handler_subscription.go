package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// createSubscriptionHandler handles POST /api/v1/intents/:id/subscriptions:
// a durable webhook registration, as opposed to the ephemeral SSE streams.
func (s *Server) createSubscriptionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	var req models.CreateSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sub, err := s.services.Subscriptions.Create(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, sub)
}

// listSubscriptionsHandler handles GET /api/v1/intents/:id/subscriptions.
func (s *Server) listSubscriptionsHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	subs, err := s.services.Subscriptions.List(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, subs)
}

// deleteSubscriptionHandler handles DELETE
// /api/v1/intents/:id/subscriptions/:subscription.
func (s *Server) deleteSubscriptionHandler(c *echo.Context) error {
	id := c.Param("id")
	subID := c.Param("subscription")
	if id == "" || subID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id and subscription id are required")
	}

	if err := s.services.Subscriptions.Delete(c.Request().Context(), id, subID); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
