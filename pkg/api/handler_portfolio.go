package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// createPortfolioHandler handles POST /api/v1/portfolios.
func (s *Server) createPortfolioHandler(c *echo.Context) error {
	var req models.CreatePortfolioRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	portfolio, err := s.services.Portfolios.Create(c.Request().Context(), req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, portfolio)
}

// listPortfoliosHandler handles GET /api/v1/portfolios.
func (s *Server) listPortfoliosHandler(c *echo.Context) error {
	var status models.PortfolioStatus
	if raw := c.QueryParam("status"); raw != "" {
		status = models.PortfolioStatus(raw)
		if err := models.PortfolioStatusValidator(status); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return err
	}

	portfolios, err := s.services.Portfolios.List(c.Request().Context(), status, limit, offset)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, portfolios)
}

// getPortfolioHandler handles GET /api/v1/portfolios/:id.
func (s *Server) getPortfolioHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "portfolio id is required")
	}

	portfolio, err := s.services.Portfolios.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, portfolio)
}

// updatePortfolioHandler handles PATCH /api/v1/portfolios/:id.
func (s *Server) updatePortfolioHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "portfolio id is required")
	}

	var req models.UpdatePortfolioRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	portfolio, err := s.services.Portfolios.Update(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, portfolio)
}

// deletePortfolioHandler handles DELETE /api/v1/portfolios/:id. Member
// intents survive; only the grouping disappears.
func (s *Server) deletePortfolioHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "portfolio id is required")
	}

	if err := s.services.Portfolios.Delete(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// addPortfolioIntentHandler handles POST /api/v1/portfolios/:id/intents.
func (s *Server) addPortfolioIntentHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "portfolio id is required")
	}

	var req models.AddPortfolioIntentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	membership, err := s.services.Portfolios.AddIntent(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, membership)
}

// portfolioIntentsHandler handles GET /api/v1/portfolios/:id/intents: the
// member intents plus the portfolio's aggregate status.
func (s *Server) portfolioIntentsHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "portfolio id is required")
	}

	resp, err := s.services.Portfolios.GetIntents(c.Request().Context(), id, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// removePortfolioIntentHandler handles DELETE
// /api/v1/portfolios/:id/intents/:intent.
func (s *Server) removePortfolioIntentHandler(c *echo.Context) error {
	id := c.Param("id")
	intentID := c.Param("intent")
	if id == "" || intentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "portfolio id and intent id are required")
	}

	if err := s.services.Portfolios.RemoveIntent(c.Request().Context(), id, intentID, extractActor(c)); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
