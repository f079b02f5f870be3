package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// federationEnabled guards the federation routes: the service is nil when no
// identity was configured at startup.
func (s *Server) federationEnabled() error {
	if s.services.Federation == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "federation is not configured")
	}
	return nil
}

// dispatchIntentHandler handles POST /api/v1/federation/dispatch: hand an
// intent to a remote server and track the delivery.
func (s *Server) dispatchIntentHandler(c *echo.Context) error {
	if err := s.federationEnabled(); err != nil {
		return err
	}

	var req models.DispatchIntentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resp, err := s.services.Federation.Dispatch(c.Request().Context(), req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, resp)
}

// receiveEnvelopeHandler handles POST /api/v1/federation/receive: the
// inbound half of dispatch. The envelope signature is the authentication
// here, so the route is exempt from API-key auth.
func (s *Server) receiveEnvelopeHandler(c *echo.Context) error {
	if err := s.federationEnabled(); err != nil {
		return err
	}

	var env models.FederationEnvelope
	if err := c.Bind(&env); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	resp, err := s.services.Federation.Receive(c.Request().Context(), env)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// federationCallbackHandler handles POST /api/v1/federation/callbacks:
// signed progress reports flowing back from a server we dispatched to.
func (s *Server) federationCallbackHandler(c *echo.Context) error {
	if err := s.federationEnabled(); err != nil {
		return err
	}

	var cb models.FederationCallback
	if err := c.Bind(&cb); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.services.Federation.IngestCallback(c.Request().Context(), cb); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// getDispatchHandler handles GET /api/v1/federation/dispatches/:id.
func (s *Server) getDispatchHandler(c *echo.Context) error {
	if err := s.federationEnabled(); err != nil {
		return err
	}
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "dispatch id is required")
	}

	dispatch, err := s.services.Federation.GetDispatch(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, dispatch)
}

// listDispatchesHandler handles GET /api/v1/intents/:id/dispatches.
func (s *Server) listDispatchesHandler(c *echo.Context) error {
	if err := s.federationEnabled(); err != nil {
		return err
	}
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	dispatches, err := s.services.Federation.ListDispatches(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, dispatches)
}

// registerPeerHandler handles POST /api/v1/federation/peers.
func (s *Server) registerPeerHandler(c *echo.Context) error {
	if err := s.federationEnabled(); err != nil {
		return err
	}

	var req models.RegisterPeerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	peer, err := s.services.Federation.RegisterPeer(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, peer)
}

// listPeersHandler handles GET /api/v1/federation/peers.
func (s *Server) listPeersHandler(c *echo.Context) error {
	if err := s.federationEnabled(); err != nil {
		return err
	}

	peers, err := s.services.Federation.ListPeers(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, peers)
}
