package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/models"
)

// createChannelHandler handles POST /api/v1/intents/:id/channels.
func (s *Server) createChannelHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	var req models.CreateChannelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	channel, err := s.services.Channels.CreateChannel(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, channel)
}

// listChannelsHandler handles GET /api/v1/intents/:id/channels.
func (s *Server) listChannelsHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}

	channels, err := s.services.Channels.ListChannels(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, channels)
}

// getChannelHandler handles GET /api/v1/channels/:id.
func (s *Server) getChannelHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel id is required")
	}

	channel, err := s.services.Channels.GetChannel(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, channel)
}

// closeChannelHandler handles POST /api/v1/channels/:id/close. Closing is
// terminal; later sends fail with a conflict.
func (s *Server) closeChannelHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel id is required")
	}

	channel, err := s.services.Channels.CloseChannel(c.Request().Context(), id, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, channel)
}

// sendMessageHandler handles POST /api/v1/channels/:id/messages.
func (s *Server) sendMessageHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel id is required")
	}

	var req models.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	msg, err := s.services.Channels.SendMessage(c.Request().Context(), id, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// listMessagesHandler handles GET /api/v1/channels/:id/messages with to,
// since_id and pagination filters.
func (s *Server) listMessagesHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel id is required")
	}

	filters := models.MessageFilters{
		To:      c.QueryParam("to"),
		SinceID: c.QueryParam("since_id"),
	}
	var err error
	if filters.Limit, err = queryInt(c, "limit", 0); err != nil {
		return err
	}
	if filters.Offset, err = queryInt(c, "offset", 0); err != nil {
		return err
	}

	list, err := s.services.Channels.ListMessages(c.Request().Context(), id, filters)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, list)
}

// replyMessageHandler handles POST
// /api/v1/channels/:id/messages/:message/reply. The reply inherits the
// recipient and correlation of the original.
func (s *Server) replyMessageHandler(c *echo.Context) error {
	id := c.Param("id")
	messageID := c.Param("message")
	if id == "" || messageID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel id and message id are required")
	}

	var req models.ReplyMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	msg, err := s.services.Channels.Reply(c.Request().Context(), id, messageID, req, extractActor(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}
