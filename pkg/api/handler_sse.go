package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/models"
)

// catchupLimit caps how much history a reconnecting subscriber replays from
// its Last-Event-ID before going live. Anything older is reachable through
// the event-list API.
const catchupLimit = 500

// subscribeIntentHandler handles GET /api/v1/subscribe/intents/:id.
// Existence and read access are checked up front so a bad subscribe fails
// with a status code instead of an empty stream.
func (s *Server) subscribeIntentHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent id is required")
	}
	if _, err := s.services.Intents.Get(c.Request().Context(), id, extractActor(c)); err != nil {
		return mapServiceError(err)
	}

	return s.streamEvents(c, events.ChannelIntents,
		func(env *events.Envelope) bool { return env.MatchesIntent(id) },
		func(sinceID int64) ([]*models.IntentEvent, error) {
			return s.services.Events.CatchupIntent(c.Request().Context(), id, sinceID, catchupLimit)
		})
}

// subscribePortfolioHandler handles GET /api/v1/subscribe/portfolios/:id,
// streaming events for every member intent.
func (s *Server) subscribePortfolioHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "portfolio id is required")
	}
	if _, err := s.services.Portfolios.Get(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}

	return s.streamEvents(c, events.ChannelPortfolios,
		func(env *events.Envelope) bool { return env.MatchesPortfolio(id) },
		func(sinceID int64) ([]*models.IntentEvent, error) {
			return s.services.Events.CatchupPortfolio(c.Request().Context(), id, sinceID, catchupLimit)
		})
}

// subscribeAgentHandler handles GET /api/v1/subscribe/agents/:id, streaming
// events across every intent the agent acts on or is assigned to. No
// existence check: an agent id is just a name.
func (s *Server) subscribeAgentHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent id is required")
	}

	return s.streamEvents(c, events.ChannelAgents,
		func(env *events.Envelope) bool { return env.MatchesAgent(id) },
		func(sinceID int64) ([]*models.IntentEvent, error) {
			return s.services.Events.CatchupAgent(c.Request().Context(), id, sinceID, catchupLimit)
		})
}

// streamEvents runs one SSE connection: optional catch-up from
// Last-Event-ID, then the live feed, with periodic pings to keep proxies
// from reaping the connection. It subscribes before replaying history so no
// event can fall into the gap; the id watermark deduplicates the overlap.
func (s *Server) streamEvents(c *echo.Context, channel string, match func(*events.Envelope) bool, catchup func(int64) ([]*models.IntentEvent, error)) error {
	w := c.Response()
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)

	var lastID int64
	if raw := c.Request().Header.Get("Last-Event-ID"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			lastID = v
		}
	}

	sub := s.hub.Subscribe(channel)
	defer func() {
		s.hub.Unsubscribe(sub)
		if n := sub.Dropped(); n > 0 {
			slog.Warn("SSE subscriber dropped events",
				"channel", channel, "subscriber", sub.ID, "dropped", n)
		}
	}()

	if lastID > 0 {
		history, err := catchup(lastID)
		if err != nil {
			slog.Error("SSE catch-up failed", "channel", channel, "error", err)
		} else {
			for _, ev := range history {
				if err := writeEvent(w, ev); err != nil {
					return nil
				}
				lastID = ev.ID
			}
			if err := rc.Flush(); err != nil {
				return nil
			}
		}
	}

	ping := time.NewTicker(s.cfg.SSEPingInterval)
	defer ping.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-sub.C:
			if !match(env) || env.Event.ID <= lastID {
				continue
			}
			if err := writeEvent(w, env.Event); err != nil {
				return nil
			}
			lastID = env.Event.ID
			if err := rc.Flush(); err != nil {
				return nil
			}
		case <-ping.C:
			if _, err := fmt.Fprint(w, "event: ping\ndata:\n\n"); err != nil {
				return nil
			}
			if err := rc.Flush(); err != nil {
				return nil
			}
		}
	}
}

// writeEvent frames one event for the wire. The global event id doubles as
// the SSE id so clients can resume with Last-Event-ID.
func writeEvent(w io.Writer, ev *models.IntentEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\nid: %d\n\n", ev.EventType, data, ev.ID)
	return err
}
