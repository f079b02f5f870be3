package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/models"
)

// EventService owns the append-only event log and its retrieval.
type EventService struct {
	db          *database.Client
	broadcaster *Broadcaster
}

// NewEventService creates an EventService.
func NewEventService(db *database.Client, broadcaster *Broadcaster) *EventService {
	return &EventService{db: db, broadcaster: broadcaster}
}

// Log appends one event inside the caller's transaction. The sequence is the
// next per-intent position; the global id comes from the store and orders
// the SSE resume cursor.
func (s *EventService) Log(ctx context.Context, tx *sqlx.Tx, intentID, eventType, actor string, payload models.JSONMap) (*models.IntentEvent, error) {
	ev := &models.IntentEvent{
		IntentID:  intentID,
		EventType: eventType,
		Actor:     actor,
		Payload:   payload,
		CreatedAt: now(),
	}
	if ev.Payload == nil {
		ev.Payload = models.JSONMap{}
	}

	err := tx.QueryRowxContext(ctx, tx.Rebind(
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM intent_events WHERE intent_id = ?`),
		intentID).Scan(&ev.Sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to compute event sequence: %w", err)
	}

	err = tx.QueryRowxContext(ctx, tx.Rebind(
		`INSERT INTO intent_events (intent_id, event_type, actor, payload, sequence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		ev.IntentID, ev.EventType, ev.Actor, ev.Payload, ev.Sequence, ev.CreatedAt).Scan(&ev.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	return ev, nil
}

// Emit fans out committed events. Never fails.
func (s *EventService) Emit(ctx context.Context, evs ...*models.IntentEvent) {
	s.broadcaster.Emit(ctx, evs...)
}

// Append records a caller-supplied observability event. Reserved lifecycle
// types are refused; those only the server logs.
func (s *EventService) Append(ctx context.Context, intentID string, req models.AppendEventRequest, actor string) (*models.IntentEvent, error) {
	if req.EventType == "" {
		return nil, NewValidationError("event_type", "required")
	}
	if events.IsReserved(req.EventType) {
		return nil, NewValidationError("event_type", fmt.Sprintf("%q is reserved for server-emitted events", req.EventType))
	}

	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := intentExists(ctx, tx, intentID); err != nil {
			return err
		}
		var err error
		ev, err = s.Log(ctx, tx, intentID, req.EventType, actor, req.Payload)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Emit(ctx, ev)
	return ev, nil
}

// List returns an intent's events, newest first by default, oldest first
// when filters.Ascending is set.
func (s *EventService) List(ctx context.Context, intentID string, filters models.EventFilters) (*models.EventListResponse, error) {
	if err := intentExistsDB(ctx, s.db, intentID); err != nil {
		return nil, err
	}

	where := "WHERE intent_id = ?"
	args := []any{intentID}
	if filters.EventType != "" {
		where += " AND event_type = ?"
		args = append(args, filters.EventType)
	}
	if filters.Since != nil {
		where += " AND created_at >= ?"
		args = append(args, filters.Since.UTC())
	}

	var total int
	if err := s.db.GetContext(ctx, &total,
		s.db.Rebind("SELECT COUNT(*) FROM intent_events "+where), args...); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	order := "DESC"
	if filters.Ascending {
		order = "ASC"
	}
	limit := filters.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := fmt.Sprintf("SELECT * FROM intent_events %s ORDER BY sequence %s LIMIT ? OFFSET ?", where, order)
	args = append(args, limit, filters.Offset)

	evs := []*models.IntentEvent{}
	if err := s.db.SelectContext(ctx, &evs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return &models.EventListResponse{
		Events:     evs,
		TotalCount: total,
		Limit:      limit,
		Offset:     filters.Offset,
	}, nil
}

// CatchupIntent returns the intent's events with id greater than sinceID,
// oldest first. Used for SSE resume via Last-Event-ID.
func (s *EventService) CatchupIntent(ctx context.Context, intentID string, sinceID int64, limit int) ([]*models.IntentEvent, error) {
	return s.catchup(ctx,
		`SELECT * FROM intent_events WHERE intent_id = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		intentID, sinceID, catchupLimit(limit))
}

// CatchupPortfolio returns events of the portfolio's member intents with id
// greater than sinceID, oldest first.
func (s *EventService) CatchupPortfolio(ctx context.Context, portfolioID string, sinceID int64, limit int) ([]*models.IntentEvent, error) {
	return s.catchup(ctx,
		`SELECT e.* FROM intent_events e
		 JOIN portfolio_memberships m ON m.intent_id = e.intent_id
		 WHERE m.portfolio_id = ? AND e.id > ? ORDER BY e.id ASC LIMIT ?`,
		portfolioID, sinceID, catchupLimit(limit))
}

// CatchupAgent returns events acted by the agent or on intents assigned to
// it, with id greater than sinceID, oldest first.
func (s *EventService) CatchupAgent(ctx context.Context, agentID string, sinceID int64, limit int) ([]*models.IntentEvent, error) {
	return s.catchup(ctx,
		`SELECT DISTINCT e.* FROM intent_events e
		 LEFT JOIN intent_agents a ON a.intent_id = e.intent_id
		 WHERE (e.actor = ? OR a.agent_id = ?) AND e.id > ? ORDER BY e.id ASC LIMIT ?`,
		agentID, agentID, sinceID, catchupLimit(limit))
}

func (s *EventService) catchup(ctx context.Context, query string, args ...any) ([]*models.IntentEvent, error) {
	evs := []*models.IntentEvent{}
	if err := s.db.SelectContext(ctx, &evs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query catchup events: %w", err)
	}
	return evs, nil
}

func catchupLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 200
	}
	return limit
}

// lastEventTime returns the created_at of the intent's latest event of the
// given type, or nil when none exists. Runs inside the caller's transaction
// so governance reads the same snapshot it mutates.
func lastEventTime(ctx context.Context, tx *sqlx.Tx, intentID, eventType string) (*time.Time, error) {
	var ts time.Time
	err := tx.QueryRowxContext(ctx, tx.Rebind(
		`SELECT created_at FROM intent_events
		 WHERE intent_id = ? AND event_type = ?
		 ORDER BY sequence DESC LIMIT 1`),
		intentID, eventType).Scan(&ts)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &ts, nil
}
