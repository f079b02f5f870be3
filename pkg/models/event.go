package models

import "time"

// IntentEvent is one immutable entry of an intent's append-only history.
// ID is a global autoincrement used for SSE resume; Sequence is the
// per-intent position assigned inside the mutating transaction.
type IntentEvent struct {
	ID        int64     `db:"id" json:"id"`
	IntentID  string    `db:"intent_id" json:"intent_id"`
	EventType string    `db:"event_type" json:"event_type"`
	Actor     string    `db:"actor" json:"actor"`
	Payload   JSONMap   `db:"payload" json:"payload"`
	Sequence  int64     `db:"sequence" json:"sequence"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// EventFilters narrows GET /api/v1/intents/:id/events.
type EventFilters struct {
	EventType string
	Since     *time.Time
	Limit     int
	Offset    int
	Ascending bool
}

// AppendEventRequest is the body of POST /api/v1/intents/:id/events.
// Agents use it to record custom observability events (tool calls, LLM
// usage and similar); reserved lifecycle types are rejected.
type AppendEventRequest struct {
	EventType string  `json:"event_type"`
	Payload   JSONMap `json:"payload,omitempty"`
}

// EventListResponse is the paginated event list shape.
type EventListResponse struct {
	Events     []*IntentEvent `json:"events"`
	TotalCount int            `json:"total_count"`
	Limit      int            `json:"limit"`
	Offset     int            `json:"offset"`
}
