package models

import (
	"fmt"
	"time"
)

// IntentStatus is the lifecycle state of an intent.
type IntentStatus string

const (
	StatusDraft     IntentStatus = "draft"
	StatusActive    IntentStatus = "active"
	StatusBlocked   IntentStatus = "blocked"
	StatusCompleted IntentStatus = "completed"
	StatusAbandoned IntentStatus = "abandoned"
)

// IntentStatusValidator rejects unknown status values.
func IntentStatusValidator(s IntentStatus) error {
	switch s {
	case StatusDraft, StatusActive, StatusBlocked, StatusCompleted, StatusAbandoned:
		return nil
	}
	return fmt.Errorf("invalid intent status %q", s)
}

// Intent is the central coordinated unit of work. Its version increases by
// exactly one on every mutation of state, status, depends_on or governance
// policy; all mutations are guarded by If-Match compare-and-swap.
type Intent struct {
	ID               string       `db:"id" json:"id"`
	Title            string       `db:"title" json:"title"`
	Description      string       `db:"description" json:"description"`
	CreatedBy        string       `db:"created_by" json:"created_by"`
	ParentIntentID   *string      `db:"parent_intent_id" json:"parent_intent_id,omitempty"`
	DependsOn        StringList   `db:"depends_on" json:"depends_on"`
	Constraints      JSONMap      `db:"constraints" json:"constraints"`
	State            JSONMap      `db:"state" json:"state"`
	Status           IntentStatus `db:"status" json:"status"`
	Confidence       float64      `db:"confidence" json:"confidence"`
	Version          int64        `db:"version" json:"version"`
	GovernancePolicy JSONMap      `db:"governance_policy" json:"governance_policy"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
}

// CreateIntentRequest is the body of POST /api/v1/intents.
type CreateIntentRequest struct {
	Title            string       `json:"title"`
	Description      string       `json:"description,omitempty"`
	CreatedBy        string       `json:"created_by,omitempty"`
	ParentIntentID   *string      `json:"parent_intent_id,omitempty"`
	DependsOn        []string     `json:"depends_on,omitempty"`
	Constraints      JSONMap      `json:"constraints,omitempty"`
	InitialState     JSONMap      `json:"initial_state,omitempty"`
	Status           IntentStatus `json:"status,omitempty"`
	Confidence       *float64     `json:"confidence,omitempty"`
	GovernancePolicy JSONMap      `json:"governance_policy,omitempty"`
}

// SetStatusRequest is the body of POST /api/v1/intents/:id/status.
type SetStatusRequest struct {
	Status IntentStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

// AddDependencyRequest is the body of POST /api/v1/intents/:id/dependencies.
type AddDependencyRequest struct {
	DependencyID string `json:"dependency_id"`
}

// IntentFilters narrows GET /api/v1/intents.
type IntentFilters struct {
	Status    IntentStatus
	CreatedBy string
	ParentID  string
	Limit     int
	Offset    int
}

// IntentListResponse is the paginated list shape.
type IntentListResponse struct {
	Intents    []*Intent `json:"intents"`
	TotalCount int       `json:"total_count"`
	Limit      int       `json:"limit"`
	Offset     int       `json:"offset"`
}

// AggregateStatus summarizes a set of intents by status.
type AggregateStatus struct {
	Total                int                  `json:"total"`
	ByStatus             map[IntentStatus]int `json:"by_status"`
	CompletionPercentage float64              `json:"completion_percentage"`
}

// Aggregate computes the AggregateStatus of a slice of intents.
func Aggregate(intents []*Intent) AggregateStatus {
	agg := AggregateStatus{
		Total:    len(intents),
		ByStatus: map[IntentStatus]int{},
	}
	for _, it := range intents {
		agg.ByStatus[it.Status]++
	}
	if agg.Total > 0 {
		agg.CompletionPercentage = 100 * float64(agg.ByStatus[StatusCompleted]) / float64(agg.Total)
	}
	return agg
}

// GraphNode is one vertex of the graph view.
type GraphNode struct {
	ID     string       `json:"id"`
	Title  string       `json:"title"`
	Status IntentStatus `json:"status"`
}

// GraphEdge is one edge of the graph view; Kind is "child" for the parent
// relation and "depends_on" for dependency edges.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// IntentGraph is the response of GET /api/v1/intents/:id/graph.
type IntentGraph struct {
	Nodes           []GraphNode     `json:"nodes"`
	Edges           []GraphEdge     `json:"edges"`
	AggregateStatus AggregateStatus `json:"aggregate_status"`
}
