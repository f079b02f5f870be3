package models

import "time"

// LeaseStatus is computed at read time, never stored.
type LeaseStatus string

const (
	LeaseActive   LeaseStatus = "active"
	LeaseReleased LeaseStatus = "released"
	LeaseExpired  LeaseStatus = "expired"
)

// IntentLease is a time-bounded exclusive claim on one scope of one intent.
// At most one lease per (intent_id, scope) may be live, i.e. unreleased and
// unexpired, at any instant.
type IntentLease struct {
	ID         string     `db:"id" json:"id"`
	IntentID   string     `db:"intent_id" json:"intent_id"`
	AgentID    string     `db:"agent_id" json:"agent_id"`
	Scope      string     `db:"scope" json:"scope"`
	AcquiredAt time.Time  `db:"acquired_at" json:"acquired_at"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	ReleasedAt *time.Time `db:"released_at" json:"released_at,omitempty"`
}

// StatusAt computes the lease's pseudo-status at the given instant.
func (l *IntentLease) StatusAt(now time.Time) LeaseStatus {
	if l.ReleasedAt != nil {
		return LeaseReleased
	}
	if !l.ExpiresAt.After(now) {
		return LeaseExpired
	}
	return LeaseActive
}

// LeaseResponse is a lease plus its computed status.
type LeaseResponse struct {
	*IntentLease
	Status LeaseStatus `json:"status"`
}

// AcquireLeaseRequest is the body of POST /api/v1/intents/:id/leases.
type AcquireLeaseRequest struct {
	AgentID         string `json:"agent_id,omitempty"`
	Scope           string `json:"scope"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// RenewLeaseRequest is the body of PATCH /api/v1/intents/:id/leases/:lease.
type RenewLeaseRequest struct {
	AgentID         string `json:"agent_id,omitempty"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// Assignment links an agent to an intent with a role.
type Assignment struct {
	ID         string    `db:"id" json:"id"`
	IntentID   string    `db:"intent_id" json:"intent_id"`
	AgentID    string    `db:"agent_id" json:"agent_id"`
	Role       string    `db:"role" json:"role"`
	AssignedAt time.Time `db:"assigned_at" json:"assigned_at"`
}

// AssignAgentRequest is the body of POST /api/v1/intents/:id/agents.
type AssignAgentRequest struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role,omitempty"`
}
