package models

import (
	"fmt"
	"time"
)

// PortfolioStatus is the lifecycle state of a portfolio.
type PortfolioStatus string

const (
	PortfolioActive    PortfolioStatus = "active"
	PortfolioCompleted PortfolioStatus = "completed"
	PortfolioAbandoned PortfolioStatus = "abandoned"
)

// PortfolioStatusValidator rejects unknown portfolio status values.
func PortfolioStatusValidator(s PortfolioStatus) error {
	switch s {
	case PortfolioActive, PortfolioCompleted, PortfolioAbandoned:
		return nil
	}
	return fmt.Errorf("invalid portfolio status %q", s)
}

// MembershipRole describes how an intent participates in a portfolio.
type MembershipRole string

const (
	MembershipPrimary    MembershipRole = "primary"
	MembershipMember     MembershipRole = "member"
	MembershipDependency MembershipRole = "dependency"
)

// MembershipRoleValidator rejects unknown membership roles.
func MembershipRoleValidator(r MembershipRole) error {
	switch r {
	case MembershipPrimary, MembershipMember, MembershipDependency:
		return nil
	}
	return fmt.Errorf("invalid membership role %q", r)
}

// Portfolio groups intents under a shared governance policy.
type Portfolio struct {
	ID               string          `db:"id" json:"id"`
	Name             string          `db:"name" json:"name"`
	Description      string          `db:"description" json:"description"`
	CreatedBy        string          `db:"created_by" json:"created_by"`
	Status           PortfolioStatus `db:"status" json:"status"`
	GovernancePolicy JSONMap         `db:"governance_policy" json:"governance_policy"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// PortfolioMembership ties one intent into one portfolio; unique per pair.
type PortfolioMembership struct {
	ID          string         `db:"id" json:"id"`
	PortfolioID string         `db:"portfolio_id" json:"portfolio_id"`
	IntentID    string         `db:"intent_id" json:"intent_id"`
	Role        MembershipRole `db:"role" json:"role"`
	Priority    int            `db:"priority" json:"priority"`
	AddedAt     time.Time      `db:"added_at" json:"added_at"`
}

// CreatePortfolioRequest is the body of POST /api/v1/portfolios.
type CreatePortfolioRequest struct {
	Name             string  `json:"name"`
	Description      string  `json:"description,omitempty"`
	CreatedBy        string  `json:"created_by,omitempty"`
	GovernancePolicy JSONMap `json:"governance_policy,omitempty"`
}

// UpdatePortfolioRequest is the body of PATCH /api/v1/portfolios/:id.
type UpdatePortfolioRequest struct {
	Name             *string          `json:"name,omitempty"`
	Description      *string          `json:"description,omitempty"`
	Status           *PortfolioStatus `json:"status,omitempty"`
	GovernancePolicy JSONMap          `json:"governance_policy,omitempty"`
}

// AddPortfolioIntentRequest is the body of POST /api/v1/portfolios/:id/intents.
type AddPortfolioIntentRequest struct {
	IntentID string         `json:"intent_id"`
	Role     MembershipRole `json:"role,omitempty"`
	Priority int            `json:"priority,omitempty"`
}

// PortfolioIntentsResponse joins memberships to readable intents and reports
// the aggregate status over them.
type PortfolioIntentsResponse struct {
	PortfolioID     string             `json:"portfolio_id"`
	Intents         []*PortfolioIntent `json:"intents"`
	AggregateStatus AggregateStatus    `json:"aggregate_status"`
}

// PortfolioIntent is an intent with its membership metadata.
type PortfolioIntent struct {
	*Intent
	Role     MembershipRole `json:"role"`
	Priority int            `json:"priority"`
	AddedAt  time.Time      `json:"added_at"`
}
