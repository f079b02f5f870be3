package models

import (
	"fmt"
	"time"
)

// Governance policy field names recognized inside a governance_policy map.
const (
	PolicyCompletionMode  = "completion_mode"
	PolicyQuorumThreshold = "quorum_threshold"
	PolicyWriteScope      = "write_scope"
	PolicyMaxCost         = "max_cost"
)

// CompletionMode controls how an intent may reach the completed status.
type CompletionMode string

const (
	CompletionAuto            CompletionMode = "auto"
	CompletionRequireApproval CompletionMode = "require_approval"
	CompletionQuorum          CompletionMode = "quorum"
)

// CompletionModeValidator rejects unknown completion modes.
func CompletionModeValidator(m CompletionMode) error {
	switch m {
	case CompletionAuto, CompletionRequireApproval, CompletionQuorum:
		return nil
	}
	return fmt.Errorf("invalid completion_mode %q", m)
}

// WriteScope names the group of actors allowed to mutate an intent.
type WriteScope string

const (
	WriteScopeAny          WriteScope = "any"
	WriteScopeAssignedOnly WriteScope = "assigned_only"
)

// WriteScopeValidator rejects unknown write scopes.
func WriteScopeValidator(s WriteScope) error {
	switch s {
	case WriteScopeAny, WriteScopeAssignedOnly:
		return nil
	}
	return fmt.Errorf("invalid write_scope %q", s)
}

// ApprovalStatus is the decision state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// Approval is a request for sign-off on an action, typically "complete".
// Once decided it is terminal; re-deciding is rejected. An approval is
// consumed when its action is performed: a state_patched event after the
// decision makes it stale for completion_mode=require_approval.
type Approval struct {
	ID          string         `db:"id" json:"id"`
	IntentID    string         `db:"intent_id" json:"intent_id"`
	RequestedBy string         `db:"requested_by" json:"requested_by"`
	Action      string         `db:"action" json:"action"`
	Reason      string         `db:"reason" json:"reason,omitempty"`
	Context     JSONMap        `db:"context" json:"context,omitempty"`
	Status      ApprovalStatus `db:"status" json:"status"`
	DecidedBy   *string        `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt   *time.Time     `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// CreateApprovalRequest is the body of POST /api/v1/intents/:id/approvals.
type CreateApprovalRequest struct {
	RequestedBy string  `json:"requested_by,omitempty"`
	Action      string  `json:"action"`
	Reason      string  `json:"reason,omitempty"`
	Context     JSONMap `json:"context,omitempty"`
}

// ApprovalListResponse wraps an intent's approvals.
type ApprovalListResponse struct {
	IntentID  string      `json:"intent_id"`
	Approvals []*Approval `json:"approvals"`
}
