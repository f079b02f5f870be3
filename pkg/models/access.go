package models

import (
	"fmt"
	"time"
)

// Permission levels form the lattice none < read < write < admin.
type Permission string

const (
	PermissionNone  Permission = "none"
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

var permissionRank = map[Permission]int{
	PermissionNone:  0,
	PermissionRead:  1,
	PermissionWrite: 2,
	PermissionAdmin: 3,
}

// Satisfies reports whether p grants at least the required level.
func (p Permission) Satisfies(required Permission) bool {
	return permissionRank[p] >= permissionRank[required]
}

// PermissionValidator rejects unknown grantable permissions. "none" is a
// computed level, never granted explicitly.
func PermissionValidator(p Permission) error {
	switch p {
	case PermissionRead, PermissionWrite, PermissionAdmin:
		return nil
	}
	return fmt.Errorf("invalid permission %q", p)
}

// DefaultPolicy is the fallback when no ACL entry matches a principal.
type DefaultPolicy string

const (
	DefaultOpen   DefaultPolicy = "open"
	DefaultClosed DefaultPolicy = "closed"
)

// DefaultPolicyValidator rejects unknown default policies.
func DefaultPolicyValidator(p DefaultPolicy) error {
	switch p {
	case DefaultOpen, DefaultClosed:
		return nil
	}
	return fmt.Errorf("invalid default policy %q", p)
}

// IntentACL holds the per-intent default policy. Entries live in their own
// table; an intent without an ACL row is unrestricted (bootstrap mode).
type IntentACL struct {
	ID            string        `db:"id" json:"id"`
	IntentID      string        `db:"intent_id" json:"intent_id"`
	DefaultPolicy DefaultPolicy `db:"default_policy" json:"default_policy"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// ACLEntry grants one principal one permission level, optionally expiring.
type ACLEntry struct {
	ID            string     `db:"id" json:"id"`
	IntentID      string     `db:"intent_id" json:"intent_id"`
	PrincipalID   string     `db:"principal_id" json:"principal_id"`
	PrincipalType string     `db:"principal_type" json:"principal_type"`
	Permission    Permission `db:"permission" json:"permission"`
	GrantedBy     string     `db:"granted_by" json:"granted_by"`
	GrantedAt     time.Time  `db:"granted_at" json:"granted_at"`
	ExpiresAt     *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	Reason        string     `db:"reason" json:"reason,omitempty"`
}

// ExpiredAt reports whether the entry is expired at the given instant.
func (e *ACLEntry) ExpiredAt(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// ACLResponse is the full ACL view returned by GET /api/v1/intents/:id/acl.
type ACLResponse struct {
	IntentID      string        `json:"intent_id"`
	DefaultPolicy DefaultPolicy `json:"default_policy"`
	Entries       []*ACLEntry   `json:"entries"`
}

// PutACLRequest replaces the ACL wholesale.
type PutACLRequest struct {
	DefaultPolicy DefaultPolicy     `json:"default_policy"`
	Entries       []GrantACLRequest `json:"entries,omitempty"`
}

// GrantACLRequest is the body of POST /api/v1/intents/:id/acl/entries.
type GrantACLRequest struct {
	PrincipalID   string     `json:"principal_id"`
	PrincipalType string     `json:"principal_type,omitempty"`
	Permission    Permission `json:"permission"`
	Reason        string     `json:"reason,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// AccessRequestStatus is the decision state of an access request.
type AccessRequestStatus string

const (
	AccessPending  AccessRequestStatus = "pending"
	AccessApproved AccessRequestStatus = "approved"
	AccessDenied   AccessRequestStatus = "denied"
)

// AccessRequest asks for a permission level on an intent.
type AccessRequest struct {
	ID                  string              `db:"id" json:"id"`
	IntentID            string              `db:"intent_id" json:"intent_id"`
	PrincipalID         string              `db:"principal_id" json:"principal_id"`
	RequestedPermission Permission          `db:"requested_permission" json:"requested_permission"`
	Reason              string              `db:"reason" json:"reason,omitempty"`
	Capabilities        StringList          `db:"capabilities" json:"capabilities"`
	Status              AccessRequestStatus `db:"status" json:"status"`
	DecidedBy           *string             `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt           *time.Time          `db:"decided_at" json:"decided_at,omitempty"`
	DecisionReason      string              `db:"decision_reason" json:"decision_reason,omitempty"`
	CreatedAt           time.Time           `db:"created_at" json:"created_at"`
}

// CreateAccessRequestRequest is the body of POST /api/v1/intents/:id/access-requests.
type CreateAccessRequestRequest struct {
	PrincipalID         string     `json:"principal_id,omitempty"`
	RequestedPermission Permission `json:"requested_permission"`
	Reason              string     `json:"reason,omitempty"`
	Capabilities        []string   `json:"capabilities,omitempty"`
}

// DecideRequest carries an optional reason for approve/deny endpoints.
type DecideRequest struct {
	Reason string `json:"reason,omitempty"`
}
