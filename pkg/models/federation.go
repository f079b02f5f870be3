package models

import (
	"fmt"
	"time"
)

// TrustPolicy controls which remote servers may deliver envelopes.
type TrustPolicy string

const (
	TrustOpen      TrustPolicy = "open"
	TrustAllowlist TrustPolicy = "allowlist"
	TrustTrustless TrustPolicy = "trustless"
)

// TrustPolicyValidator rejects unknown trust policies.
func TrustPolicyValidator(p TrustPolicy) error {
	switch p {
	case TrustOpen, TrustAllowlist, TrustTrustless:
		return nil
	}
	return fmt.Errorf("invalid trust_policy %q", p)
}

// Signature algorithm identifiers carried in envelopes. The HMAC fallback is
// a development-only mode and interoperates only with peers using it too.
const (
	SigAlgEd25519 = "ed25519"
	SigAlgHMAC256 = "hmac-sha256"
)

// DelegationScope attenuates what the receiving server may do with a
// delegated intent. Attenuation only narrows: permissions intersect, denied
// operations union, depth decrements, expiry is bounded by the parent's.
type DelegationScope struct {
	Permissions        StringList `json:"permissions"`
	DeniedOperations   StringList `json:"denied_operations,omitempty"`
	MaxDelegationDepth int        `json:"max_delegation_depth"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

// Attenuate derives a child scope, never wider than the parent.
func (s *DelegationScope) Attenuate(child DelegationScope) DelegationScope {
	var out DelegationScope
	for _, p := range child.Permissions {
		if s.Permissions.Contains(p) {
			out.Permissions = append(out.Permissions, p)
		}
	}
	seen := map[string]bool{}
	for _, d := range s.DeniedOperations {
		if !seen[d] {
			seen[d] = true
			out.DeniedOperations = append(out.DeniedOperations, d)
		}
	}
	for _, d := range child.DeniedOperations {
		if !seen[d] {
			seen[d] = true
			out.DeniedOperations = append(out.DeniedOperations, d)
		}
	}
	out.MaxDelegationDepth = s.MaxDelegationDepth - 1
	if child.MaxDelegationDepth < out.MaxDelegationDepth {
		out.MaxDelegationDepth = child.MaxDelegationDepth
	}
	if out.MaxDelegationDepth < 0 {
		out.MaxDelegationDepth = 0
	}
	out.ExpiresAt = s.ExpiresAt
	if child.ExpiresAt != nil && (out.ExpiresAt == nil || child.ExpiresAt.Before(*out.ExpiresAt)) {
		out.ExpiresAt = child.ExpiresAt
	}
	return out
}

// Allows reports whether the scope permits the named operation.
func (s *DelegationScope) Allows(op string) bool {
	if s.DeniedOperations.Contains(op) {
		return false
	}
	return s.Permissions.Contains(op) || s.Permissions.Contains("*")
}

// FederationPolicy declares governance, budget and observability terms the
// source attaches to a dispatch. Budget keys the receiver enforces include
// max_llm_tokens and cost_ceiling_usd; a zero value for either means the
// dispatch carries no budget and must be rejected.
type FederationPolicy struct {
	Governance    JSONMap `json:"governance,omitempty"`
	Budget        JSONMap `json:"budget,omitempty"`
	Observability JSONMap `json:"observability,omitempty"`
}

// FederationEnvelope carries one intent dispatch between servers. The
// signature covers the canonical JSON form of the envelope with the
// signature field excluded.
type FederationEnvelope struct {
	DispatchID        string            `json:"dispatch_id"`
	SourceServer      string            `json:"source_server"`
	TargetServer      string            `json:"target_server"`
	IntentID          string            `json:"intent_id"`
	IntentTitle       string            `json:"intent_title"`
	IntentDescription string            `json:"intent_description,omitempty"`
	IntentState       JSONMap           `json:"intent_state,omitempty"`
	IntentConstraints JSONMap           `json:"intent_constraints,omitempty"`
	AgentID           string            `json:"agent_id,omitempty"`
	DelegationScope   *DelegationScope  `json:"delegation_scope,omitempty"`
	FederationPolicy  *FederationPolicy `json:"federation_policy,omitempty"`
	TraceContext      JSONMap           `json:"trace_context,omitempty"`
	CallbackURL       string            `json:"callback_url,omitempty"`
	IdempotencyKey    string            `json:"idempotency_key,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	SigAlg            string            `json:"sig_alg,omitempty"`
	Signature         string            `json:"signature,omitempty"`
}

// Validate checks structural envelope requirements before any signature or
// trust evaluation.
func (e *FederationEnvelope) Validate() error {
	if e.DispatchID == "" {
		return fmt.Errorf("dispatch_id is required")
	}
	if e.SourceServer == "" {
		return fmt.Errorf("source_server is required")
	}
	if e.IntentID == "" {
		return fmt.Errorf("intent_id is required")
	}
	if e.IntentTitle == "" {
		return fmt.Errorf("intent_title is required")
	}
	return nil
}

// Key returns the idempotency key, falling back to the dispatch id so every
// envelope deduplicates on something.
func (e *FederationEnvelope) Key() string {
	if e.IdempotencyKey != "" {
		return e.IdempotencyKey
	}
	return e.DispatchID
}

// CallbackEventType names the progress notifications a receiving server
// sends back to the source.
type CallbackEventType string

const (
	CallbackStateDelta    CallbackEventType = "state_delta"
	CallbackStatusChanged CallbackEventType = "status_changed"
	CallbackAttestation   CallbackEventType = "attestation"
	CallbackBudgetWarning CallbackEventType = "budget_warning"
	CallbackCompleted     CallbackEventType = "completed"
	CallbackFailed        CallbackEventType = "failed"
)

// CallbackEventValidator rejects unknown callback event types.
func CallbackEventValidator(t CallbackEventType) error {
	switch t {
	case CallbackStateDelta, CallbackStatusChanged, CallbackAttestation,
		CallbackBudgetWarning, CallbackCompleted, CallbackFailed:
		return nil
	}
	return fmt.Errorf("invalid callback event_type %q", t)
}

// FederationCallback is the signed progress notification for one dispatch.
type FederationCallback struct {
	DispatchID     string            `json:"dispatch_id"`
	EventType      CallbackEventType `json:"event_type"`
	StateDelta     JSONMap           `json:"state_delta,omitempty"`
	Attestation    JSONMap           `json:"attestation,omitempty"`
	TraceID        string            `json:"trace_id,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	SourceServer   string            `json:"source_server,omitempty"`
	SigAlg         string            `json:"sig_alg,omitempty"`
	Signature      string            `json:"signature,omitempty"`
}

// PeerInfo describes one remote server and how much we trust it.
type PeerInfo struct {
	ID           string      `db:"id" json:"id"`
	ServerURL    string      `db:"server_url" json:"server_url"`
	ServerDID    string      `db:"server_did" json:"server_did,omitempty"`
	Relationship string      `db:"relationship" json:"relationship,omitempty"`
	TrustPolicy  TrustPolicy `db:"trust_policy" json:"trust_policy"`
	PublicKey    string      `db:"public_key" json:"public_key,omitempty"`
	LastSeenAt   *time.Time  `db:"last_seen_at" json:"last_seen_at,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
}

// RegisterPeerRequest is the body of POST /api/v1/federation/peers.
type RegisterPeerRequest struct {
	ServerURL    string      `json:"server_url"`
	ServerDID    string      `json:"server_did,omitempty"`
	Relationship string      `json:"relationship,omitempty"`
	TrustPolicy  TrustPolicy `json:"trust_policy,omitempty"`
	PublicKey    string      `json:"public_key,omitempty"`
}

// DispatchStatus is the delivery state of an outbound dispatch.
type DispatchStatus string

const (
	DispatchActive    DispatchStatus = "active"
	DispatchDelivered DispatchStatus = "delivered"
	DispatchFailed    DispatchStatus = "failed"
)

// FederationDispatch tracks one outbound envelope and its delivery retries.
type FederationDispatch struct {
	ID           string         `db:"id" json:"id"`
	IntentID     string         `db:"intent_id" json:"intent_id"`
	TargetServer string         `db:"target_server" json:"target_server"`
	CallbackURL  string         `db:"callback_url" json:"callback_url,omitempty"`
	Status       DispatchStatus `db:"status" json:"status"`
	Attempts     int            `db:"attempts" json:"attempts"`
	LastError    string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// FederationReceipt records one accepted inbound envelope. The unique pair
// (source_server, idempotency_key) makes redelivery return the same local
// intent without new side effects.
type FederationReceipt struct {
	ID             string    `db:"id" json:"id"`
	DispatchID     string    `db:"dispatch_id" json:"dispatch_id"`
	SourceServer   string    `db:"source_server" json:"source_server"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key"`
	LocalIntentID  string    `db:"local_intent_id" json:"local_intent_id"`
	CallbackURL    string    `db:"callback_url" json:"callback_url,omitempty"`
	ReceivedAt     time.Time `db:"received_at" json:"received_at"`
}

// DispatchIntentRequest is the body of POST /api/v1/federation/dispatch.
type DispatchIntentRequest struct {
	IntentID         string            `json:"intent_id"`
	TargetServer     string            `json:"target_server"`
	AgentID          string            `json:"agent_id,omitempty"`
	DelegationScope  *DelegationScope  `json:"delegation_scope,omitempty"`
	FederationPolicy *FederationPolicy `json:"federation_policy,omitempty"`
	CallbackURL      string            `json:"callback_url,omitempty"`
	TraceContext     JSONMap           `json:"trace_context,omitempty"`
}

// DispatchResponse reports the locally recorded dispatch.
type DispatchResponse struct {
	DispatchID   string         `json:"dispatch_id"`
	IntentID     string         `json:"intent_id"`
	TargetServer string         `json:"target_server"`
	Status       DispatchStatus `json:"status"`
}

// ReceiveResponse is returned by POST /api/v1/federation/receive. Replays of
// the same envelope return the same LocalIntentID.
type ReceiveResponse struct {
	DispatchID    string `json:"dispatch_id"`
	Accepted      bool   `json:"accepted"`
	LocalIntentID string `json:"local_intent_id"`
}
