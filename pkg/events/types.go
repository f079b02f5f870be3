// Package events holds the event-type vocabulary and the process-local SSE
// fan-out hub.
package events

// SSE channel names. A subscriber attaches to one channel and filters the
// stream down to its own id in the handler.
const (
	ChannelIntents    = "intents"
	ChannelPortfolios = "portfolios"
	ChannelAgents     = "agents"
)

// Lifecycle event types emitted by the server. The set of event types is
// open: agents may append custom observability events, but never these.
const (
	TypeIntentCreated     = "intent_created"
	TypeStatePatched      = "state_patched"
	TypeStatusChanged     = "status_changed"
	TypeDependencyAdded   = "dependency_added"
	TypeDependencyRemoved = "dependency_removed"

	TypeAgentAssigned   = "agent_assigned"
	TypeAgentUnassigned = "agent_unassigned"

	TypeLeaseAcquired = "lease_acquired"
	TypeLeaseRenewed  = "lease_renewed"
	TypeLeaseReleased = "lease_released"

	TypePolicySet         = "governance.policy_set"
	TypeApprovalRequested = "governance.approval_requested"
	TypeApprovalGranted   = "governance.approval_granted"
	TypeApprovalDenied    = "governance.approval_denied"
	TypeViolation         = "governance.violation"

	TypeAccessGranted         = "access_granted"
	TypeAccessRevoked         = "access_revoked"
	TypeAccessRequested       = "access_requested"
	TypeAccessRequestApproved = "access_request_approved"
	TypeAccessRequestDenied   = "access_request_denied"
	TypeAccessPolicySet       = "access_policy_set"

	TypeAddedToPortfolio     = "added_to_portfolio"
	TypeRemovedFromPortfolio = "removed_from_portfolio"

	TypeAttachmentAdded = "attachment_added"
	TypeCostRecorded    = "cost_recorded"
	TypeFailureRecorded = "failure_recorded"
	TypeRetryPolicySet  = "retry_policy_set"

	TypeChannelCreated = "channel_created"
	TypeChannelClosed  = "channel_closed"
	TypeMessageSent    = "message_sent"

	TypeSubscriptionCreated = "subscription_created"
	TypeSubscriptionExpired = "subscription_expired"

	TypeIntentDispatched = "intent_dispatched"
	TypeIntentReceived   = "intent_received"
	TypeCallbackReceived = "federation.callback_received"
	TypeDispatchFailed   = "federation.dispatch_failed"
)

// reserved lists the event types only the server itself may log.
var reserved = map[string]bool{
	TypeIntentCreated:         true,
	TypeStatePatched:          true,
	TypeStatusChanged:         true,
	TypeDependencyAdded:       true,
	TypeDependencyRemoved:     true,
	TypeAgentAssigned:         true,
	TypeAgentUnassigned:       true,
	TypeLeaseAcquired:         true,
	TypeLeaseRenewed:          true,
	TypeLeaseReleased:         true,
	TypePolicySet:             true,
	TypeApprovalRequested:     true,
	TypeApprovalGranted:       true,
	TypeApprovalDenied:        true,
	TypeViolation:             true,
	TypeAccessGranted:         true,
	TypeAccessRevoked:         true,
	TypeAccessRequested:       true,
	TypeAccessRequestApproved: true,
	TypeAccessRequestDenied:   true,
	TypeAccessPolicySet:       true,
	TypeAddedToPortfolio:      true,
	TypeRemovedFromPortfolio:  true,
	TypeAttachmentAdded:       true,
	TypeCostRecorded:          true,
	TypeFailureRecorded:       true,
	TypeRetryPolicySet:        true,
	TypeChannelCreated:        true,
	TypeChannelClosed:         true,
	TypeMessageSent:           true,
	TypeSubscriptionCreated:   true,
	TypeSubscriptionExpired:   true,
	TypeIntentDispatched:      true,
	TypeIntentReceived:        true,
	TypeCallbackReceived:      true,
	TypeDispatchFailed:        true,
}

// IsReserved reports whether the event type belongs to the server-emitted
// lifecycle vocabulary. Custom appended events must use other types.
func IsReserved(eventType string) bool {
	return reserved[eventType]
}
