package models

import (
	"fmt"
	"time"
)

// IntentAttachment is an artifact reference attached to an intent. Only
// metadata lives here; the bytes stay wherever storage_url points.
type IntentAttachment struct {
	ID         string    `db:"id" json:"id"`
	IntentID   string    `db:"intent_id" json:"intent_id"`
	Filename   string    `db:"filename" json:"filename"`
	MimeType   string    `db:"mime_type" json:"mime_type,omitempty"`
	Size       int64     `db:"size" json:"size,omitempty"`
	StorageURL string    `db:"storage_url" json:"storage_url"`
	Metadata   JSONMap   `db:"metadata" json:"metadata,omitempty"`
	CreatedBy  string    `db:"created_by" json:"created_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// CreateAttachmentRequest is the body of POST /api/v1/intents/:id/attachments.
type CreateAttachmentRequest struct {
	Filename   string  `json:"filename"`
	MimeType   string  `json:"mime_type,omitempty"`
	Size       int64   `json:"size,omitempty"`
	StorageURL string  `json:"storage_url"`
	Metadata   JSONMap `json:"metadata,omitempty"`
}

// IntentCost is one spend entry against an intent.
type IntentCost struct {
	ID         string    `db:"id" json:"id"`
	IntentID   string    `db:"intent_id" json:"intent_id"`
	AgentID    string    `db:"agent_id" json:"agent_id,omitempty"`
	CostType   string    `db:"cost_type" json:"cost_type"`
	Amount     float64   `db:"amount" json:"amount"`
	Unit       string    `db:"unit" json:"unit"`
	Provider   string    `db:"provider" json:"provider,omitempty"`
	Metadata   JSONMap   `db:"metadata" json:"metadata,omitempty"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// CreateCostRequest is the body of POST /api/v1/intents/:id/costs.
type CreateCostRequest struct {
	AgentID  string  `json:"agent_id,omitempty"`
	CostType string  `json:"cost_type"`
	Amount   float64 `json:"amount"`
	Unit     string  `json:"unit,omitempty"`
	Provider string  `json:"provider,omitempty"`
	Metadata JSONMap `json:"metadata,omitempty"`
}

// CostListResponse wraps an intent's costs with the running total that the
// governance max_cost rule is checked against.
type CostListResponse struct {
	IntentID string        `json:"intent_id"`
	Costs    []*IntentCost `json:"costs"`
	Total    float64       `json:"total"`
}

// RetryStrategy names how retry delays grow between attempts.
type RetryStrategy string

const (
	RetryNone        RetryStrategy = "none"
	RetryFixed       RetryStrategy = "fixed"
	RetryExponential RetryStrategy = "exponential"
	RetryLinear      RetryStrategy = "linear"
)

// RetryStrategyValidator rejects unknown retry strategies.
func RetryStrategyValidator(s RetryStrategy) error {
	switch s {
	case RetryNone, RetryFixed, RetryExponential, RetryLinear:
		return nil
	}
	return fmt.Errorf("invalid retry strategy %q", s)
}

// RetryPolicy configures automated retry behavior for an intent's work.
// One policy per intent; PUT upserts.
type RetryPolicy struct {
	ID               string        `db:"id" json:"id"`
	IntentID         string        `db:"intent_id" json:"intent_id"`
	Strategy         RetryStrategy `db:"strategy" json:"strategy"`
	MaxRetries       int           `db:"max_retries" json:"max_retries"`
	BaseDelayMS      int           `db:"base_delay_ms" json:"base_delay_ms"`
	MaxDelayMS       int           `db:"max_delay_ms" json:"max_delay_ms,omitempty"`
	FallbackAgentID  *string       `db:"fallback_agent_id" json:"fallback_agent_id,omitempty"`
	FailureThreshold int           `db:"failure_threshold" json:"failure_threshold,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// DelayFor computes the delay before the given attempt (1-based), capped at
// MaxDelayMS when that is set. Strategy none always yields zero.
func (p *RetryPolicy) DelayFor(attempt int) time.Duration {
	if p.Strategy == RetryNone {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	base := time.Duration(p.BaseDelayMS) * time.Millisecond
	var d time.Duration
	switch p.Strategy {
	case RetryLinear:
		d = base * time.Duration(attempt)
	case RetryExponential:
		d = base
		for i := 1; i < attempt; i++ {
			d *= 2
		}
	default:
		d = base
	}
	if p.MaxDelayMS > 0 {
		if max := time.Duration(p.MaxDelayMS) * time.Millisecond; d > max {
			d = max
		}
	}
	return d
}

// PutRetryPolicyRequest is the body of PUT /api/v1/intents/:id/retry-policy.
type PutRetryPolicyRequest struct {
	Strategy         RetryStrategy `json:"strategy"`
	MaxRetries       int           `json:"max_retries"`
	BaseDelayMS      int           `json:"base_delay_ms"`
	MaxDelayMS       int           `json:"max_delay_ms,omitempty"`
	FallbackAgentID  *string       `json:"fallback_agent_id,omitempty"`
	FailureThreshold int           `json:"failure_threshold,omitempty"`
}

// IntentFailure records one failed execution attempt against an intent.
// Rows are append-only.
type IntentFailure struct {
	ID               string     `db:"id" json:"id"`
	IntentID         string     `db:"intent_id" json:"intent_id"`
	AgentID          string     `db:"agent_id" json:"agent_id,omitempty"`
	AttemptNumber    int        `db:"attempt_number" json:"attempt_number"`
	ErrorCode        string     `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage     string     `db:"error_message" json:"error_message,omitempty"`
	RetryScheduledAt *time.Time `db:"retry_scheduled_at" json:"retry_scheduled_at,omitempty"`
	ResolvedAt       *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	Metadata         JSONMap    `db:"metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// CreateFailureRequest is the body of POST /api/v1/intents/:id/failures.
type CreateFailureRequest struct {
	AgentID          string     `json:"agent_id,omitempty"`
	AttemptNumber    int        `json:"attempt_number,omitempty"`
	ErrorCode        string     `json:"error_code,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	RetryScheduledAt *time.Time `json:"retry_scheduled_at,omitempty"`
	Metadata         JSONMap    `json:"metadata,omitempty"`
}

// IntentSubscription registers a webhook for an intent's events. An empty
// EventTypes list matches every event type.
type IntentSubscription struct {
	ID           string     `db:"id" json:"id"`
	IntentID     string     `db:"intent_id" json:"intent_id"`
	SubscriberID string     `db:"subscriber_id" json:"subscriber_id"`
	EventTypes   StringList `db:"event_types" json:"event_types,omitempty"`
	WebhookURL   string     `db:"webhook_url" json:"webhook_url,omitempty"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Matches reports whether the subscription wants the given event type.
func (s *IntentSubscription) Matches(eventType string) bool {
	if len(s.EventTypes) == 0 {
		return true
	}
	return s.EventTypes.Contains(eventType)
}

// CreateSubscriptionRequest is the body of POST /api/v1/intents/:id/subscriptions.
type CreateSubscriptionRequest struct {
	SubscriberID string     `json:"subscriber_id,omitempty"`
	EventTypes   []string   `json:"event_types,omitempty"`
	WebhookURL   string     `json:"webhook_url,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}
