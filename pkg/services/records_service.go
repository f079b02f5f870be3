package services

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/models"
)

// RecordsService keeps the passive per-intent collections: attachments,
// costs, failures and the retry policy. Costs are the one collection with
// an enforcement hook, the governance max_cost ceiling.
type RecordsService struct {
	db     *database.Client
	events *EventService
	gov    *GovernanceService
}

// NewRecordsService creates a RecordsService.
func NewRecordsService(db *database.Client, eventSvc *EventService, govSvc *GovernanceService) *RecordsService {
	return &RecordsService{db: db, events: eventSvc, gov: govSvc}
}

// AddAttachment records artifact metadata against the intent.
func (s *RecordsService) AddAttachment(ctx context.Context, intentID string, req models.CreateAttachmentRequest, actor string) (*models.IntentAttachment, error) {
	if req.Filename == "" {
		return nil, NewValidationError("filename", "required")
	}
	if req.StorageURL == "" {
		return nil, NewValidationError("storage_url", "required")
	}

	att := &models.IntentAttachment{
		ID:         newID(),
		IntentID:   intentID,
		Filename:   req.Filename,
		MimeType:   req.MimeType,
		Size:       req.Size,
		StorageURL: req.StorageURL,
		Metadata:   req.Metadata,
		CreatedBy:  actor,
		CreatedAt:  now(),
	}
	if att.Metadata == nil {
		att.Metadata = models.JSONMap{}
	}

	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := intentExists(ctx, tx, intentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO intent_attachments (id, intent_id, filename, mime_type, size, storage_url, metadata, created_by, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			att.ID, att.IntentID, att.Filename, att.MimeType, att.Size, att.StorageURL,
			att.Metadata, att.CreatedBy, att.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
		var err error
		ev, err = s.events.Log(ctx, tx, intentID, events.TypeAttachmentAdded, actor, models.JSONMap{
			"attachment_id": att.ID,
			"filename":      att.Filename,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return att, nil
}

// ListAttachments returns the intent's attachments, newest first.
func (s *RecordsService) ListAttachments(ctx context.Context, intentID string) ([]*models.IntentAttachment, error) {
	if err := intentExistsDB(ctx, s.db, intentID); err != nil {
		return nil, err
	}
	out := []*models.IntentAttachment{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		`SELECT * FROM intent_attachments WHERE intent_id = ? ORDER BY created_at DESC, id`), intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	return out, nil
}

// RecordCost appends a spend entry. When the effective policy carries a
// max_cost ceiling, a spend that would push the running total past it is
// rejected and the violation is logged.
func (s *RecordsService) RecordCost(ctx context.Context, intentID string, req models.CreateCostRequest, actor string) (*models.IntentCost, error) {
	if req.CostType == "" {
		return nil, NewValidationError("cost_type", "required")
	}
	if req.Amount < 0 {
		return nil, NewValidationError("amount", "must not be negative")
	}
	unit := req.Unit
	if unit == "" {
		unit = "usd"
	}
	agentID := req.AgentID
	if agentID == "" {
		agentID = actor
	}

	cost := &models.IntentCost{
		ID:         newID(),
		IntentID:   intentID,
		AgentID:    agentID,
		CostType:   req.CostType,
		Amount:     req.Amount,
		Unit:       unit,
		Provider:   req.Provider,
		Metadata:   req.Metadata,
		RecordedAt: now(),
	}
	if cost.Metadata == nil {
		cost.Metadata = models.JSONMap{}
	}

	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		intent, err := getIntentTx(ctx, tx, intentID)
		if err != nil {
			return err
		}

		var total float64
		err = tx.QueryRowxContext(ctx, tx.Rebind(
			`SELECT COALESCE(SUM(amount), 0) FROM intent_costs WHERE intent_id = ?`),
			intentID).Scan(&total)
		if err != nil {
			return fmt.Errorf("failed to sum costs: %w", err)
		}

		policy, err := s.gov.effectivePolicy(ctx, tx, intent)
		if err != nil {
			return err
		}
		if err := policy.CheckCost(total, cost.Amount); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO intent_costs (id, intent_id, agent_id, cost_type, amount, unit, provider, metadata, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			cost.ID, cost.IntentID, cost.AgentID, cost.CostType, cost.Amount, cost.Unit,
			cost.Provider, cost.Metadata, cost.RecordedAt); err != nil {
			return fmt.Errorf("failed to insert cost: %w", err)
		}

		ev, err = s.events.Log(ctx, tx, intentID, events.TypeCostRecorded, actor, models.JSONMap{
			"cost_id":   cost.ID,
			"cost_type": cost.CostType,
			"amount":    cost.Amount,
			"unit":      cost.Unit,
			"total":     total + cost.Amount,
		})
		return err
	})
	if err != nil {
		s.gov.recordViolation(ctx, intentID, actor, "record_cost", err)
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return cost, nil
}

// ListCosts returns the intent's costs, oldest first, with the running
// total.
func (s *RecordsService) ListCosts(ctx context.Context, intentID string) (*models.CostListResponse, error) {
	if err := intentExistsDB(ctx, s.db, intentID); err != nil {
		return nil, err
	}

	costs := []*models.IntentCost{}
	err := s.db.SelectContext(ctx, &costs, s.db.Rebind(
		`SELECT * FROM intent_costs WHERE intent_id = ? ORDER BY recorded_at, id`), intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list costs: %w", err)
	}

	resp := &models.CostListResponse{IntentID: intentID, Costs: costs}
	for _, c := range costs {
		resp.Total += c.Amount
	}
	return resp, nil
}

// RecordFailure appends a failed-attempt row. When attempt_number is not
// given the next attempt slot is assigned.
func (s *RecordsService) RecordFailure(ctx context.Context, intentID string, req models.CreateFailureRequest, actor string) (*models.IntentFailure, error) {
	agentID := req.AgentID
	if agentID == "" {
		agentID = actor
	}

	failure := &models.IntentFailure{
		ID:               newID(),
		IntentID:         intentID,
		AgentID:          agentID,
		AttemptNumber:    req.AttemptNumber,
		ErrorCode:        req.ErrorCode,
		ErrorMessage:     req.ErrorMessage,
		RetryScheduledAt: req.RetryScheduledAt,
		Metadata:         req.Metadata,
		CreatedAt:        now(),
	}
	if failure.Metadata == nil {
		failure.Metadata = models.JSONMap{}
	}

	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := intentExists(ctx, tx, intentID); err != nil {
			return err
		}
		if failure.AttemptNumber <= 0 {
			var count int
			err := tx.QueryRowxContext(ctx, tx.Rebind(
				`SELECT COUNT(*) FROM intent_failures WHERE intent_id = ?`),
				intentID).Scan(&count)
			if err != nil {
				return fmt.Errorf("failed to count failures: %w", err)
			}
			failure.AttemptNumber = count + 1
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO intent_failures (id, intent_id, agent_id, attempt_number, error_code, error_message,
			                              retry_scheduled_at, resolved_at, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			failure.ID, failure.IntentID, failure.AgentID, failure.AttemptNumber, failure.ErrorCode,
			failure.ErrorMessage, failure.RetryScheduledAt, failure.ResolvedAt, failure.Metadata,
			failure.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert failure: %w", err)
		}

		var err error
		ev, err = s.events.Log(ctx, tx, intentID, events.TypeFailureRecorded, actor, models.JSONMap{
			"failure_id":     failure.ID,
			"attempt_number": failure.AttemptNumber,
			"error_code":     failure.ErrorCode,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return failure, nil
}

// ListFailures returns the intent's failures, newest first.
func (s *RecordsService) ListFailures(ctx context.Context, intentID string) ([]*models.IntentFailure, error) {
	if err := intentExistsDB(ctx, s.db, intentID); err != nil {
		return nil, err
	}
	out := []*models.IntentFailure{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		`SELECT * FROM intent_failures WHERE intent_id = ? ORDER BY created_at DESC, id`), intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	return out, nil
}

// PutRetryPolicy upserts the intent's retry policy.
func (s *RecordsService) PutRetryPolicy(ctx context.Context, intentID string, req models.PutRetryPolicyRequest, actor string) (*models.RetryPolicy, error) {
	if err := models.RetryStrategyValidator(req.Strategy); err != nil {
		return nil, NewValidationError("strategy", err.Error())
	}
	if req.MaxRetries < 0 {
		return nil, NewValidationError("max_retries", "must not be negative")
	}
	if req.BaseDelayMS < 0 {
		return nil, NewValidationError("base_delay_ms", "must not be negative")
	}
	if req.MaxDelayMS < 0 {
		return nil, NewValidationError("max_delay_ms", "must not be negative")
	}

	ts := now()
	policy := &models.RetryPolicy{
		ID:               newID(),
		IntentID:         intentID,
		Strategy:         req.Strategy,
		MaxRetries:       req.MaxRetries,
		BaseDelayMS:      req.BaseDelayMS,
		MaxDelayMS:       req.MaxDelayMS,
		FallbackAgentID:  req.FallbackAgentID,
		FailureThreshold: req.FailureThreshold,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}

	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := intentExists(ctx, tx, intentID); err != nil {
			return err
		}

		var existing models.RetryPolicy
		err := tx.GetContext(ctx, &existing, tx.Rebind(
			`SELECT * FROM retry_policies WHERE intent_id = ?`), intentID)
		switch {
		case err == nil:
			policy.ID = existing.ID
			policy.CreatedAt = existing.CreatedAt
			if _, err := tx.ExecContext(ctx, tx.Rebind(
				`UPDATE retry_policies SET strategy = ?, max_retries = ?, base_delay_ms = ?, max_delay_ms = ?,
				        fallback_agent_id = ?, failure_threshold = ?, updated_at = ?
				 WHERE intent_id = ?`),
				policy.Strategy, policy.MaxRetries, policy.BaseDelayMS, policy.MaxDelayMS,
				policy.FallbackAgentID, policy.FailureThreshold, policy.UpdatedAt, intentID); err != nil {
				return fmt.Errorf("failed to update retry policy: %w", err)
			}
		case isNoRows(err):
			if _, err := tx.ExecContext(ctx, tx.Rebind(
				`INSERT INTO retry_policies (id, intent_id, strategy, max_retries, base_delay_ms, max_delay_ms,
				                             fallback_agent_id, failure_threshold, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				policy.ID, policy.IntentID, policy.Strategy, policy.MaxRetries, policy.BaseDelayMS,
				policy.MaxDelayMS, policy.FallbackAgentID, policy.FailureThreshold,
				policy.CreatedAt, policy.UpdatedAt); err != nil {
				return fmt.Errorf("failed to insert retry policy: %w", err)
			}
		default:
			return fmt.Errorf("failed to load retry policy: %w", err)
		}

		ev, err = s.events.Log(ctx, tx, intentID, events.TypeRetryPolicySet, actor, models.JSONMap{
			"strategy":    string(policy.Strategy),
			"max_retries": policy.MaxRetries,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return policy, nil
}

// GetRetryPolicy loads the intent's retry policy.
func (s *RecordsService) GetRetryPolicy(ctx context.Context, intentID string) (*models.RetryPolicy, error) {
	if err := intentExistsDB(ctx, s.db, intentID); err != nil {
		return nil, err
	}
	var policy models.RetryPolicy
	err := s.db.GetContext(ctx, &policy, s.db.Rebind(
		`SELECT * FROM retry_policies WHERE intent_id = ?`), intentID)
	if isNoRows(err) {
		return nil, fmt.Errorf("retry policy for intent %s: %w", intentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load retry policy: %w", err)
	}
	return &policy, nil
}
