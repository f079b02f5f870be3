package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/governance"
	"github.com/openintent-protocol/openintent/pkg/models"
)

// GovernanceService owns per-intent governance policy, the approval
// workflow, and enforcement hooks used by mutating operations. Violations
// are auditable: the governance.violation event commits in its own
// transaction so it survives the failed mutation.
type GovernanceService struct {
	db     *database.Client
	events *EventService
	acl    *ACLService
}

// NewGovernanceService creates a GovernanceService.
func NewGovernanceService(db *database.Client, eventSvc *EventService, aclSvc *ACLService) *GovernanceService {
	return &GovernanceService{db: db, events: eventSvc, acl: aclSvc}
}

// GetPolicy returns the intent's own governance policy map.
func (s *GovernanceService) GetPolicy(ctx context.Context, intentID, principal string) (models.JSONMap, error) {
	intent, err := getIntentDB(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if err := s.acl.Require(ctx, intent, principal, models.PermissionRead); err != nil {
		return nil, err
	}
	return intent.GovernancePolicy, nil
}

// PutPolicy replaces the intent's governance policy under compare-and-swap.
// Requires admin; emits governance.policy_set.
func (s *GovernanceService) PutPolicy(ctx context.Context, intentID string, ifMatch int64, policy models.JSONMap, actor string) (*models.Intent, error) {
	if _, err := governance.ParsePolicy(policy); err != nil {
		return nil, NewValidationError("governance_policy", err.Error())
	}
	if policy == nil {
		policy = models.JSONMap{}
	}

	var intent *models.Intent
	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		intent, err = getIntentTx(ctx, tx, intentID)
		if err != nil {
			return err
		}
		if err := s.acl.RequireTx(ctx, tx, intent, actor, models.PermissionAdmin); err != nil {
			return err
		}
		if ifMatch != intent.Version {
			return &VersionConflictError{IntentID: intentID, CurrentVersion: intent.Version}
		}

		if err := casUpdate(ctx, tx, intent, "governance_policy = ?", policy); err != nil {
			return err
		}
		intent.GovernancePolicy = policy

		ev, err = s.events.Log(ctx, tx, intentID, events.TypePolicySet, actor,
			models.JSONMap{"policy": policy})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return intent, nil
}

// EffectivePolicy composes the intent's policy with every containing
// portfolio's policy, field by field, strictest value winning.
func (s *GovernanceService) EffectivePolicy(ctx context.Context, intentID string) (governance.Policy, error) {
	intent, err := getIntentDB(ctx, s.db, intentID)
	if err != nil {
		return governance.Policy{}, err
	}
	return s.effectivePolicy(ctx, s.db, intent)
}

func (s *GovernanceService) effectivePolicy(ctx context.Context, q sqlx.ExtContext, intent *models.Intent) (governance.Policy, error) {
	own, err := governance.ParsePolicy(intent.GovernancePolicy)
	if err != nil {
		return governance.Policy{}, fmt.Errorf("intent %s carries an invalid governance policy: %w", intent.ID, err)
	}

	raws := []models.JSONMap{}
	err = sqlx.SelectContext(ctx, q, &raws, q.Rebind(
		`SELECT p.governance_policy FROM portfolios p
		 JOIN portfolio_memberships m ON m.portfolio_id = p.id
		 WHERE m.intent_id = ?`), intent.ID)
	if err != nil {
		return governance.Policy{}, fmt.Errorf("failed to load portfolio policies: %w", err)
	}

	portfolioPolicies := make([]governance.Policy, 0, len(raws))
	for _, raw := range raws {
		p, err := governance.ParsePolicy(raw)
		if err != nil {
			slog.Warn("Skipping unparseable portfolio policy", "intent_id", intent.ID, "error", err)
			continue
		}
		portfolioPolicies = append(portfolioPolicies, p)
	}
	return governance.Compose(own, portfolioPolicies...), nil
}

// enforceWriteScope rejects the mutation when the effective policy pins
// writes to assigned agents and the actor is not assigned.
func (s *GovernanceService) enforceWriteScope(ctx context.Context, tx *sqlx.Tx, intent *models.Intent, actor string) error {
	policy, err := s.effectivePolicy(ctx, tx, intent)
	if err != nil {
		return err
	}
	if policy.WriteScope != models.WriteScopeAssignedOnly {
		return nil
	}
	agents, err := assignedAgents(ctx, tx, intent.ID)
	if err != nil {
		return err
	}
	return policy.CheckWriteScope(actor, agents)
}

// enforceCompletion rejects a transition to completed that the effective
// policy does not allow yet.
func (s *GovernanceService) enforceCompletion(ctx context.Context, tx *sqlx.Tx, intent *models.Intent) error {
	policy, err := s.effectivePolicy(ctx, tx, intent)
	if err != nil {
		return err
	}
	if policy.CompletionMode == models.CompletionAuto {
		return nil
	}

	approvals := []*models.Approval{}
	err = tx.SelectContext(ctx, &approvals, tx.Rebind(
		`SELECT * FROM approvals WHERE intent_id = ? AND action = ?`),
		intent.ID, governance.ActionComplete)
	if err != nil {
		return fmt.Errorf("failed to load approvals: %w", err)
	}

	lastPatched, err := lastEventTime(ctx, tx, intent.ID, events.TypeStatePatched)
	if err != nil {
		return fmt.Errorf("failed to resolve last state patch: %w", err)
	}
	return policy.CheckCompletion(approvals, lastPatched)
}

// recordViolation persists a governance.violation event for err when it is
// a governance violation. The event commits on its own so it outlives the
// rolled-back mutation. Best effort; never fails the caller.
func (s *GovernanceService) recordViolation(ctx context.Context, intentID, actor, attempted string, err error) {
	var violation *governance.Violation
	if !errors.As(err, &violation) {
		return
	}

	var ev *models.IntentEvent
	logErr := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		ev, err = s.events.Log(ctx, tx, intentID, events.TypeViolation, actor, models.JSONMap{
			"rule":                violation.Rule,
			"reason":              violation.Reason,
			"attempted_operation": attempted,
		})
		return err
	})
	if logErr != nil {
		slog.Error("Failed to record governance violation", "intent_id", intentID, "rule", violation.Rule, "error", logErr)
		return
	}
	s.events.Emit(ctx, ev)
}

// CreateApproval opens a pending approval request for an action on the
// intent. Requires read; emits governance.approval_requested.
func (s *GovernanceService) CreateApproval(ctx context.Context, intentID string, req models.CreateApprovalRequest, actor string) (*models.Approval, error) {
	if req.Action == "" {
		return nil, NewValidationError("action", "required")
	}
	requestedBy := req.RequestedBy
	if requestedBy == "" {
		requestedBy = actor
	}

	approval := &models.Approval{
		ID:          newID(),
		IntentID:    intentID,
		RequestedBy: requestedBy,
		Action:      req.Action,
		Reason:      req.Reason,
		Context:     req.Context,
		Status:      models.ApprovalPending,
		CreatedAt:   now(),
	}
	if approval.Context == nil {
		approval.Context = models.JSONMap{}
	}

	intent, err := getIntentDB(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if err := s.acl.Require(ctx, intent, actor, models.PermissionRead); err != nil {
		return nil, err
	}

	var ev *models.IntentEvent
	err = inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO approvals (id, intent_id, requested_by, action, reason, context, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			approval.ID, approval.IntentID, approval.RequestedBy, approval.Action,
			approval.Reason, approval.Context, approval.Status, approval.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert approval: %w", err)
		}
		var err error
		ev, err = s.events.Log(ctx, tx, intentID, events.TypeApprovalRequested, actor, models.JSONMap{
			"approval_id": approval.ID,
			"action":      approval.Action,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return approval, nil
}

// ListApprovals returns the intent's approvals, newest first.
func (s *GovernanceService) ListApprovals(ctx context.Context, intentID, principal string) (*models.ApprovalListResponse, error) {
	intent, err := getIntentDB(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if err := s.acl.Require(ctx, intent, principal, models.PermissionRead); err != nil {
		return nil, err
	}

	approvals := []*models.Approval{}
	err = s.db.SelectContext(ctx, &approvals, s.db.Rebind(
		`SELECT * FROM approvals WHERE intent_id = ? ORDER BY created_at DESC, id`), intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	return &models.ApprovalListResponse{IntentID: intentID, Approvals: approvals}, nil
}

// DecideApproval grants or denies a pending approval. Requires admin;
// decided approvals are immutable.
func (s *GovernanceService) DecideApproval(ctx context.Context, intentID, approvalID string, approve bool, req models.DecideRequest, actor string) (*models.Approval, error) {
	intent, err := getIntentDB(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if err := s.acl.Require(ctx, intent, actor, models.PermissionAdmin); err != nil {
		return nil, err
	}

	ts := now()
	var approval models.Approval
	var ev *models.IntentEvent
	err = inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &approval, tx.Rebind(
			`SELECT * FROM approvals WHERE id = ? AND intent_id = ?`), approvalID, intentID)
		if isNoRows(err) {
			return fmt.Errorf("approval %s: %w", approvalID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load approval: %w", err)
		}
		if approval.Status != models.ApprovalPending {
			return fmt.Errorf("approval %s: %w", approvalID, ErrAlreadyDecided)
		}

		status := models.ApprovalDenied
		eventType := events.TypeApprovalDenied
		if approve {
			status = models.ApprovalApproved
			eventType = events.TypeApprovalGranted
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE approvals SET status = ?, decided_by = ?, decided_at = ? WHERE id = ?`),
			status, actor, ts, approvalID); err != nil {
			return fmt.Errorf("failed to decide approval: %w", err)
		}
		approval.Status = status
		approval.DecidedBy = &actor
		approval.DecidedAt = &ts

		payload := models.JSONMap{"approval_id": approval.ID, "action": approval.Action}
		if req.Reason != "" {
			payload["reason"] = req.Reason
		}
		ev, err = s.events.Log(ctx, tx, intentID, eventType, actor, payload)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return &approval, nil
}
