package services

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/governance"
	"github.com/openintent-protocol/openintent/pkg/models"
)

// PortfolioService groups intents into portfolios and computes aggregate
// views over the members.
type PortfolioService struct {
	db     *database.Client
	events *EventService
	acl    *ACLService
}

// NewPortfolioService creates a PortfolioService.
func NewPortfolioService(db *database.Client, eventSvc *EventService, aclSvc *ACLService) *PortfolioService {
	return &PortfolioService{db: db, events: eventSvc, acl: aclSvc}
}

// Create inserts a new active portfolio.
func (s *PortfolioService) Create(ctx context.Context, req models.CreatePortfolioRequest, actor string) (*models.Portfolio, error) {
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if _, err := governance.ParsePolicy(req.GovernancePolicy); err != nil {
		return nil, NewValidationError("governance_policy", err.Error())
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = actor
	}

	ts := now()
	p := &models.Portfolio{
		ID:               newID(),
		Name:             req.Name,
		Description:      req.Description,
		CreatedBy:        createdBy,
		Status:           models.PortfolioActive,
		GovernancePolicy: req.GovernancePolicy,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
	if p.GovernancePolicy == nil {
		p.GovernancePolicy = models.JSONMap{}
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO portfolios (id, name, description, created_by, status, governance_policy, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.Name, p.Description, p.CreatedBy, p.Status, p.GovernancePolicy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert portfolio: %w", err)
	}
	return p, nil
}

// Get loads one portfolio.
func (s *PortfolioService) Get(ctx context.Context, id string) (*models.Portfolio, error) {
	var p models.Portfolio
	err := s.db.GetContext(ctx, &p, s.db.Rebind(`SELECT * FROM portfolios WHERE id = ?`), id)
	if isNoRows(err) {
		return nil, fmt.Errorf("portfolio %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio: %w", err)
	}
	return &p, nil
}

// List returns portfolios, newest first, optionally narrowed by status.
func (s *PortfolioService) List(ctx context.Context, status models.PortfolioStatus, limit, offset int) ([]*models.Portfolio, error) {
	where := "WHERE 1 = 1"
	args := []any{}
	if status != "" {
		if err := models.PortfolioStatusValidator(status); err != nil {
			return nil, NewValidationError("status", err.Error())
		}
		where += " AND status = ?"
		args = append(args, status)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args = append(args, limit, offset)

	out := []*models.Portfolio{}
	err := s.db.SelectContext(ctx, &out,
		s.db.Rebind("SELECT * FROM portfolios "+where+" ORDER BY created_at DESC, id LIMIT ? OFFSET ?"), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	return out, nil
}

// Update applies partial changes. A transition to completed is gated by the
// portfolio's own governance policy.
func (s *PortfolioService) Update(ctx context.Context, id string, req models.UpdatePortfolioRequest, actor string) (*models.Portfolio, error) {
	if req.GovernancePolicy != nil {
		if _, err := governance.ParsePolicy(req.GovernancePolicy); err != nil {
			return nil, NewValidationError("governance_policy", err.Error())
		}
	}
	if req.Status != nil {
		if err := models.PortfolioStatusValidator(*req.Status); err != nil {
			return nil, NewValidationError("status", err.Error())
		}
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Status != nil && *req.Status == models.PortfolioCompleted && p.Status != models.PortfolioCompleted {
		policy, err := governance.ParsePolicy(p.GovernancePolicy)
		if err != nil {
			return nil, fmt.Errorf("portfolio %s carries an invalid governance policy: %w", id, err)
		}
		if policy.CompletionMode != models.CompletionAuto {
			return nil, &governance.Violation{
				Rule:   models.PolicyCompletionMode,
				Reason: fmt.Sprintf("portfolio completion requires %s", policy.CompletionMode),
			}
		}
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, NewValidationError("name", "required")
		}
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Status != nil {
		p.Status = *req.Status
	}
	if req.GovernancePolicy != nil {
		p.GovernancePolicy = req.GovernancePolicy
	}
	p.UpdatedAt = now()

	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE portfolios SET name = ?, description = ?, status = ?, governance_policy = ?, updated_at = ?
		 WHERE id = ?`),
		p.Name, p.Description, p.Status, p.GovernancePolicy, p.UpdatedAt, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update portfolio: %w", err)
	}
	return p, nil
}

// Delete removes the portfolio and its memberships.
func (s *PortfolioService) Delete(ctx context.Context, id string) error {
	return inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM portfolio_memberships WHERE portfolio_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete memberships: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM portfolios WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete portfolio: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("portfolio %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// AddIntent places an intent into the portfolio. The membership is unique
// per pair; the event lands on the intent's log. Requires write on the
// intent because membership changes its effective governance.
func (s *PortfolioService) AddIntent(ctx context.Context, portfolioID string, req models.AddPortfolioIntentRequest, actor string) (*models.PortfolioMembership, error) {
	if req.IntentID == "" {
		return nil, NewValidationError("intent_id", "required")
	}
	role := req.Role
	if role == "" {
		role = models.MembershipMember
	}
	if err := models.MembershipRoleValidator(role); err != nil {
		return nil, NewValidationError("role", err.Error())
	}
	if _, err := s.Get(ctx, portfolioID); err != nil {
		return nil, err
	}

	m := &models.PortfolioMembership{
		ID:          newID(),
		PortfolioID: portfolioID,
		IntentID:    req.IntentID,
		Role:        role,
		Priority:    req.Priority,
		AddedAt:     now(),
	}

	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		intent, err := getIntentTx(ctx, tx, req.IntentID)
		if err != nil {
			return err
		}
		if err := s.acl.RequireTx(ctx, tx, intent, actor, models.PermissionWrite); err != nil {
			return err
		}

		var one int
		err = tx.QueryRowxContext(ctx, tx.Rebind(
			`SELECT 1 FROM portfolio_memberships WHERE portfolio_id = ? AND intent_id = ?`),
			portfolioID, req.IntentID).Scan(&one)
		if err == nil {
			return fmt.Errorf("intent %s already in portfolio: %w", req.IntentID, ErrAlreadyExists)
		}
		if !isNoRows(err) {
			return fmt.Errorf("failed to check membership: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO portfolio_memberships (id, portfolio_id, intent_id, role, priority, added_at)
			 VALUES (?, ?, ?, ?, ?, ?)`),
			m.ID, m.PortfolioID, m.IntentID, m.Role, m.Priority, m.AddedAt); err != nil {
			return fmt.Errorf("failed to insert membership: %w", err)
		}

		ev, err = s.events.Log(ctx, tx, req.IntentID, events.TypeAddedToPortfolio, actor, models.JSONMap{
			"portfolio_id": portfolioID,
			"role":         string(m.Role),
			"priority":     m.Priority,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return m, nil
}

// RemoveIntent takes an intent out of the portfolio.
func (s *PortfolioService) RemoveIntent(ctx context.Context, portfolioID, intentID, actor string) error {
	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		intent, err := getIntentTx(ctx, tx, intentID)
		if err != nil {
			return err
		}
		if err := s.acl.RequireTx(ctx, tx, intent, actor, models.PermissionWrite); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM portfolio_memberships WHERE portfolio_id = ? AND intent_id = ?`),
			portfolioID, intentID)
		if err != nil {
			return fmt.Errorf("failed to delete membership: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("intent %s not in portfolio %s: %w", intentID, portfolioID, ErrNotFound)
		}

		ev, err = s.events.Log(ctx, tx, intentID, events.TypeRemovedFromPortfolio, actor,
			models.JSONMap{"portfolio_id": portfolioID})
		return err
	})
	if err != nil {
		return err
	}

	s.events.Emit(ctx, ev)
	return nil
}

// GetIntents joins memberships to intents the principal can read and
// reports the aggregate status over the returned set.
func (s *PortfolioService) GetIntents(ctx context.Context, portfolioID, principal string) (*models.PortfolioIntentsResponse, error) {
	if _, err := s.Get(ctx, portfolioID); err != nil {
		return nil, err
	}

	memberships := []*models.PortfolioMembership{}
	err := s.db.SelectContext(ctx, &memberships, s.db.Rebind(
		`SELECT * FROM portfolio_memberships WHERE portfolio_id = ? ORDER BY priority DESC, added_at, id`),
		portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}

	resp := &models.PortfolioIntentsResponse{PortfolioID: portfolioID, Intents: []*models.PortfolioIntent{}}
	if len(memberships) == 0 {
		resp.AggregateStatus = models.Aggregate(nil)
		return resp, nil
	}

	ids := make([]string, len(memberships))
	for i, m := range memberships {
		ids[i] = m.IntentID
	}
	query, args, err := sqlx.In(`SELECT * FROM intents WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build member query: %w", err)
	}
	members := []*models.Intent{}
	if err := s.db.SelectContext(ctx, &members, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load member intents: %w", err)
	}

	readable, err := s.acl.FilterReadable(ctx, members, principal)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Intent, len(readable))
	for _, intent := range readable {
		byID[intent.ID] = intent
	}

	for _, m := range memberships {
		intent, ok := byID[m.IntentID]
		if !ok {
			continue
		}
		resp.Intents = append(resp.Intents, &models.PortfolioIntent{
			Intent:   intent,
			Role:     m.Role,
			Priority: m.Priority,
			AddedAt:  m.AddedAt,
		})
	}
	resp.AggregateStatus = models.Aggregate(readable)
	return resp, nil
}
