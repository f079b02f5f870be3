package services

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/models"
)

const defaultAgentRole = "worker"

// AssignmentService links agents to intents. Assigning the first agent to a
// draft intent activates it.
type AssignmentService struct {
	db     *database.Client
	events *EventService
	acl    *ACLService
}

// NewAssignmentService creates an AssignmentService.
func NewAssignmentService(db *database.Client, eventSvc *EventService, aclSvc *ACLService) *AssignmentService {
	return &AssignmentService{db: db, events: eventSvc, acl: aclSvc}
}

// Assign adds the agent to the intent's roster.
func (s *AssignmentService) Assign(ctx context.Context, intentID string, req models.AssignAgentRequest, actor string) (*models.Assignment, error) {
	if req.AgentID == "" {
		return nil, NewValidationError("agent_id", "required")
	}
	role := req.Role
	if role == "" {
		role = defaultAgentRole
	}

	assignment := &models.Assignment{
		ID:         newID(),
		IntentID:   intentID,
		AgentID:    req.AgentID,
		Role:       role,
		AssignedAt: now(),
	}

	var evs []*models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		intent, err := getIntentTx(ctx, tx, intentID)
		if err != nil {
			return err
		}
		if err := s.acl.RequireTx(ctx, tx, intent, actor, models.PermissionWrite); err != nil {
			return err
		}

		var one int
		err = tx.QueryRowxContext(ctx, tx.Rebind(
			`SELECT 1 FROM intent_agents WHERE intent_id = ? AND agent_id = ?`),
			intentID, req.AgentID).Scan(&one)
		if err == nil {
			return fmt.Errorf("agent %s already assigned: %w", req.AgentID, ErrAlreadyExists)
		}
		if !isNoRows(err) {
			return fmt.Errorf("failed to check assignment: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO intent_agents (id, intent_id, agent_id, role, assigned_at)
			 VALUES (?, ?, ?, ?, ?)`),
			assignment.ID, assignment.IntentID, assignment.AgentID, assignment.Role, assignment.AssignedAt); err != nil {
			return fmt.Errorf("failed to insert assignment: %w", err)
		}

		ev, err := s.events.Log(ctx, tx, intentID, events.TypeAgentAssigned, actor, models.JSONMap{
			"agent_id": assignment.AgentID,
			"role":     assignment.Role,
		})
		if err != nil {
			return err
		}
		evs = append(evs, ev)

		if intent.Status == models.StatusDraft {
			if err := casUpdate(ctx, tx, intent, "status = ?", models.StatusActive); err != nil {
				return err
			}
			statusEv, err := s.events.Log(ctx, tx, intentID, events.TypeStatusChanged, actor, models.JSONMap{
				"from":   string(models.StatusDraft),
				"to":     string(models.StatusActive),
				"reason": "agent assigned",
			})
			if err != nil {
				return err
			}
			evs = append(evs, statusEv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, evs...)
	return assignment, nil
}

// Unassign removes the agent from the intent's roster.
func (s *AssignmentService) Unassign(ctx context.Context, intentID, agentID, actor string) error {
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
			`DELETE FROM intent_agents WHERE intent_id = ? AND agent_id = ?`),
			intentID, agentID)
		if err != nil {
			return fmt.Errorf("failed to delete assignment: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("agent %s not assigned: %w", agentID, ErrNotFound)
		}

		ev, err = s.events.Log(ctx, tx, intentID, events.TypeAgentUnassigned, actor,
			models.JSONMap{"agent_id": agentID})
		return err
	})
	if err != nil {
		return err
	}

	s.events.Emit(ctx, ev)
	return nil
}

// List returns the intent's assignments in assignment order.
func (s *AssignmentService) List(ctx context.Context, intentID string) ([]*models.Assignment, error) {
	if err := intentExistsDB(ctx, s.db, intentID); err != nil {
		return nil, err
	}

	assignments := []*models.Assignment{}
	err := s.db.SelectContext(ctx, &assignments, s.db.Rebind(
		`SELECT * FROM intent_agents WHERE intent_id = ? ORDER BY assigned_at, id`), intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return assignments, nil
}
