package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/governance"
	"github.com/openintent-protocol/openintent/pkg/models"
	"github.com/openintent-protocol/openintent/pkg/patch"
)

// IntentService owns intent CRUD and all version-guarded mutations. Every
// mutation runs as one transaction: compare-and-swap on version, the update,
// and the event append either all commit or none do. Fan-out happens after
// commit and never fails the call.
type IntentService struct {
	db     *database.Client
	events *EventService
	acl    *ACLService
	gov    *GovernanceService
}

// NewIntentService creates an IntentService.
func NewIntentService(db *database.Client, eventSvc *EventService, aclSvc *ACLService, govSvc *GovernanceService) *IntentService {
	return &IntentService{db: db, events: eventSvc, acl: aclSvc, gov: govSvc}
}

// Create inserts a new intent at version 1 and logs intent_created.
func (s *IntentService) Create(ctx context.Context, req models.CreateIntentRequest, actor string) (*models.Intent, error) {
	if req.Title == "" {
		return nil, NewValidationError("title", "required")
	}
	status := req.Status
	if status == "" {
		status = models.StatusDraft
	}
	if err := models.IntentStatusValidator(status); err != nil {
		return nil, NewValidationError("status", err.Error())
	}
	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
		if confidence < 0 || confidence > 1 {
			return nil, NewValidationError("confidence", "must be within [0, 1]")
		}
	}
	if _, err := governance.ParsePolicy(req.GovernancePolicy); err != nil {
		return nil, NewValidationError("governance_policy", err.Error())
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = actor
	}

	ts := now()
	intent := &models.Intent{
		ID:               newID(),
		Title:            req.Title,
		Description:      req.Description,
		CreatedBy:        createdBy,
		ParentIntentID:   req.ParentIntentID,
		DependsOn:        models.StringList(req.DependsOn),
		Constraints:      req.Constraints,
		State:            req.InitialState,
		Status:           status,
		Confidence:       confidence,
		Version:          1,
		GovernancePolicy: req.GovernancePolicy,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
	if intent.DependsOn == nil {
		intent.DependsOn = models.StringList{}
	}
	if intent.Constraints == nil {
		intent.Constraints = models.JSONMap{}
	}
	if intent.State == nil {
		intent.State = models.JSONMap{}
	}
	if intent.GovernancePolicy == nil {
		intent.GovernancePolicy = models.JSONMap{}
	}

	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if req.ParentIntentID != nil {
			if err := intentExists(ctx, tx, *req.ParentIntentID); err != nil {
				if errors.Is(err, ErrNotFound) {
					return NewValidationError("parent_intent_id", "parent intent does not exist")
				}
				return err
			}
		}
		seen := map[string]bool{}
		for _, dep := range intent.DependsOn {
			if dep == intent.ID {
				return NewValidationError("depends_on", "intent cannot depend on itself")
			}
			if seen[dep] {
				return NewValidationError("depends_on", fmt.Sprintf("duplicate dependency %s", dep))
			}
			seen[dep] = true
			if err := intentExists(ctx, tx, dep); err != nil {
				if errors.Is(err, ErrNotFound) {
					return NewValidationError("depends_on", fmt.Sprintf("dependency %s does not exist", dep))
				}
				return err
			}
		}

		_, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO intents (id, title, description, created_by, parent_intent_id, depends_on,
			                      constraints, state, status, confidence, version, governance_policy,
			                      created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			intent.ID, intent.Title, intent.Description, intent.CreatedBy, intent.ParentIntentID,
			intent.DependsOn, intent.Constraints, intent.State, intent.Status, intent.Confidence,
			intent.Version, intent.GovernancePolicy, intent.CreatedAt, intent.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert intent: %w", err)
		}

		payload := models.JSONMap{"title": intent.Title, "status": string(intent.Status)}
		if intent.ParentIntentID != nil {
			payload["parent_intent_id"] = *intent.ParentIntentID
		}
		ev, err = s.events.Log(ctx, tx, intent.ID, events.TypeIntentCreated, actor, payload)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return intent, nil
}

// Get loads one intent; the caller needs read permission.
func (s *IntentService) Get(ctx context.Context, id, principal string) (*models.Intent, error) {
	intent, err := getIntentDB(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := s.acl.Require(ctx, intent, principal, models.PermissionRead); err != nil {
		return nil, err
	}
	return intent, nil
}

// List returns a page of intents matching the filters, newest first.
// Intents the principal cannot read are elided from the page.
func (s *IntentService) List(ctx context.Context, filters models.IntentFilters, principal string) (*models.IntentListResponse, error) {
	where := "WHERE 1 = 1"
	args := []any{}
	if filters.Status != "" {
		if err := models.IntentStatusValidator(filters.Status); err != nil {
			return nil, NewValidationError("status", err.Error())
		}
		where += " AND status = ?"
		args = append(args, filters.Status)
	}
	if filters.CreatedBy != "" {
		where += " AND created_by = ?"
		args = append(args, filters.CreatedBy)
	}
	if filters.ParentID != "" {
		where += " AND parent_intent_id = ?"
		args = append(args, filters.ParentID)
	}

	var total int
	if err := s.db.GetContext(ctx, &total,
		s.db.Rebind("SELECT COUNT(*) FROM intents "+where), args...); err != nil {
		return nil, fmt.Errorf("failed to count intents: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args = append(args, limit, filters.Offset)

	intents := []*models.Intent{}
	err := s.db.SelectContext(ctx, &intents,
		s.db.Rebind("SELECT * FROM intents "+where+" ORDER BY created_at DESC, id LIMIT ? OFFSET ?"), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}

	readable, err := s.acl.FilterReadable(ctx, intents, principal)
	if err != nil {
		return nil, err
	}

	return &models.IntentListResponse{
		Intents:    readable,
		TotalCount: total,
		Limit:      limit,
		Offset:     filters.Offset,
	}, nil
}

// PatchState applies an ordered patch list to the intent's state under
// compare-and-swap. The whole list is rejected on the first bad patch.
func (s *IntentService) PatchState(ctx context.Context, id string, ifMatch int64, ops []patch.Op, actor string) (*models.Intent, error) {
	if err := patch.Validate(ops); err != nil {
		return nil, NewValidationError("patches", err.Error())
	}

	var intent *models.Intent
	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		intent, err = getIntentTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.acl.RequireTx(ctx, tx, intent, actor, models.PermissionWrite); err != nil {
			return err
		}
		if ifMatch != intent.Version {
			return &VersionConflictError{IntentID: id, CurrentVersion: intent.Version}
		}
		if err := s.gov.enforceWriteScope(ctx, tx, intent, actor); err != nil {
			return err
		}

		next, err := patch.Apply(intent.State, ops)
		if err != nil {
			return NewValidationError("patches", err.Error())
		}
		previous := intent.State

		if err := casUpdate(ctx, tx, intent, "state = ?", next); err != nil {
			return err
		}
		intent.State = next

		ev, err = s.events.Log(ctx, tx, id, events.TypeStatePatched, actor, models.JSONMap{
			"patches":        ops,
			"previous_state": previous,
			"new_state":      next,
			"version":        intent.Version,
		})
		return err
	})
	if err != nil {
		s.gov.recordViolation(ctx, id, actor, "patch_state", err)
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return intent, nil
}

// SetStatus transitions the intent's lifecycle status under
// compare-and-swap. Completion is gated by the effective governance policy,
// and completed intents accept no further transitions.
func (s *IntentService) SetStatus(ctx context.Context, id string, ifMatch int64, req models.SetStatusRequest, actor string) (*models.Intent, error) {
	if err := models.IntentStatusValidator(req.Status); err != nil {
		return nil, NewValidationError("status", err.Error())
	}

	var intent *models.Intent
	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		intent, err = getIntentTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.acl.RequireTx(ctx, tx, intent, actor, models.PermissionWrite); err != nil {
			return err
		}
		if ifMatch != intent.Version {
			return &VersionConflictError{IntentID: id, CurrentVersion: intent.Version}
		}
		if intent.Status == models.StatusCompleted {
			return NewValidationError("status", "completed intents accept no further transitions")
		}
		if err := s.gov.enforceWriteScope(ctx, tx, intent, actor); err != nil {
			return err
		}
		if req.Status == models.StatusCompleted {
			if err := s.gov.enforceCompletion(ctx, tx, intent); err != nil {
				return err
			}
		}

		if err := casUpdate(ctx, tx, intent, "status = ?", req.Status); err != nil {
			return err
		}
		from := intent.Status
		intent.Status = req.Status

		payload := models.JSONMap{"from": string(from), "to": string(req.Status)}
		if req.Reason != "" {
			payload["reason"] = req.Reason
		}
		ev, err = s.events.Log(ctx, tx, id, events.TypeStatusChanged, actor, payload)
		return err
	})
	if err != nil {
		s.gov.recordViolation(ctx, id, actor, "set_status", err)
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return intent, nil
}

// AddDependency appends depID to the intent's depends_on list under
// compare-and-swap, rejecting edges that would close a cycle.
func (s *IntentService) AddDependency(ctx context.Context, id string, ifMatch int64, depID, actor string) (*models.Intent, error) {
	if depID == "" {
		return nil, NewValidationError("dependency_id", "required")
	}
	if depID == id {
		return nil, NewValidationError("dependency_id", "intent cannot depend on itself")
	}

	var intent *models.Intent
	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		intent, err = getIntentTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.acl.RequireTx(ctx, tx, intent, actor, models.PermissionWrite); err != nil {
			return err
		}
		if ifMatch != intent.Version {
			return &VersionConflictError{IntentID: id, CurrentVersion: intent.Version}
		}
		if intent.DependsOn.Contains(depID) {
			return NewValidationError("dependency_id", "dependency already present")
		}
		if err := intentExists(ctx, tx, depID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return NewValidationError("dependency_id", fmt.Sprintf("dependency %s does not exist", depID))
			}
			return err
		}
		cycle, err := wouldCreateCycle(ctx, tx, id, depID)
		if err != nil {
			return err
		}
		if cycle {
			return NewValidationError("dependency_id", fmt.Sprintf("adding %s would create a dependency cycle", depID))
		}

		next := append(intent.DependsOn.Clone(), depID)
		if err := casUpdate(ctx, tx, intent, "depends_on = ?", next); err != nil {
			return err
		}
		intent.DependsOn = next

		ev, err = s.events.Log(ctx, tx, id, events.TypeDependencyAdded, actor,
			models.JSONMap{"dependency_id": depID})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return intent, nil
}

// RemoveDependency drops depID from the intent's depends_on list under
// compare-and-swap. Removing an absent dependency is a no-op: the version
// does not move and no event is logged.
func (s *IntentService) RemoveDependency(ctx context.Context, id string, ifMatch int64, depID, actor string) (*models.Intent, error) {
	var intent *models.Intent
	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		intent, err = getIntentTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.acl.RequireTx(ctx, tx, intent, actor, models.PermissionWrite); err != nil {
			return err
		}
		if ifMatch != intent.Version {
			return &VersionConflictError{IntentID: id, CurrentVersion: intent.Version}
		}
		if !intent.DependsOn.Contains(depID) {
			return nil
		}

		next := make(models.StringList, 0, len(intent.DependsOn)-1)
		for _, d := range intent.DependsOn {
			if d != depID {
				next = append(next, d)
			}
		}
		if err := casUpdate(ctx, tx, intent, "depends_on = ?", next); err != nil {
			return err
		}
		intent.DependsOn = next

		ev, err = s.events.Log(ctx, tx, id, events.TypeDependencyRemoved, actor,
			models.JSONMap{"dependency_id": depID})
		return err
	})
	if err != nil {
		return nil, err
	}

	if ev != nil {
		s.events.Emit(ctx, ev)
	}
	return intent, nil
}

// casUpdate applies setClause and bumps version by one, guarded on the
// version the intent was loaded at. The loaded struct's Version and
// UpdatedAt are advanced on success.
func casUpdate(ctx context.Context, tx *sqlx.Tx, intent *models.Intent, setClause string, setArgs ...any) error {
	ts := now()
	args := append(setArgs, ts, intent.ID, intent.Version)
	res, err := tx.ExecContext(ctx, tx.Rebind(
		"UPDATE intents SET "+setClause+", version = version + 1, updated_at = ? WHERE id = ? AND version = ?"),
		args...)
	if err != nil {
		return fmt.Errorf("failed to update intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		current, cerr := currentVersion(ctx, tx, intent.ID)
		if cerr != nil {
			return cerr
		}
		return &VersionConflictError{IntentID: intent.ID, CurrentVersion: current}
	}
	intent.Version++
	intent.UpdatedAt = ts
	return nil
}

func currentVersion(ctx context.Context, tx *sqlx.Tx, intentID string) (int64, error) {
	var v int64
	err := tx.QueryRowxContext(ctx, tx.Rebind(
		`SELECT version FROM intents WHERE id = ?`), intentID).Scan(&v)
	if isNoRows(err) {
		return 0, fmt.Errorf("intent %s: %w", intentID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read intent version: %w", err)
	}
	return v, nil
}

// wouldCreateCycle reports whether adding the edge from -> to would make
// from reachable from to through existing depends_on edges. The walk is
// iterative and bounded so a pathological graph cannot pin the transaction.
func wouldCreateCycle(ctx context.Context, tx *sqlx.Tx, from, to string) (bool, error) {
	const maxVisited = 10000

	visited := map[string]bool{}
	frontier := []string{to}
	for len(frontier) > 0 {
		node := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if node == from {
			return true, nil
		}
		if visited[node] {
			continue
		}
		visited[node] = true
		if len(visited) > maxVisited {
			return false, NewValidationError("dependency_id", "dependency graph too large to verify")
		}

		var deps models.StringList
		err := tx.QueryRowxContext(ctx, tx.Rebind(
			`SELECT depends_on FROM intents WHERE id = ?`), node).Scan(&deps)
		if isNoRows(err) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to walk dependencies: %w", err)
		}
		frontier = append(frontier, deps...)
	}
	return false, nil
}
