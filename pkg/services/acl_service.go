package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/models"
)

// ACLService evaluates and mutates per-intent access control.
//
// Evaluation order: the creator always holds admin; an intent without an
// ACL row is unrestricted (enforcement activates once put_acl or grant
// creates the row); otherwise an unexpired matching entry wins, and absent
// any match the default policy yields read (open) or none (closed).
type ACLService struct {
	db     *database.Client
	events *EventService
}

// NewACLService creates an ACLService.
func NewACLService(db *database.Client, eventSvc *EventService) *ACLService {
	return &ACLService{db: db, events: eventSvc}
}

// EffectivePermission computes the principal's permission on an intent.
func (s *ACLService) EffectivePermission(ctx context.Context, intentID, principal string) (models.Permission, error) {
	intent, err := getIntentDB(ctx, s.db, intentID)
	if err != nil {
		return models.PermissionNone, err
	}
	return s.effectivePermission(ctx, s.db, intent, principal)
}

// Require fails with a PermissionError unless the principal holds at least
// the required permission on the intent.
func (s *ACLService) Require(ctx context.Context, intent *models.Intent, principal string, required models.Permission) error {
	return s.require(ctx, s.db, intent, principal, required)
}

// RequireTx is Require inside the caller's transaction.
func (s *ACLService) RequireTx(ctx context.Context, tx *sqlx.Tx, intent *models.Intent, principal string, required models.Permission) error {
	return s.require(ctx, tx, intent, principal, required)
}

// FilterReadable elides intents the principal cannot read.
func (s *ACLService) FilterReadable(ctx context.Context, intents []*models.Intent, principal string) ([]*models.Intent, error) {
	readable := make([]*models.Intent, 0, len(intents))
	for _, intent := range intents {
		err := s.Require(ctx, intent, principal, models.PermissionRead)
		if err != nil {
			var perr *PermissionError
			if errors.As(err, &perr) {
				continue
			}
			return nil, err
		}
		readable = append(readable, intent)
	}
	return readable, nil
}

func (s *ACLService) require(ctx context.Context, q sqlx.ExtContext, intent *models.Intent, principal string, required models.Permission) error {
	perm, err := s.effectivePermission(ctx, q, intent, principal)
	if err != nil {
		return err
	}
	if !perm.Satisfies(required) {
		return &PermissionError{Principal: principal, Required: required}
	}
	return nil
}

func (s *ACLService) effectivePermission(ctx context.Context, q sqlx.ExtContext, intent *models.Intent, principal string) (models.Permission, error) {
	if principal != "" && principal == intent.CreatedBy {
		return models.PermissionAdmin, nil
	}

	var acl models.IntentACL
	err := sqlx.GetContext(ctx, q, &acl, q.Rebind(
		`SELECT * FROM intent_acls WHERE intent_id = ?`), intent.ID)
	if isNoRows(err) {
		return models.PermissionAdmin, nil
	}
	if err != nil {
		return models.PermissionNone, fmt.Errorf("failed to load acl: %w", err)
	}

	entries := []*models.ACLEntry{}
	err = sqlx.SelectContext(ctx, q, &entries, q.Rebind(
		`SELECT * FROM acl_entries WHERE intent_id = ? AND principal_id = ?`), intent.ID, principal)
	if err != nil {
		return models.PermissionNone, fmt.Errorf("failed to load acl entries: %w", err)
	}

	ts := now()
	best := models.PermissionNone
	matched := false
	for _, e := range entries {
		if e.ExpiredAt(ts) {
			continue
		}
		matched = true
		if e.Permission.Satisfies(best) {
			best = e.Permission
		}
	}
	if matched {
		return best, nil
	}
	if acl.DefaultPolicy == models.DefaultOpen {
		return models.PermissionRead, nil
	}
	return models.PermissionNone, nil
}

// GetACL returns the intent's ACL view. An intent without an ACL row reads
// as open with no entries.
func (s *ACLService) GetACL(ctx context.Context, intentID, principal string) (*models.ACLResponse, error) {
	intent, err := getIntentDB(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if err := s.Require(ctx, intent, principal, models.PermissionRead); err != nil {
		return nil, err
	}

	resp := &models.ACLResponse{IntentID: intentID, DefaultPolicy: models.DefaultOpen, Entries: []*models.ACLEntry{}}

	var acl models.IntentACL
	err = s.db.GetContext(ctx, &acl, s.db.Rebind(
		`SELECT * FROM intent_acls WHERE intent_id = ?`), intentID)
	if isNoRows(err) {
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load acl: %w", err)
	}
	resp.DefaultPolicy = acl.DefaultPolicy

	err = s.db.SelectContext(ctx, &resp.Entries, s.db.Rebind(
		`SELECT * FROM acl_entries WHERE intent_id = ? ORDER BY granted_at, id`), intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load acl entries: %w", err)
	}
	return resp, nil
}

// PutACL replaces the intent's ACL wholesale: default policy and the full
// entry set. Requires admin.
func (s *ACLService) PutACL(ctx context.Context, intentID string, req models.PutACLRequest, actor string) (*models.ACLResponse, error) {
	if err := models.DefaultPolicyValidator(req.DefaultPolicy); err != nil {
		return nil, NewValidationError("default_policy", err.Error())
	}
	for i, e := range req.Entries {
		if e.PrincipalID == "" {
			return nil, NewValidationError("entries", fmt.Sprintf("entry %d: principal_id required", i))
		}
		if err := models.PermissionValidator(e.Permission); err != nil {
			return nil, NewValidationError("entries", fmt.Sprintf("entry %d: %s", i, err.Error()))
		}
	}

	intent, err := getIntentDB(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if err := s.Require(ctx, intent, actor, models.PermissionAdmin); err != nil {
		return nil, err
	}

	ts := now()
	var ev *models.IntentEvent
	err = inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := ensureACLRow(ctx, tx, intentID, req.DefaultPolicy); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE intent_acls SET default_policy = ?, updated_at = ? WHERE intent_id = ?`),
			req.DefaultPolicy, ts, intentID); err != nil {
			return fmt.Errorf("failed to update acl: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM acl_entries WHERE intent_id = ?`), intentID); err != nil {
			return fmt.Errorf("failed to clear acl entries: %w", err)
		}
		for _, e := range req.Entries {
			if err := insertACLEntry(ctx, tx, intentID, e, actor, ts); err != nil {
				return err
			}
		}
		var err error
		ev, err = s.events.Log(ctx, tx, intentID, events.TypeAccessPolicySet, actor, models.JSONMap{
			"default_policy": string(req.DefaultPolicy),
			"entry_count":    len(req.Entries),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return s.GetACL(ctx, intentID, actor)
}

// Grant adds one ACL entry. Requires admin.
func (s *ACLService) Grant(ctx context.Context, intentID string, req models.GrantACLRequest, actor string) (*models.ACLEntry, error) {
	if req.PrincipalID == "" {
		return nil, NewValidationError("principal_id", "required")
	}
	if err := models.PermissionValidator(req.Permission); err != nil {
		return nil, NewValidationError("permission", err.Error())
	}

	intent, err := getIntentDB(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if err := s.Require(ctx, intent, actor, models.PermissionAdmin); err != nil {
		return nil, err
	}

	ts := now()
	entry := &models.ACLEntry{
		ID:            newID(),
		IntentID:      intentID,
		PrincipalID:   req.PrincipalID,
		PrincipalType: principalTypeOrDefault(req.PrincipalType),
		Permission:    req.Permission,
		GrantedBy:     actor,
		GrantedAt:     ts,
		ExpiresAt:     req.ExpiresAt,
		Reason:        req.Reason,
	}

	var ev *models.IntentEvent
	err = inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := ensureACLRow(ctx, tx, intentID, models.DefaultOpen); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO acl_entries (id, intent_id, principal_id, principal_type, permission,
			                          granted_by, granted_at, expires_at, reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			entry.ID, entry.IntentID, entry.PrincipalID, entry.PrincipalType, entry.Permission,
			entry.GrantedBy, entry.GrantedAt, entry.ExpiresAt, entry.Reason); err != nil {
			return fmt.Errorf("failed to insert acl entry: %w", err)
		}
		var err error
		ev, err = s.events.Log(ctx, tx, intentID, events.TypeAccessGranted, actor, models.JSONMap{
			"entry_id":     entry.ID,
			"principal_id": entry.PrincipalID,
			"permission":   string(entry.Permission),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return entry, nil
}

// Revoke removes one ACL entry by id. Requires admin.
func (s *ACLService) Revoke(ctx context.Context, intentID, entryID, actor string) error {
	intent, err := getIntentDB(ctx, s.db, intentID)
	if err != nil {
		return err
	}
	if err := s.Require(ctx, intent, actor, models.PermissionAdmin); err != nil {
		return err
	}

	var ev *models.IntentEvent
	err = inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var entry models.ACLEntry
		err := tx.GetContext(ctx, &entry, tx.Rebind(
			`SELECT * FROM acl_entries WHERE id = ? AND intent_id = ?`), entryID, intentID)
		if isNoRows(err) {
			return fmt.Errorf("acl entry %s: %w", entryID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load acl entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM acl_entries WHERE id = ?`), entryID); err != nil {
			return fmt.Errorf("failed to delete acl entry: %w", err)
		}
		ev, err = s.events.Log(ctx, tx, intentID, events.TypeAccessRevoked, actor, models.JSONMap{
			"entry_id":     entry.ID,
			"principal_id": entry.PrincipalID,
			"permission":   string(entry.Permission),
		})
		return err
	})
	if err != nil {
		return err
	}

	s.events.Emit(ctx, ev)
	return nil
}

// CreateAccessRequest records a pending request for permission on an
// intent. The requester needs no existing permission.
func (s *ACLService) CreateAccessRequest(ctx context.Context, intentID string, req models.CreateAccessRequestRequest, actor string) (*models.AccessRequest, error) {
	principal := req.PrincipalID
	if principal == "" {
		principal = actor
	}
	if err := models.PermissionValidator(req.RequestedPermission); err != nil {
		return nil, NewValidationError("requested_permission", err.Error())
	}

	ar := &models.AccessRequest{
		ID:                  newID(),
		IntentID:            intentID,
		PrincipalID:         principal,
		RequestedPermission: req.RequestedPermission,
		Reason:              req.Reason,
		Capabilities:        models.StringList(req.Capabilities),
		Status:              models.AccessPending,
		CreatedAt:           now(),
	}
	if ar.Capabilities == nil {
		ar.Capabilities = models.StringList{}
	}

	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := intentExists(ctx, tx, intentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO access_requests (id, intent_id, principal_id, requested_permission, reason,
			                              capabilities, status, decision_reason, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, '', ?)`),
			ar.ID, ar.IntentID, ar.PrincipalID, ar.RequestedPermission, ar.Reason,
			ar.Capabilities, ar.Status, ar.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert access request: %w", err)
		}
		var err error
		ev, err = s.events.Log(ctx, tx, intentID, events.TypeAccessRequested, actor, models.JSONMap{
			"request_id":           ar.ID,
			"principal_id":         ar.PrincipalID,
			"requested_permission": string(ar.RequestedPermission),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return ar, nil
}

// ListAccessRequests returns the intent's access requests, newest first.
func (s *ACLService) ListAccessRequests(ctx context.Context, intentID, principal string) ([]*models.AccessRequest, error) {
	intent, err := getIntentDB(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if err := s.Require(ctx, intent, principal, models.PermissionRead); err != nil {
		return nil, err
	}

	requests := []*models.AccessRequest{}
	err = s.db.SelectContext(ctx, &requests, s.db.Rebind(
		`SELECT * FROM access_requests WHERE intent_id = ? ORDER BY created_at DESC, id`), intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list access requests: %w", err)
	}
	return requests, nil
}

// DecideAccessRequest approves or denies a pending request. Approval grants
// the requested permission as a fresh ACL entry. Requires admin; decided
// requests are immutable.
func (s *ACLService) DecideAccessRequest(ctx context.Context, intentID, requestID string, approve bool, req models.DecideRequest, actor string) (*models.AccessRequest, error) {
	intent, err := getIntentDB(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}
	if err := s.Require(ctx, intent, actor, models.PermissionAdmin); err != nil {
		return nil, err
	}

	ts := now()
	var ar models.AccessRequest
	var evs []*models.IntentEvent
	err = inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &ar, tx.Rebind(
			`SELECT * FROM access_requests WHERE id = ? AND intent_id = ?`), requestID, intentID)
		if isNoRows(err) {
			return fmt.Errorf("access request %s: %w", requestID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load access request: %w", err)
		}
		if ar.Status != models.AccessPending {
			return fmt.Errorf("access request %s: %w", requestID, ErrAlreadyDecided)
		}

		status := models.AccessDenied
		eventType := events.TypeAccessRequestDenied
		if approve {
			status = models.AccessApproved
			eventType = events.TypeAccessRequestApproved
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE access_requests SET status = ?, decided_by = ?, decided_at = ?, decision_reason = ?
			 WHERE id = ?`),
			status, actor, ts, req.Reason, requestID); err != nil {
			return fmt.Errorf("failed to decide access request: %w", err)
		}
		ar.Status = status
		ar.DecidedBy = &actor
		ar.DecidedAt = &ts
		ar.DecisionReason = req.Reason

		if approve {
			if _, err := ensureACLRow(ctx, tx, intentID, models.DefaultOpen); err != nil {
				return err
			}
			entry := models.GrantACLRequest{
				PrincipalID: ar.PrincipalID,
				Permission:  ar.RequestedPermission,
				Reason:      ar.Reason,
			}
			if err := insertACLEntry(ctx, tx, intentID, entry, actor, ts); err != nil {
				return err
			}
			grantEv, err := s.events.Log(ctx, tx, intentID, events.TypeAccessGranted, actor, models.JSONMap{
				"principal_id": ar.PrincipalID,
				"permission":   string(ar.RequestedPermission),
				"request_id":   ar.ID,
			})
			if err != nil {
				return err
			}
			evs = append(evs, grantEv)
		}

		decisionEv, err := s.events.Log(ctx, tx, intentID, eventType, actor, models.JSONMap{
			"request_id":   ar.ID,
			"principal_id": ar.PrincipalID,
		})
		if err != nil {
			return err
		}
		evs = append(evs, decisionEv)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, evs...)
	return &ar, nil
}

func ensureACLRow(ctx context.Context, tx *sqlx.Tx, intentID string, policy models.DefaultPolicy) (*models.IntentACL, error) {
	var acl models.IntentACL
	err := tx.GetContext(ctx, &acl, tx.Rebind(
		`SELECT * FROM intent_acls WHERE intent_id = ?`), intentID)
	if err == nil {
		return &acl, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("failed to load acl: %w", err)
	}

	if err := intentExists(ctx, tx, intentID); err != nil {
		return nil, err
	}
	ts := now()
	acl = models.IntentACL{ID: newID(), IntentID: intentID, DefaultPolicy: policy, CreatedAt: ts, UpdatedAt: ts}
	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO intent_acls (id, intent_id, default_policy, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`),
		acl.ID, acl.IntentID, acl.DefaultPolicy, acl.CreatedAt, acl.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert acl: %w", err)
	}
	return &acl, nil
}

func insertACLEntry(ctx context.Context, tx *sqlx.Tx, intentID string, req models.GrantACLRequest, actor string, ts time.Time) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO acl_entries (id, intent_id, principal_id, principal_type, permission,
		                          granted_by, granted_at, expires_at, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		newID(), intentID, req.PrincipalID, principalTypeOrDefault(req.PrincipalType), req.Permission,
		actor, ts, req.ExpiresAt, req.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert acl entry: %w", err)
	}
	return nil
}

func principalTypeOrDefault(t string) string {
	if t == "" {
		return "agent"
	}
	return t
}
