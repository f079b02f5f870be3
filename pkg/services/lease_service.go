package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/models"
)

const maxLeaseDurationSeconds = 86400

// LeaseService hands out scoped exclusive leases on intents. Exclusivity
// holds per (intent_id, scope): acquire re-checks liveness inside the same
// transaction that inserts, so a missed sweep never admits two holders.
type LeaseService struct {
	db     *database.Client
	events *EventService
}

// NewLeaseService creates a LeaseService.
func NewLeaseService(db *database.Client, eventSvc *EventService) *LeaseService {
	return &LeaseService{db: db, events: eventSvc}
}

// Acquire claims the scope for the agent when no live lease holds it.
func (s *LeaseService) Acquire(ctx context.Context, intentID string, req models.AcquireLeaseRequest, actor string) (*models.LeaseResponse, error) {
	agentID := req.AgentID
	if agentID == "" {
		agentID = actor
	}
	if req.Scope == "" {
		return nil, NewValidationError("scope", "required")
	}
	if req.DurationSeconds <= 0 || req.DurationSeconds > maxLeaseDurationSeconds {
		return nil, NewValidationError("duration_seconds",
			fmt.Sprintf("must be between 1 and %d", maxLeaseDurationSeconds))
	}

	ts := now()
	lease := &models.IntentLease{
		ID:         newID(),
		IntentID:   intentID,
		AgentID:    agentID,
		Scope:      req.Scope,
		AcquiredAt: ts,
		ExpiresAt:  ts.Add(time.Duration(req.DurationSeconds) * time.Second),
	}

	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.lockIntent(ctx, tx, intentID); err != nil {
			return err
		}

		var holder models.IntentLease
		err := tx.GetContext(ctx, &holder, tx.Rebind(
			`SELECT * FROM intent_leases
			 WHERE intent_id = ? AND scope = ? AND released_at IS NULL AND expires_at > ?
			 LIMIT 1`),
			intentID, req.Scope, ts)
		if err == nil {
			return fmt.Errorf("scope %q held by %s until %s: %w",
				req.Scope, holder.AgentID, holder.ExpiresAt.Format(time.RFC3339), ErrLeaseConflict)
		}
		if !isNoRows(err) {
			return fmt.Errorf("failed to check live leases: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO intent_leases (id, intent_id, agent_id, scope, acquired_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?)`),
			lease.ID, lease.IntentID, lease.AgentID, lease.Scope, lease.AcquiredAt, lease.ExpiresAt); err != nil {
			return fmt.Errorf("failed to insert lease: %w", err)
		}

		ev, err = s.events.Log(ctx, tx, intentID, events.TypeLeaseAcquired, agentID, models.JSONMap{
			"lease_id":   lease.ID,
			"agent_id":   agentID,
			"scope":      lease.Scope,
			"expires_at": lease.ExpiresAt.Format(time.RFC3339),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return &models.LeaseResponse{IntentLease: lease, Status: models.LeaseActive}, nil
}

// Renew extends a live lease. Only the holding agent may renew; released or
// expired leases cannot come back.
func (s *LeaseService) Renew(ctx context.Context, intentID, leaseID string, req models.RenewLeaseRequest, actor string) (*models.LeaseResponse, error) {
	agentID := req.AgentID
	if agentID == "" {
		agentID = actor
	}
	if req.DurationSeconds <= 0 || req.DurationSeconds > maxLeaseDurationSeconds {
		return nil, NewValidationError("duration_seconds",
			fmt.Sprintf("must be between 1 and %d", maxLeaseDurationSeconds))
	}

	ts := now()
	var lease models.IntentLease
	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.loadLease(ctx, tx, intentID, leaseID, &lease); err != nil {
			return err
		}
		if lease.AgentID != agentID {
			return fmt.Errorf("lease %s held by %s: %w", leaseID, lease.AgentID, ErrLeaseConflict)
		}
		if lease.StatusAt(ts) != models.LeaseActive {
			return fmt.Errorf("lease %s is %s: %w", leaseID, lease.StatusAt(ts), ErrLeaseConflict)
		}

		lease.ExpiresAt = ts.Add(time.Duration(req.DurationSeconds) * time.Second)
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE intent_leases SET expires_at = ? WHERE id = ?`),
			lease.ExpiresAt, leaseID); err != nil {
			return fmt.Errorf("failed to renew lease: %w", err)
		}

		var err error
		ev, err = s.events.Log(ctx, tx, intentID, events.TypeLeaseRenewed, agentID, models.JSONMap{
			"lease_id":   lease.ID,
			"scope":      lease.Scope,
			"expires_at": lease.ExpiresAt.Format(time.RFC3339),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return &models.LeaseResponse{IntentLease: &lease, Status: models.LeaseActive}, nil
}

// Release ends a lease. Only the holding agent may release; releasing an
// already-released lease is a no-op.
func (s *LeaseService) Release(ctx context.Context, intentID, leaseID string, actor string) (*models.LeaseResponse, error) {
	ts := now()
	var lease models.IntentLease
	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.loadLease(ctx, tx, intentID, leaseID, &lease); err != nil {
			return err
		}
		if lease.AgentID != actor {
			return fmt.Errorf("lease %s held by %s: %w", leaseID, lease.AgentID, ErrLeaseConflict)
		}
		if lease.ReleasedAt != nil {
			return nil
		}

		lease.ReleasedAt = &ts
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE intent_leases SET released_at = ? WHERE id = ?`),
			ts, leaseID); err != nil {
			return fmt.Errorf("failed to release lease: %w", err)
		}

		var err error
		ev, err = s.events.Log(ctx, tx, intentID, events.TypeLeaseReleased, actor, models.JSONMap{
			"lease_id": lease.ID,
			"scope":    lease.Scope,
			"reason":   "released",
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if ev != nil {
		s.events.Emit(ctx, ev)
	}
	return &models.LeaseResponse{IntentLease: &lease, Status: lease.StatusAt(now())}, nil
}

// List returns the intent's leases with their computed status, optionally
// narrowed to one scope.
func (s *LeaseService) List(ctx context.Context, intentID, scope string) ([]*models.LeaseResponse, error) {
	if err := intentExistsDB(ctx, s.db, intentID); err != nil {
		return nil, err
	}

	query := `SELECT * FROM intent_leases WHERE intent_id = ?`
	args := []any{intentID}
	if scope != "" {
		query += ` AND scope = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY acquired_at DESC, id`

	leases := []*models.IntentLease{}
	if err := s.db.SelectContext(ctx, &leases, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}

	ts := now()
	resp := make([]*models.LeaseResponse, len(leases))
	for i, l := range leases {
		resp[i] = &models.LeaseResponse{IntentLease: l, Status: l.StatusAt(ts)}
	}
	return resp, nil
}

// SweepExpired logs lease_released with reason expired for every lease that
// ran out since the last pass, marking it released so the sweep is
// idempotent. Returns the number of leases swept.
func (s *LeaseService) SweepExpired(ctx context.Context) (int, error) {
	ts := now()

	expired := []*models.IntentLease{}
	err := s.db.SelectContext(ctx, &expired, s.db.Rebind(
		`SELECT * FROM intent_leases WHERE released_at IS NULL AND expires_at <= ?`), ts)
	if err != nil {
		return 0, fmt.Errorf("failed to scan expired leases: %w", err)
	}

	swept := 0
	for _, lease := range expired {
		var ev *models.IntentEvent
		err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
			res, err := tx.ExecContext(ctx, tx.Rebind(
				`UPDATE intent_leases SET released_at = ?
				 WHERE id = ? AND released_at IS NULL AND expires_at <= ?`),
				ts, lease.ID, ts)
			if err != nil {
				return fmt.Errorf("failed to sweep lease: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
			ev, err = s.events.Log(ctx, tx, lease.IntentID, events.TypeLeaseReleased, lease.AgentID, models.JSONMap{
				"lease_id": lease.ID,
				"scope":    lease.Scope,
				"reason":   "expired",
			})
			return err
		})
		if err != nil {
			slog.Error("Failed to sweep expired lease", "lease_id", lease.ID, "error", err)
			continue
		}
		if ev != nil {
			s.events.Emit(ctx, ev)
			swept++
		}
	}
	return swept, nil
}

// lockIntent serializes concurrent acquires on the same intent. Postgres
// takes a row lock; the embedded store's single writer already serializes
// transactions.
func (s *LeaseService) lockIntent(ctx context.Context, tx *sqlx.Tx, intentID string) error {
	if s.db.Dialect() == database.DialectPostgres {
		var id string
		err := tx.QueryRowxContext(ctx,
			`SELECT id FROM intents WHERE id = $1 FOR UPDATE`, intentID).Scan(&id)
		if isNoRows(err) {
			return fmt.Errorf("intent %s: %w", intentID, ErrNotFound)
		}
		return err
	}
	return intentExists(ctx, tx, intentID)
}

func (s *LeaseService) loadLease(ctx context.Context, tx *sqlx.Tx, intentID, leaseID string, dest *models.IntentLease) error {
	err := tx.GetContext(ctx, dest, tx.Rebind(
		`SELECT * FROM intent_leases WHERE id = ? AND intent_id = ?`), leaseID, intentID)
	if isNoRows(err) {
		return fmt.Errorf("lease %s: %w", leaseID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load lease: %w", err)
	}
	return nil
}
