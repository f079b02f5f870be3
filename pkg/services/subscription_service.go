package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jmoiron/sqlx"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/models"
)

// SubscriptionService keeps per-intent webhook subscriptions. Delivery is
// best effort; the event-list API is the recovery path for missed events.
type SubscriptionService struct {
	db     *database.Client
	events *EventService
}

// NewSubscriptionService creates a SubscriptionService.
func NewSubscriptionService(db *database.Client, eventSvc *EventService) *SubscriptionService {
	return &SubscriptionService{db: db, events: eventSvc}
}

// Create registers a subscription on the intent's events.
func (s *SubscriptionService) Create(ctx context.Context, intentID string, req models.CreateSubscriptionRequest, actor string) (*models.IntentSubscription, error) {
	subscriberID := req.SubscriberID
	if subscriberID == "" {
		subscriberID = actor
	}
	if req.WebhookURL != "" {
		u, err := url.Parse(req.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, NewValidationError("webhook_url", "must be an absolute http or https URL")
		}
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now()) {
		return nil, NewValidationError("expires_at", "must be in the future")
	}

	sub := &models.IntentSubscription{
		ID:           newID(),
		IntentID:     intentID,
		SubscriberID: subscriberID,
		EventTypes:   models.StringList(req.EventTypes),
		WebhookURL:   req.WebhookURL,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    now(),
	}
	if sub.EventTypes == nil {
		sub.EventTypes = models.StringList{}
	}

	var ev *models.IntentEvent
	err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := intentExists(ctx, tx, intentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO intent_subscriptions (id, intent_id, subscriber_id, event_types, webhook_url, expires_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`),
			sub.ID, sub.IntentID, sub.SubscriberID, sub.EventTypes, sub.WebhookURL,
			sub.ExpiresAt, sub.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert subscription: %w", err)
		}
		var err error
		ev, err = s.events.Log(ctx, tx, intentID, events.TypeSubscriptionCreated, actor, models.JSONMap{
			"subscription_id": sub.ID,
			"subscriber_id":   sub.SubscriberID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, ev)
	return sub, nil
}

// List returns the intent's subscriptions in creation order.
func (s *SubscriptionService) List(ctx context.Context, intentID string) ([]*models.IntentSubscription, error) {
	if err := intentExistsDB(ctx, s.db, intentID); err != nil {
		return nil, err
	}
	out := []*models.IntentSubscription{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		`SELECT * FROM intent_subscriptions WHERE intent_id = ? ORDER BY created_at, id`), intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return out, nil
}

// Delete removes one subscription.
func (s *SubscriptionService) Delete(ctx context.Context, intentID, subscriptionID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM intent_subscriptions WHERE id = ? AND intent_id = ?`), subscriptionID, intentID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("subscription %s: %w", subscriptionID, ErrNotFound)
	}
	return nil
}

// SweepExpired removes subscriptions past their expiry and logs
// subscription_expired for each. Returns the number swept.
func (s *SubscriptionService) SweepExpired(ctx context.Context) (int, error) {
	ts := now()

	expired := []*models.IntentSubscription{}
	err := s.db.SelectContext(ctx, &expired, s.db.Rebind(
		`SELECT * FROM intent_subscriptions WHERE expires_at IS NOT NULL AND expires_at <= ?`), ts)
	if err != nil {
		return 0, fmt.Errorf("failed to scan expired subscriptions: %w", err)
	}

	swept := 0
	for _, sub := range expired {
		var ev *models.IntentEvent
		err := inTx(ctx, s.db, func(tx *sqlx.Tx) error {
			res, err := tx.ExecContext(ctx, tx.Rebind(
				`DELETE FROM intent_subscriptions WHERE id = ?`), sub.ID)
			if err != nil {
				return fmt.Errorf("failed to delete subscription: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
			ev, err = s.events.Log(ctx, tx, sub.IntentID, events.TypeSubscriptionExpired, sub.SubscriberID, models.JSONMap{
				"subscription_id": sub.ID,
				"subscriber_id":   sub.SubscriberID,
			})
			return err
		})
		if err != nil {
			slog.Error("Failed to sweep expired subscription", "subscription_id", sub.ID, "error", err)
			continue
		}
		if ev != nil {
			s.events.Emit(ctx, ev)
			swept++
		}
	}
	return swept, nil
}
