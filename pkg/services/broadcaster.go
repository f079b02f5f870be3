package services

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/models"
)

// webhookTimeout bounds one subscription webhook POST. Delivery is
// best-effort: no retry, failures are logged and dropped.
const webhookTimeout = 5 * time.Second

// FederationNotifier forwards committed events on federated intents back to
// their source server.
type FederationNotifier interface {
	NotifyEvent(ev *models.IntentEvent)
}

// Broadcaster fans committed events out to SSE subscribers and to webhook
// subscriptions. It never fails the originating request: route lookups and
// deliveries happen after commit and swallow their errors.
type Broadcaster struct {
	db          *database.Client
	hub         *events.Hub
	http        *http.Client
	fedNotifier FederationNotifier
}

// NewBroadcaster creates a broadcaster over the store and hub.
func NewBroadcaster(db *database.Client, hub *events.Hub) *Broadcaster {
	return &Broadcaster{
		db:  db,
		hub: hub,
		http: &http.Client{
			Timeout: webhookTimeout,
		},
	}
}

// SetFederationNotifier routes committed events into federation callbacks.
func (b *Broadcaster) SetFederationNotifier(n FederationNotifier) {
	b.fedNotifier = n
}

// Emit publishes committed events. Call only after the mutating transaction
// has committed.
func (b *Broadcaster) Emit(ctx context.Context, evs ...*models.IntentEvent) {
	if b == nil || b.hub == nil {
		return
	}
	for _, ev := range evs {
		env := &events.Envelope{
			Event:        ev,
			PortfolioIDs: b.portfoliosOf(ctx, ev.IntentID),
			AgentIDs:     b.agentsOf(ctx, ev.IntentID),
		}
		b.hub.Publish(env)
		go b.notifySubscriptions(ev)
		if b.fedNotifier != nil {
			go b.fedNotifier.NotifyEvent(ev)
		}
	}
}

func (b *Broadcaster) portfoliosOf(ctx context.Context, intentID string) []string {
	var ids []string
	err := b.db.SelectContext(ctx, &ids,
		b.db.Rebind("SELECT portfolio_id FROM portfolio_memberships WHERE intent_id = ?"), intentID)
	if err != nil {
		slog.Warn("Failed to resolve portfolio routes for event", "intent_id", intentID, "error", err)
		return nil
	}
	return ids
}

func (b *Broadcaster) agentsOf(ctx context.Context, intentID string) []string {
	var ids []string
	err := b.db.SelectContext(ctx, &ids,
		b.db.Rebind("SELECT agent_id FROM intent_agents WHERE intent_id = ?"), intentID)
	if err != nil {
		slog.Warn("Failed to resolve agent routes for event", "intent_id", intentID, "error", err)
		return nil
	}
	return ids
}

// notifySubscriptions POSTs the event to every live webhook subscription
// whose event-type filter matches.
func (b *Broadcaster) notifySubscriptions(ev *models.IntentEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	var subs []*models.IntentSubscription
	err := b.db.SelectContext(ctx, &subs,
		b.db.Rebind(`SELECT * FROM intent_subscriptions
			WHERE intent_id = ? AND webhook_url != ''
			AND (expires_at IS NULL OR expires_at > ?)`),
		ev.IntentID, now())
	if err != nil {
		slog.Warn("Failed to load subscriptions for event", "intent_id", ev.IntentID, "error", err)
		return
	}

	for _, sub := range subs {
		if !sub.Matches(ev.EventType) {
			continue
		}
		b.deliver(ctx, sub, ev)
	}
}

func (b *Broadcaster) deliver(ctx context.Context, sub *models.IntentSubscription, ev *models.IntentEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.WebhookURL, bytes.NewReader(body))
	if err != nil {
		slog.Warn("Invalid subscription webhook URL", "subscription_id", sub.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OpenIntent-Event", ev.EventType)

	resp, err := b.http.Do(req)
	if err != nil {
		slog.Warn("Subscription webhook delivery failed",
			"subscription_id", sub.ID, "event_type", ev.EventType, "error", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Warn("Subscription webhook rejected event",
			"subscription_id", sub.ID, "status", resp.StatusCode)
	}
}
