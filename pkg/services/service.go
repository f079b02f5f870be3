// Package services implements the domain operations over the relational
// store. Services own transactions: every mutating operation runs in one
// transaction, appends its events inside it, and fans out to subscribers
// only after commit.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
)

// Services bundles every domain service over one store client. Federation
// is nil until WithFederation wires it; the HTTP layer answers 503 for
// federation operations in that case.
type Services struct {
	Intents       *IntentService
	Events        *EventService
	Leases        *LeaseService
	Assignments   *AssignmentService
	Graph         *GraphService
	Governance    *GovernanceService
	ACL           *ACLService
	Portfolios    *PortfolioService
	Channels      *ChannelService
	Records       *RecordsService
	Subscriptions *SubscriptionService
	Federation    *FederationService

	broadcaster *Broadcaster
}

// New wires all services over the store client and fan-out hub.
func New(db *database.Client, hub *events.Hub) *Services {
	b := NewBroadcaster(db, hub)
	eventSvc := NewEventService(db, b)
	aclSvc := NewACLService(db, eventSvc)
	govSvc := NewGovernanceService(db, eventSvc, aclSvc)
	graphSvc := NewGraphService(db, aclSvc)

	return &Services{
		Intents:       NewIntentService(db, eventSvc, aclSvc, govSvc),
		Events:        eventSvc,
		Leases:        NewLeaseService(db, eventSvc),
		Assignments:   NewAssignmentService(db, eventSvc, aclSvc),
		Graph:         graphSvc,
		Governance:    govSvc,
		ACL:           aclSvc,
		Portfolios:    NewPortfolioService(db, eventSvc, aclSvc),
		Channels:      NewChannelService(db, eventSvc),
		Records:       NewRecordsService(db, eventSvc, govSvc),
		Subscriptions: NewSubscriptionService(db, eventSvc),
		broadcaster:   b,
	}
}

// WithFederation wires the federation service and routes committed events
// on federated intents back to their source as callbacks.
func (s *Services) WithFederation(db *database.Client, opts FederationOptions) *Services {
	s.Federation = NewFederationService(db, s.Events, s.ACL, opts)
	s.broadcaster.SetFederationNotifier(s.Federation)
	return s
}

// now returns the UTC instant every timestamp column stores.
func now() time.Time {
	return time.Now().UTC()
}

// newID mints an opaque entity id.
func newID() string {
	return uuid.New().String()
}

// inTx runs fn inside one transaction, committing on nil error. The deferred
// rollback is a no-op after commit.
func inTx(ctx context.Context, db *database.Client, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
