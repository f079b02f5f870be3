package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openintent-protocol/openintent/pkg/database"
	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/models"
)

// newTestServices wires the full service set over an in-memory store. The
// returned client lets tests inspect rows and age fixtures directly where
// no API exists for it (expiry sweeps, clock manipulation).
func newTestServices(t *testing.T) (*Services, *database.Client) {
	t.Helper()
	db, err := database.NewClient(context.Background(), "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, events.NewHub(16)), db
}

// createIntent makes a minimal intent owned by actor.
func createIntent(t *testing.T, svcs *Services, actor, title string) *models.Intent {
	t.Helper()
	intent, err := svcs.Intents.Create(context.Background(), models.CreateIntentRequest{Title: title}, actor)
	require.NoError(t, err)
	return intent
}

// closeACL flips the intent to a closed default policy so only the creator
// and explicit grants retain access.
func closeACL(t *testing.T, svcs *Services, intentID, admin string) {
	t.Helper()
	_, err := svcs.ACL.PutACL(context.Background(), intentID, models.PutACLRequest{
		DefaultPolicy: models.DefaultClosed,
	}, admin)
	require.NoError(t, err)
}

// eventTypes lists the intent's event log oldest-first as bare type names.
func eventTypes(t *testing.T, svcs *Services, intentID string) []string {
	t.Helper()
	resp, err := svcs.Events.List(context.Background(), intentID, models.EventFilters{Ascending: true, Limit: 1000})
	require.NoError(t, err)
	types := make([]string, 0, len(resp.Events))
	for _, ev := range resp.Events {
		types = append(types, ev.EventType)
	}
	return types
}

// lastEvent returns the newest event of the given type, failing the test
// when none exists.
func lastEvent(t *testing.T, svcs *Services, intentID, eventType string) *models.IntentEvent {
	t.Helper()
	resp, err := svcs.Events.List(context.Background(), intentID, models.EventFilters{EventType: eventType, Limit: 1})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Events, "expected a %s event on intent %s", eventType, intentID)
	return resp.Events[0]
}
