package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/models"
)

func TestAppendEvent(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()
	intent := createIntent(t, svcs, "agent-1", "observed")

	ev, err := svcs.Events.Append(ctx, intent.ID, models.AppendEventRequest{
		EventType: "tool_call",
		Payload:   models.JSONMap{"tool": "search", "latency_ms": 41},
	}, "agent-1")
	require.NoError(t, err)

	assert.Equal(t, int64(2), ev.Sequence, "sequences continue after intent_created")
	assert.Equal(t, "agent-1", ev.Actor)
	assert.NotZero(t, ev.ID)

	got := lastEvent(t, svcs, intent.ID, "tool_call")
	assert.Equal(t, "search", got.Payload["tool"])
}

func TestAppendEventValidation(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()
	intent := createIntent(t, svcs, "agent-1", "observed")

	t.Run("reserved type", func(t *testing.T) {
		for _, reserved := range []string{events.TypeIntentCreated, events.TypeStatusChanged, events.TypeViolation} {
			_, err := svcs.Events.Append(ctx, intent.ID, models.AppendEventRequest{EventType: reserved}, "agent-1")
			require.Error(t, err, reserved)
			assert.Contains(t, err.Error(), fmt.Sprintf("%q is reserved for server-emitted events", reserved))
		}
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := svcs.Events.Append(ctx, intent.ID, models.AppendEventRequest{}, "agent-1")
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("unknown intent", func(t *testing.T) {
		_, err := svcs.Events.Append(ctx, "no-such-intent", models.AppendEventRequest{EventType: "tool_call"}, "agent-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListEvents(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()
	intent := createIntent(t, svcs, "agent-1", "logged")

	_, err := svcs.Events.Append(ctx, intent.ID, models.AppendEventRequest{EventType: "tool_call"}, "agent-1")
	require.NoError(t, err)
	mid := time.Now().UTC()
	_, err = svcs.Events.Append(ctx, intent.ID, models.AppendEventRequest{EventType: "observation"}, "agent-2")
	require.NoError(t, err)

	t.Run("newest first by default", func(t *testing.T) {
		resp, err := svcs.Events.List(ctx, intent.ID, models.EventFilters{})
		require.NoError(t, err)
		require.Len(t, resp.Events, 3)
		assert.Equal(t, "observation", resp.Events[0].EventType)
		assert.Equal(t, events.TypeIntentCreated, resp.Events[2].EventType)
		assert.Equal(t, 3, resp.TotalCount)
	})

	t.Run("ascending", func(t *testing.T) {
		resp, err := svcs.Events.List(ctx, intent.ID, models.EventFilters{Ascending: true})
		require.NoError(t, err)
		require.Len(t, resp.Events, 3)
		assert.Equal(t, events.TypeIntentCreated, resp.Events[0].EventType)
		for i, ev := range resp.Events {
			assert.Equal(t, int64(i+1), ev.Sequence)
		}
	})

	t.Run("event type filter", func(t *testing.T) {
		resp, err := svcs.Events.List(ctx, intent.ID, models.EventFilters{EventType: "tool_call"})
		require.NoError(t, err)
		require.Len(t, resp.Events, 1)
		assert.Equal(t, 1, resp.TotalCount)
	})

	t.Run("since filter", func(t *testing.T) {
		resp, err := svcs.Events.List(ctx, intent.ID, models.EventFilters{Since: &mid})
		require.NoError(t, err)
		require.Len(t, resp.Events, 1)
		assert.Equal(t, "observation", resp.Events[0].EventType)
	})

	t.Run("limit clamps to default", func(t *testing.T) {
		resp, err := svcs.Events.List(ctx, intent.ID, models.EventFilters{Limit: 5000})
		require.NoError(t, err)
		assert.Equal(t, 100, resp.Limit)
	})

	t.Run("offset pages", func(t *testing.T) {
		resp, err := svcs.Events.List(ctx, intent.ID, models.EventFilters{Ascending: true, Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, resp.Events, 1)
		assert.Equal(t, "observation", resp.Events[0].EventType)
		assert.Equal(t, 3, resp.TotalCount)
	})

	t.Run("unknown intent", func(t *testing.T) {
		_, err := svcs.Events.List(ctx, "no-such-intent", models.EventFilters{})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCatchupIntent(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()
	intent := createIntent(t, svcs, "agent-1", "caught-up")

	first, err := svcs.Events.Append(ctx, intent.ID, models.AppendEventRequest{EventType: "step_1"}, "agent-1")
	require.NoError(t, err)
	_, err = svcs.Events.Append(ctx, intent.ID, models.AppendEventRequest{EventType: "step_2"}, "agent-1")
	require.NoError(t, err)

	evs, err := svcs.Events.CatchupIntent(ctx, intent.ID, first.ID, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1, "only events after the cursor replay")
	assert.Equal(t, "step_2", evs[0].EventType)

	t.Run("from zero replays everything oldest first", func(t *testing.T) {
		evs, err := svcs.Events.CatchupIntent(ctx, intent.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, evs, 3)
		assert.Equal(t, events.TypeIntentCreated, evs[0].EventType)
	})

	t.Run("limit caps the page", func(t *testing.T) {
		evs, err := svcs.Events.CatchupIntent(ctx, intent.ID, 0, 2)
		require.NoError(t, err)
		assert.Len(t, evs, 2)
	})
}

func TestCatchupAgent(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()

	mine := createIntent(t, svcs, "agent-1", "mine")
	other := createIntent(t, svcs, "agent-2", "theirs")
	_, err := svcs.Assignments.Assign(ctx, other.ID, models.AssignAgentRequest{AgentID: "agent-1"}, "agent-2")
	require.NoError(t, err)

	evs, err := svcs.Events.CatchupAgent(ctx, "agent-1", 0, 0)
	require.NoError(t, err)

	intents := map[string]bool{}
	for _, ev := range evs {
		intents[ev.IntentID] = true
	}
	assert.True(t, intents[mine.ID], "events the agent acted on replay")
	assert.True(t, intents[other.ID], "events on intents assigned to the agent replay")
}

func TestCatchupPortfolio(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()

	member := createIntent(t, svcs, "alice", "member")
	outsider := createIntent(t, svcs, "alice", "outsider")

	portfolio, err := svcs.Portfolios.Create(ctx, models.CreatePortfolioRequest{Name: "launch"}, "alice")
	require.NoError(t, err)
	_, err = svcs.Portfolios.AddIntent(ctx, portfolio.ID, models.AddPortfolioIntentRequest{IntentID: member.ID}, "alice")
	require.NoError(t, err)

	evs, err := svcs.Events.CatchupPortfolio(ctx, portfolio.ID, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, evs)

	seen := map[string]bool{}
	for _, ev := range evs {
		seen[ev.IntentID] = true
	}
	assert.True(t, seen[member.ID])
	assert.False(t, seen[outsider.ID], "non-member events never replay")
}
