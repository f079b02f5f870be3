package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/models"
)

func TestAcquireLease(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()
	intent := createIntent(t, svcs, "agent-1", "leased")

	lease, err := svcs.Leases.Acquire(ctx, intent.ID, models.AcquireLeaseRequest{
		Scope:           "execution",
		DurationSeconds: 60,
	}, "agent-1")
	require.NoError(t, err)

	assert.NotEmpty(t, lease.ID)
	assert.Equal(t, "agent-1", lease.AgentID, "agent defaults to the caller")
	assert.Equal(t, "execution", lease.Scope)
	assert.Equal(t, models.LeaseActive, lease.Status)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Minute), lease.ExpiresAt, 5*time.Second)

	ev := lastEvent(t, svcs, intent.ID, events.TypeLeaseAcquired)
	assert.Equal(t, lease.ID, ev.Payload["lease_id"])
	assert.Equal(t, "execution", ev.Payload["scope"])
}

func TestAcquireLeaseValidation(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()
	intent := createIntent(t, svcs, "agent-1", "leased")

	tests := []struct {
		name    string
		req     models.AcquireLeaseRequest
		wantErr string
	}{
		{
			name:    "missing scope",
			req:     models.AcquireLeaseRequest{DurationSeconds: 60},
			wantErr: "scope",
		},
		{
			name:    "zero duration",
			req:     models.AcquireLeaseRequest{Scope: "execution"},
			wantErr: "must be between 1 and 86400",
		},
		{
			name:    "oversized duration",
			req:     models.AcquireLeaseRequest{Scope: "execution", DurationSeconds: 86401},
			wantErr: "must be between 1 and 86400",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svcs.Leases.Acquire(ctx, intent.ID, tc.req, "agent-1")
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("missing intent", func(t *testing.T) {
		_, err := svcs.Leases.Acquire(ctx, "no-such-intent", models.AcquireLeaseRequest{
			Scope:           "execution",
			DurationSeconds: 60,
		}, "agent-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAcquireLeaseConflict(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()
	intent := createIntent(t, svcs, "agent-1", "contested")

	held, err := svcs.Leases.Acquire(ctx, intent.ID, models.AcquireLeaseRequest{
		Scope:           "execution",
		DurationSeconds: 600,
	}, "agent-1")
	require.NoError(t, err)

	_, err = svcs.Leases.Acquire(ctx, intent.ID, models.AcquireLeaseRequest{
		Scope:           "execution",
		DurationSeconds: 600,
	}, "agent-2")
	require.ErrorIs(t, err, ErrLeaseConflict)
	assert.Contains(t, err.Error(), `scope "execution" held by agent-1`)

	t.Run("other scopes stay free", func(t *testing.T) {
		_, err := svcs.Leases.Acquire(ctx, intent.ID, models.AcquireLeaseRequest{
			Scope:           "review",
			DurationSeconds: 600,
		}, "agent-2")
		assert.NoError(t, err)
	})

	t.Run("released scope can be re-acquired", func(t *testing.T) {
		_, err := svcs.Leases.Release(ctx, intent.ID, held.ID, "agent-1")
		require.NoError(t, err)

		next, err := svcs.Leases.Acquire(ctx, intent.ID, models.AcquireLeaseRequest{
			Scope:           "execution",
			DurationSeconds: 600,
		}, "agent-2")
		require.NoError(t, err)
		assert.Equal(t, "agent-2", next.AgentID)
	})
}

func TestRenewLease(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()
	intent := createIntent(t, svcs, "agent-1", "renewable")

	lease, err := svcs.Leases.Acquire(ctx, intent.ID, models.AcquireLeaseRequest{
		Scope:           "execution",
		DurationSeconds: 30,
	}, "agent-1")
	require.NoError(t, err)

	renewed, err := svcs.Leases.Renew(ctx, intent.ID, lease.ID, models.RenewLeaseRequest{
		DurationSeconds: 3600,
	}, "agent-1")
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(lease.ExpiresAt), "renewal extends the deadline")

	t.Run("only the holder renews", func(t *testing.T) {
		_, err := svcs.Leases.Renew(ctx, intent.ID, lease.ID, models.RenewLeaseRequest{
			DurationSeconds: 3600,
		}, "agent-2")
		require.ErrorIs(t, err, ErrLeaseConflict)
		assert.Contains(t, err.Error(), "held by agent-1")
	})

	t.Run("released leases stay dead", func(t *testing.T) {
		_, err := svcs.Leases.Release(ctx, intent.ID, lease.ID, "agent-1")
		require.NoError(t, err)

		_, err = svcs.Leases.Renew(ctx, intent.ID, lease.ID, models.RenewLeaseRequest{
			DurationSeconds: 3600,
		}, "agent-1")
		require.ErrorIs(t, err, ErrLeaseConflict)
		assert.Contains(t, err.Error(), "is released")
	})
}

func TestReleaseLease(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()
	intent := createIntent(t, svcs, "agent-1", "releasable")

	lease, err := svcs.Leases.Acquire(ctx, intent.ID, models.AcquireLeaseRequest{
		Scope:           "execution",
		DurationSeconds: 600,
	}, "agent-1")
	require.NoError(t, err)

	released, err := svcs.Leases.Release(ctx, intent.ID, lease.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.LeaseReleased, released.Status)
	assert.NotNil(t, released.ReleasedAt)

	t.Run("double release is a no-op", func(t *testing.T) {
		_, err := svcs.Leases.Release(ctx, intent.ID, lease.ID, "agent-1")
		require.NoError(t, err)

		resp, err := svcs.Events.List(ctx, intent.ID, models.EventFilters{EventType: events.TypeLeaseReleased})
		require.NoError(t, err)
		assert.Len(t, resp.Events, 1, "no second lease_released event")
	})

	t.Run("only the holder releases", func(t *testing.T) {
		other, err := svcs.Leases.Acquire(ctx, intent.ID, models.AcquireLeaseRequest{
			Scope:           "review",
			DurationSeconds: 600,
		}, "agent-2")
		require.NoError(t, err)

		_, err = svcs.Leases.Release(ctx, intent.ID, other.ID, "agent-1")
		assert.ErrorIs(t, err, ErrLeaseConflict)
	})

	t.Run("unknown lease", func(t *testing.T) {
		_, err := svcs.Leases.Release(ctx, intent.ID, "no-such-lease", "agent-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListLeases(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()
	intent := createIntent(t, svcs, "agent-1", "listable")

	_, err := svcs.Leases.Acquire(ctx, intent.ID, models.AcquireLeaseRequest{
		Scope: "execution", DurationSeconds: 600,
	}, "agent-1")
	require.NoError(t, err)
	_, err = svcs.Leases.Acquire(ctx, intent.ID, models.AcquireLeaseRequest{
		Scope: "review", DurationSeconds: 600,
	}, "agent-2")
	require.NoError(t, err)

	all, err := svcs.Leases.List(ctx, intent.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := svcs.Leases.List(ctx, intent.ID, "review")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "agent-2", scoped[0].AgentID)
}

func TestSweepExpiredLeases(t *testing.T) {
	svcs, db := newTestServices(t)
	ctx := context.Background()
	intent := createIntent(t, svcs, "agent-1", "sweepable")

	stale, err := svcs.Leases.Acquire(ctx, intent.ID, models.AcquireLeaseRequest{
		Scope: "execution", DurationSeconds: 600,
	}, "agent-1")
	require.NoError(t, err)
	_, err = svcs.Leases.Acquire(ctx, intent.ID, models.AcquireLeaseRequest{
		Scope: "review", DurationSeconds: 600,
	}, "agent-2")
	require.NoError(t, err)

	// Age the first lease past its deadline.
	_, err = db.ExecContext(ctx, db.Rebind(
		`UPDATE intent_leases SET expires_at = ? WHERE id = ?`),
		time.Now().UTC().Add(-time.Minute), stale.ID)
	require.NoError(t, err)

	swept, err := svcs.Leases.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	ev := lastEvent(t, svcs, intent.ID, events.TypeLeaseReleased)
	assert.Equal(t, "expired", ev.Payload["reason"])
	assert.Equal(t, stale.ID, ev.Payload["lease_id"])
	assert.Equal(t, "agent-1", ev.Actor)

	t.Run("sweep is idempotent", func(t *testing.T) {
		again, err := svcs.Leases.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, again)
	})

	t.Run("swept scope can be re-acquired", func(t *testing.T) {
		_, err := svcs.Leases.Acquire(ctx, intent.ID, models.AcquireLeaseRequest{
			Scope: "execution", DurationSeconds: 600,
		}, "agent-3")
		assert.NoError(t, err)
	})
}
