package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openintent-protocol/openintent/pkg/events"
	"github.com/openintent-protocol/openintent/pkg/governance"
	"github.com/openintent-protocol/openintent/pkg/models"
	"github.com/openintent-protocol/openintent/pkg/patch"
)

func TestPutPolicy(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()
	intent := createIntent(t, svcs, "alice", "governed")

	updated, err := svcs.Governance.PutPolicy(ctx, intent.ID, 1, models.JSONMap{
		models.PolicyCompletionMode: "require_approval",
		models.PolicyMaxCost:        25.0,
	}, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version, "policy writes are versioned mutations")

	policy, err := svcs.Governance.GetPolicy(ctx, intent.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "require_approval", policy[models.PolicyCompletionMode])

	ev := lastEvent(t, svcs, intent.ID, events.TypePolicySet)
	assert.Equal(t, "alice", ev.Actor)

	t.Run("stale if-match", func(t *testing.T) {
		_, err := svcs.Governance.PutPolicy(ctx, intent.ID, 1, models.JSONMap{}, "alice")
		var conflict *VersionConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, int64(2), conflict.CurrentVersion)
	})

	t.Run("invalid policy", func(t *testing.T) {
		_, err := svcs.Governance.PutPolicy(ctx, intent.ID, 2, models.JSONMap{
			models.PolicyQuorumThreshold: 1.5,
		}, "alice")
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "quorum_threshold must be in (0,1]")
	})

	t.Run("requires admin", func(t *testing.T) {
		closeACL(t, svcs, intent.ID, "alice")
		_, err := svcs.Governance.PutPolicy(ctx, intent.ID, 2, models.JSONMap{}, "stranger")
		var perr *PermissionError
		assert.ErrorAs(t, err, &perr)
	})
}

func TestEffectivePolicyComposesPortfolios(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()

	intent, err := svcs.Intents.Create(ctx, models.CreateIntentRequest{
		Title:            "member",
		GovernancePolicy: models.JSONMap{models.PolicyMaxCost: 50.0},
	}, "alice")
	require.NoError(t, err)

	portfolio, err := svcs.Portfolios.Create(ctx, models.CreatePortfolioRequest{
		Name: "q3 launch",
		GovernancePolicy: models.JSONMap{
			models.PolicyCompletionMode: "require_approval",
			models.PolicyMaxCost:        10.0,
			models.PolicyWriteScope:     "assigned_only",
		},
	}, "alice")
	require.NoError(t, err)
	_, err = svcs.Portfolios.AddIntent(ctx, portfolio.ID, models.AddPortfolioIntentRequest{
		IntentID: intent.ID,
	}, "alice")
	require.NoError(t, err)

	effective, err := svcs.Governance.EffectivePolicy(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompletionRequireApproval, effective.CompletionMode)
	assert.Equal(t, models.WriteScopeAssignedOnly, effective.WriteScope)
	assert.True(t, effective.HasMaxCost)
	assert.InDelta(t, 10.0, effective.MaxCost, 0, "the lowest ceiling wins")
}

func TestCompletionRequiresApproval(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()

	intent, err := svcs.Intents.Create(ctx, models.CreateIntentRequest{
		Title:            "gated",
		GovernancePolicy: models.JSONMap{models.PolicyCompletionMode: "require_approval"},
	}, "alice")
	require.NoError(t, err)

	_, err = svcs.Intents.SetStatus(ctx, intent.ID, 1, models.SetStatusRequest{Status: models.StatusCompleted}, "alice")
	require.Error(t, err)
	var violation *governance.Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, models.PolicyCompletionMode, violation.Rule)

	// The violation outlives the rolled-back transition.
	ev := lastEvent(t, svcs, intent.ID, events.TypeViolation)
	assert.Equal(t, "set_status", ev.Payload["attempted_operation"])

	got, err := svcs.Intents.Get(ctx, intent.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, got.Status)
	assert.Equal(t, int64(1), got.Version)

	approval, err := svcs.Governance.CreateApproval(ctx, intent.ID, models.CreateApprovalRequest{
		Action: governance.ActionComplete,
	}, "bob")
	require.NoError(t, err)
	_, err = svcs.Governance.DecideApproval(ctx, intent.ID, approval.ID, true, models.DecideRequest{}, "alice")
	require.NoError(t, err)

	done, err := svcs.Intents.SetStatus(ctx, intent.ID, 1, models.SetStatusRequest{Status: models.StatusCompleted}, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
}

func TestApprovalGoesStaleAfterPatch(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()

	intent, err := svcs.Intents.Create(ctx, models.CreateIntentRequest{
		Title:            "reviewed",
		GovernancePolicy: models.JSONMap{models.PolicyCompletionMode: "require_approval"},
	}, "alice")
	require.NoError(t, err)

	approval, err := svcs.Governance.CreateApproval(ctx, intent.ID, models.CreateApprovalRequest{
		Action: governance.ActionComplete,
	}, "alice")
	require.NoError(t, err)
	_, err = svcs.Governance.DecideApproval(ctx, intent.ID, approval.ID, true, models.DecideRequest{}, "alice")
	require.NoError(t, err)

	// State moved after the sign-off, so the approval no longer covers it.
	_, err = svcs.Intents.PatchState(ctx, intent.ID, 1, []patch.Op{
		{Op: patch.OpSet, Path: "result", Value: "v2"},
	}, "alice")
	require.NoError(t, err)

	_, err = svcs.Intents.SetStatus(ctx, intent.ID, 2, models.SetStatusRequest{Status: models.StatusCompleted}, "alice")
	var violation *governance.Violation
	require.ErrorAs(t, err, &violation)

	fresh, err := svcs.Governance.CreateApproval(ctx, intent.ID, models.CreateApprovalRequest{
		Action: governance.ActionComplete,
	}, "alice")
	require.NoError(t, err)
	_, err = svcs.Governance.DecideApproval(ctx, intent.ID, fresh.ID, true, models.DecideRequest{}, "alice")
	require.NoError(t, err)

	_, err = svcs.Intents.SetStatus(ctx, intent.ID, 2, models.SetStatusRequest{Status: models.StatusCompleted}, "alice")
	assert.NoError(t, err)
}

func TestQuorumCompletion(t *testing.T) {
	ctx := context.Background()

	newQuorumIntent := func(t *testing.T, svcs *Services, threshold float64) *models.Intent {
		t.Helper()
		intent, err := svcs.Intents.Create(ctx, models.CreateIntentRequest{
			Title: "voted",
			GovernancePolicy: models.JSONMap{
				models.PolicyCompletionMode:  "quorum",
				models.PolicyQuorumThreshold: threshold,
			},
		}, "alice")
		require.NoError(t, err)
		return intent
	}

	addApproval := func(t *testing.T, svcs *Services, intentID string, approve bool) {
		t.Helper()
		a, err := svcs.Governance.CreateApproval(ctx, intentID, models.CreateApprovalRequest{
			Action: governance.ActionComplete,
		}, "alice")
		require.NoError(t, err)
		if approve {
			_, err = svcs.Governance.DecideApproval(ctx, intentID, a.ID, true, models.DecideRequest{}, "alice")
			require.NoError(t, err)
		}
	}

	t.Run("threshold met", func(t *testing.T) {
		svcs, _ := newTestServices(t)
		intent := newQuorumIntent(t, svcs, 0.5)
		addApproval(t, svcs, intent.ID, true)
		addApproval(t, svcs, intent.ID, false)

		_, err := svcs.Intents.SetStatus(ctx, intent.ID, 1, models.SetStatusRequest{Status: models.StatusCompleted}, "alice")
		assert.NoError(t, err)
	})

	t.Run("threshold missed", func(t *testing.T) {
		svcs, _ := newTestServices(t)
		intent := newQuorumIntent(t, svcs, 0.6)
		addApproval(t, svcs, intent.ID, true)
		addApproval(t, svcs, intent.ID, false)

		_, err := svcs.Intents.SetStatus(ctx, intent.ID, 1, models.SetStatusRequest{Status: models.StatusCompleted}, "alice")
		var violation *governance.Violation
		require.ErrorAs(t, err, &violation)
		assert.Contains(t, violation.Reason, "quorum not met")
	})

	t.Run("no approvals at all", func(t *testing.T) {
		svcs, _ := newTestServices(t)
		intent := newQuorumIntent(t, svcs, 0.5)

		_, err := svcs.Intents.SetStatus(ctx, intent.ID, 1, models.SetStatusRequest{Status: models.StatusCompleted}, "alice")
		var violation *governance.Violation
		assert.ErrorAs(t, err, &violation)
	})
}

func TestWriteScopeAssignedOnly(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()

	intent, err := svcs.Intents.Create(ctx, models.CreateIntentRequest{
		Title:            "scoped",
		GovernancePolicy: models.JSONMap{models.PolicyWriteScope: "assigned_only"},
	}, "alice")
	require.NoError(t, err)

	// Even the creator is bound by write scoping.
	_, err = svcs.Intents.PatchState(ctx, intent.ID, 1, []patch.Op{
		{Op: patch.OpSet, Path: "x", Value: 1},
	}, "alice")
	var violation *governance.Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, models.PolicyWriteScope, violation.Rule)

	_, err = svcs.Assignments.Assign(ctx, intent.ID, models.AssignAgentRequest{AgentID: "bob"}, "alice")
	require.NoError(t, err)

	// Assigning to a draft activates it, so the version moved to 2.
	_, err = svcs.Intents.PatchState(ctx, intent.ID, 2, []patch.Op{
		{Op: patch.OpSet, Path: "x", Value: 1},
	}, "bob")
	assert.NoError(t, err)

	_, err = svcs.Intents.PatchState(ctx, intent.ID, 3, []patch.Op{
		{Op: patch.OpSet, Path: "x", Value: 2},
	}, "alice")
	assert.ErrorAs(t, err, &violation, "unassigned writers stay blocked")
}

func TestCreateApproval(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()
	intent := createIntent(t, svcs, "alice", "approvable")

	approval, err := svcs.Governance.CreateApproval(ctx, intent.ID, models.CreateApprovalRequest{
		Action: "deploy",
		Reason: "prod rollout",
	}, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", approval.RequestedBy, "requester defaults to the caller")
	assert.Equal(t, models.ApprovalPending, approval.Status)

	ev := lastEvent(t, svcs, intent.ID, events.TypeApprovalRequested)
	assert.Equal(t, approval.ID, ev.Payload["approval_id"])
	assert.Equal(t, "deploy", ev.Payload["action"])

	t.Run("action required", func(t *testing.T) {
		_, err := svcs.Governance.CreateApproval(ctx, intent.ID, models.CreateApprovalRequest{}, "bob")
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("unknown intent", func(t *testing.T) {
		_, err := svcs.Governance.CreateApproval(ctx, "no-such-intent", models.CreateApprovalRequest{Action: "deploy"}, "bob")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDecideApproval(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()
	intent := createIntent(t, svcs, "alice", "decidable")

	approval, err := svcs.Governance.CreateApproval(ctx, intent.ID, models.CreateApprovalRequest{Action: "deploy"}, "bob")
	require.NoError(t, err)

	decided, err := svcs.Governance.DecideApproval(ctx, intent.ID, approval.ID, true,
		models.DecideRequest{Reason: "reviewed"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, decided.Status)
	require.NotNil(t, decided.DecidedBy)
	assert.Equal(t, "alice", *decided.DecidedBy)

	ev := lastEvent(t, svcs, intent.ID, events.TypeApprovalGranted)
	assert.Equal(t, "reviewed", ev.Payload["reason"])

	t.Run("already decided", func(t *testing.T) {
		_, err := svcs.Governance.DecideApproval(ctx, intent.ID, approval.ID, false, models.DecideRequest{}, "alice")
		assert.ErrorIs(t, err, ErrAlreadyDecided)
	})

	t.Run("denial", func(t *testing.T) {
		second, err := svcs.Governance.CreateApproval(ctx, intent.ID, models.CreateApprovalRequest{Action: "deploy"}, "bob")
		require.NoError(t, err)

		decided, err := svcs.Governance.DecideApproval(ctx, intent.ID, second.ID, false, models.DecideRequest{}, "alice")
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalDenied, decided.Status)
	})

	t.Run("requires admin", func(t *testing.T) {
		closeACL(t, svcs, intent.ID, "alice")
		third, err := svcs.Governance.CreateApproval(ctx, intent.ID, models.CreateApprovalRequest{Action: "deploy"}, "alice")
		require.NoError(t, err)

		_, err = svcs.Governance.DecideApproval(ctx, intent.ID, third.ID, true, models.DecideRequest{}, "stranger")
		var perr *PermissionError
		assert.ErrorAs(t, err, &perr)
	})

	t.Run("unknown approval", func(t *testing.T) {
		_, err := svcs.Governance.DecideApproval(ctx, intent.ID, "no-such-approval", true, models.DecideRequest{}, "alice")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list newest first", func(t *testing.T) {
		resp, err := svcs.Governance.ListApprovals(ctx, intent.ID, "alice")
		require.NoError(t, err)
		require.Len(t, resp.Approvals, 3)
	})
}
