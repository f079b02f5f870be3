package governance

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openintent-protocol/openintent/pkg/models"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		raw     models.JSONMap
		wantErr string
		check   func(t *testing.T, p Policy)
	}{
		{
			name: "empty map",
			raw:  models.JSONMap{},
			check: func(t *testing.T, p Policy) {
				assert.Equal(t, Policy{}, p)
			},
		},
		{
			name: "full policy",
			raw: models.JSONMap{
				"completion_mode":  "quorum",
				"quorum_threshold": 0.5,
				"write_scope":      "assigned_only",
				"max_cost":         25.0,
			},
			check: func(t *testing.T, p Policy) {
				assert.Equal(t, models.CompletionQuorum, p.CompletionMode)
				assert.Equal(t, 0.5, p.QuorumThreshold)
				assert.Equal(t, models.WriteScopeAssignedOnly, p.WriteScope)
				assert.True(t, p.HasMaxCost)
				assert.Equal(t, 25.0, p.MaxCost)
			},
		},
		{
			name: "unknown keys tolerated",
			raw:  models.JSONMap{"custom_rule": "whatever"},
			check: func(t *testing.T, p Policy) {
				assert.Equal(t, Policy{}, p)
			},
		},
		{
			name:    "bad completion mode",
			raw:     models.JSONMap{"completion_mode": "unanimous"},
			wantErr: "invalid completion_mode",
		},
		{
			name:    "completion mode wrong type",
			raw:     models.JSONMap{"completion_mode": 3},
			wantErr: "must be a string",
		},
		{
			name:    "quorum threshold out of range",
			raw:     models.JSONMap{"quorum_threshold": 1.5},
			wantErr: "quorum_threshold must be in (0,1]",
		},
		{
			name:    "quorum threshold zero",
			raw:     models.JSONMap{"quorum_threshold": 0.0},
			wantErr: "quorum_threshold must be in (0,1]",
		},
		{
			name:    "bad write scope",
			raw:     models.JSONMap{"write_scope": "owners"},
			wantErr: "invalid write_scope",
		},
		{
			name:    "negative max cost",
			raw:     models.JSONMap{"max_cost": -1.0},
			wantErr: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePolicy(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestCompose(t *testing.T) {
	intent := Policy{CompletionMode: models.CompletionAuto, MaxCost: 100, HasMaxCost: true}
	portfolio := Policy{
		CompletionMode:  models.CompletionRequireApproval,
		WriteScope:      models.WriteScopeAssignedOnly,
		MaxCost:         50,
		HasMaxCost:      true,
		QuorumThreshold: 0.75,
	}

	out := Compose(intent, portfolio)
	assert.Equal(t, models.CompletionRequireApproval, out.CompletionMode, "stricter mode wins")
	assert.Equal(t, models.WriteScopeAssignedOnly, out.WriteScope)
	assert.Equal(t, 50.0, out.MaxCost, "lower ceiling wins")
	assert.Equal(t, 0.75, out.QuorumThreshold, "higher threshold wins")

	// Composition never loosens.
	strict := Policy{CompletionMode: models.CompletionQuorum, QuorumThreshold: 1}
	out = Compose(strict, Policy{CompletionMode: models.CompletionAuto})
	assert.Equal(t, models.CompletionQuorum, out.CompletionMode)
	assert.Equal(t, 1.0, out.QuorumThreshold)
}

func approvedAt(at time.Time) *models.Approval {
	return &models.Approval{
		Action:    ActionComplete,
		Status:    models.ApprovalApproved,
		DecidedAt: &at,
	}
}

func TestCheckCompletionRequireApproval(t *testing.T) {
	p := Policy{CompletionMode: models.CompletionRequireApproval}
	now := time.Now().UTC()
	earlier := now.Add(-time.Hour)

	t.Run("no approvals", func(t *testing.T) {
		err := p.CheckCompletion(nil, nil)
		var v *Violation
		require.ErrorAs(t, err, &v)
		assert.Equal(t, "completion_mode", v.Rule)
	})

	t.Run("pending approval does not count", func(t *testing.T) {
		pending := &models.Approval{Action: ActionComplete, Status: models.ApprovalPending}
		assert.Error(t, p.CheckCompletion([]*models.Approval{pending}, nil))
	})

	t.Run("approved approval passes", func(t *testing.T) {
		assert.NoError(t, p.CheckCompletion([]*models.Approval{approvedAt(now)}, nil))
	})

	t.Run("approval stale after later patch", func(t *testing.T) {
		assert.Error(t, p.CheckCompletion([]*models.Approval{approvedAt(earlier)}, &now))
	})

	t.Run("approval decided after patch stays current", func(t *testing.T) {
		assert.NoError(t, p.CheckCompletion([]*models.Approval{approvedAt(now)}, &earlier))
	})

	t.Run("approval for other action is ignored", func(t *testing.T) {
		other := &models.Approval{Action: "escalate", Status: models.ApprovalApproved, DecidedAt: &now}
		assert.Error(t, p.CheckCompletion([]*models.Approval{other}, nil))
	})
}

func TestCheckCompletionQuorum(t *testing.T) {
	p := Policy{CompletionMode: models.CompletionQuorum, QuorumThreshold: 0.5}
	now := time.Now().UTC()

	denied := &models.Approval{Action: ActionComplete, Status: models.ApprovalDenied, DecidedAt: &now}

	t.Run("no approvals fails", func(t *testing.T) {
		assert.Error(t, p.CheckCompletion(nil, nil))
	})

	t.Run("half approved meets 0.5", func(t *testing.T) {
		err := p.CheckCompletion([]*models.Approval{approvedAt(now), denied}, nil)
		assert.NoError(t, err)
	})

	t.Run("below threshold fails", func(t *testing.T) {
		err := p.CheckCompletion([]*models.Approval{approvedAt(now), denied, denied}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "quorum not met")
	})
}

func TestCheckCompletionAutoAlwaysPasses(t *testing.T) {
	assert.NoError(t, Policy{}.CheckCompletion(nil, nil))
	assert.NoError(t, Policy{CompletionMode: models.CompletionAuto}.CheckCompletion(nil, nil))
}

func TestCheckWriteScope(t *testing.T) {
	open := Policy{}
	assert.NoError(t, open.CheckWriteScope("anyone", nil))

	scoped := Policy{WriteScope: models.WriteScopeAssignedOnly}
	assert.NoError(t, scoped.CheckWriteScope("agent-a", []string{"agent-a", "agent-b"}))

	err := scoped.CheckWriteScope("outsider", []string{"agent-a"})
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "write_scope", v.Rule)
}

func TestCheckCost(t *testing.T) {
	unlimited := Policy{}
	assert.NoError(t, unlimited.CheckCost(1000, 1000))

	capped := Policy{MaxCost: 10, HasMaxCost: true}
	assert.NoError(t, capped.CheckCost(4, 6), "exactly at the ceiling passes")

	err := capped.CheckCost(4, 6.01)
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "max_cost", v.Rule)

	zero := Policy{MaxCost: 0, HasMaxCost: true}
	assert.Error(t, zero.CheckCost(0, 0.01), "zero ceiling blocks any spend")
	assert.NoError(t, zero.CheckCost(0, 0))
}

func TestViolationIsError(t *testing.T) {
	var err error = &Violation{Rule: "write_scope", Reason: "nope"}
	assert.Contains(t, err.Error(), "write_scope")

	var v *Violation
	assert.True(t, errors.As(err, &v))
}
